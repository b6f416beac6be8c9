// Package pcap reads capture files and turns packets into feature vectors for
// the isolation forest and into packet-rate series for the sequence detectors.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrNotInitialized is returned by a Reader that has been closed.
var ErrNotInitialized = errors.New("reader not initialized")

// source is satisfied by both the pcap and the pcapng readers of pcapgo.
type source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	file      *os.File
	src       source
	extractor *FeatureExtractor
}

// NewFileReader opens a capture file. Both the classic pcap and the pcapng
// formats are accepted.
func NewFileReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	src, err := openSource(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read capture %s: %w", filename, err)
	}

	return &Reader{
		file:      file,
		src:       src,
		extractor: NewFeatureExtractor(),
	}, nil
}

func openSource(file *os.File) (source, error) {
	r, err := pcapgo.NewReader(file)
	if err == nil {
		return r, nil
	}

	if _, serr := file.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, errors.Join(err, ngErr)
	}
	return ng, nil
}

func (r *Reader) packets() (*gopacket.PacketSource, error) {
	if r.src == nil {
		return nil, ErrNotInitialized
	}
	ps := gopacket.NewPacketSource(r.src, r.src.LinkType())
	ps.DecodeOptions = gopacket.DecodeOptions{Lazy: true}
	return ps, nil
}

// Read returns all packets as feature vectors.
func (r *Reader) Read() ([][]float64, error) {
	ps, err := r.packets()
	if err != nil {
		return nil, err
	}

	var data [][]float64
	for packet := range ps.Packets() {
		data = append(data, r.extractor.Extract(packet))
	}

	return data, nil
}

// Stream returns a channel of feature vectors for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	ps, err := r.packets()
	if err != nil {
		return nil, err
	}

	out := make(chan []float64, 1000)
	packets := ps.Packets()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packets:
				if !ok {
					return
				}
				select {
				case out <- r.extractor.Extract(packet):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// RateSeries consumes the remaining packets and returns the number of packets
// seen in each consecutive interval, starting at the first packet. Empty
// intervals count as zero.
func (r *Reader) RateSeries(interval time.Duration) ([]float64, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	ps, err := r.packets()
	if err != nil {
		return nil, err
	}

	var (
		start  time.Time
		series []float64
	)
	for packet := range ps.Packets() {
		ts := packet.Metadata().Timestamp
		if start.IsZero() {
			start = ts
		}
		bucket := int(math.Max(0, float64(ts.Sub(start)/interval)))
		for len(series) <= bucket {
			series = append(series, 0)
		}
		series[bucket]++
	}

	return series, nil
}

// FeatureNames returns the names of the extracted features.
func (r *Reader) FeatureNames() []string {
	return r.extractor.FeatureNames()
}

// Close releases resources.
func (r *Reader) Close() error {
	r.src = nil
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

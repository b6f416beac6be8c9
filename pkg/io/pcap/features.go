package pcap

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Feature positions in the vectors produced by FeatureExtractor.
const (
	FeaturePacketSize = iota
	FeatureInterArrival
	FeatureProtocol
	FeatureSrcPort
	FeatureDstPort
	FeatureTCPFlags
	FeatureTTL
	FeaturePayloadSize

	NumFeatures
)

// IANA protocol numbers.
const (
	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)

var featureNames = [NumFeatures]string{
	"packet_size",
	"inter_arrival_time",
	"protocol",
	"src_port",
	"dst_port",
	"tcp_flags",
	"ip_ttl",
	"payload_size",
}

// FeatureExtractor extracts numerical features from network packets. It
// remembers the previous timestamp, so one extractor serves one capture.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract converts a packet to a feature vector of NumFeatures values.
func (e *FeatureExtractor) Extract(packet gopacket.Packet) []float64 {
	features := make([]float64, NumFeatures)

	features[FeaturePacketSize] = float64(len(packet.Data()))

	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[FeatureInterArrival] = md.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = md.Timestamp
	}

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		features[FeatureProtocol] = protoTCP
		features[FeatureSrcPort] = float64(tcp.SrcPort)
		features[FeatureDstPort] = float64(tcp.DstPort)
		features[FeatureTCPFlags] = encodeTCPFlags(tcp)
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		features[FeatureProtocol] = protoUDP
		features[FeatureSrcPort] = float64(udp.SrcPort)
		features[FeatureDstPort] = float64(udp.DstPort)
	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		features[FeatureProtocol] = protoICMP
	case packet.Layer(layers.LayerTypeICMPv6) != nil:
		features[FeatureProtocol] = protoICMPv6
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		features[FeatureTTL] = float64(l.(*layers.IPv4).TTL)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		features[FeatureTTL] = float64(l.(*layers.IPv6).HopLimit)
	}

	if app := packet.ApplicationLayer(); app != nil {
		features[FeaturePayloadSize] = float64(len(app.Payload()))
	}

	return features
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return append([]string(nil), featureNames[:]...)
}

// encodeTCPFlags packs the TCP flags into a bit set.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags int
	for i, set := range []bool{tcp.SYN, tcp.ACK, tcp.FIN, tcp.RST, tcp.PSH, tcp.URG} {
		if set {
			flags |= 1 << i
		}
	}
	return float64(flags)
}

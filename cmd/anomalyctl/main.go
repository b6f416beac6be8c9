// Command anomalyctl runs the anomaly detectors over CSV series and packet
// captures.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package guard

import (
	"io"
	"math"
)

// EntropySampleSize caps how much of a file the detector reads.
const EntropySampleSize = 8 * 1024

// ShannonEntropy returns the entropy of data in bits per byte, in [0, 8].
// Empty input has entropy 0.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	total := float64(len(data))
	var h float64
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		h -= p * math.Log2(p)
	}
	return h
}

// readSample reads at most EntropySampleSize bytes from the start of r.
func readSample(r io.Reader) ([]byte, error) {
	buf := make([]byte, EntropySampleSize)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return buf[:n], err
}

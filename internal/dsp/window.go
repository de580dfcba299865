package dsp

import (
	"math"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// FullScale is the magnitude of a full-scale sc16 component.
const FullScale = 32768.0

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// ApplyWindow converts samples to complex128 and multiplies them by window.
// The window length must match the input length.
func ApplyWindow(dst []complex128, samples []sdr.Sample, window []float64) []complex128 {
	if len(samples) != len(window) {
		return dst[:0]
	}
	if cap(dst) < len(samples) {
		dst = make([]complex128, len(samples))
	}
	dst = dst[:len(samples)]
	for i, s := range samples {
		dst[i] = complex(float64(s.I)*window[i], float64(s.Q)*window[i])
	}
	return dst
}

package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	return append(shifted, data[:half]...)
}

// SpectrumDBFS windows samples with a Hamming window, transforms them and
// returns the DC-centred magnitude of every bin in dBFS.
func SpectrumDBFS(samples []sdr.Sample) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	win := Hamming(len(samples))
	windowed := ApplyWindow(nil, samples, win)
	coeff := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	return toDBFS(FFTShift(coeff), floats.Sum(win))
}

func toDBFS(bins []complex128, norm float64) []float64 {
	out := make([]float64, len(bins))
	for i, v := range bins {
		mag := cmplx.Abs(v) / norm
		if mag == 0 {
			out[i] = math.Inf(-1)
			continue
		}
		out[i] = 20 * math.Log10(mag/FullScale)
	}
	return out
}

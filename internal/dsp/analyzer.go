package dsp

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// BlockStats summarises one block of samples.
type BlockStats struct {
	Samples   int
	PowerDBFS float64 // mean I²+Q² relative to full scale
	PeakBin   int     // index into the DC-centred spectrum
	PeakDBFS  float64
	PeakHz    float64 // offset of the strongest bin from the centre frequency
}

// Analyzer computes BlockStats, caching the window and FFT plan for the most
// recent block length. Partial blocks get a plan of their own size.
type Analyzer struct {
	mu        sync.Mutex
	size      int
	window    []float64
	windowSum float64
	fft       *fourier.CmplxFFT
	work      []complex128
	coeff     []complex128
}

func NewAnalyzer(size int) *Analyzer {
	a := &Analyzer{}
	if size > 0 {
		a.resize(size)
	}
	return a
}

func (a *Analyzer) resize(size int) {
	a.size = size
	a.window = Hamming(size)
	a.windowSum = floats.Sum(a.window)
	a.fft = fourier.NewCmplxFFT(size)
	a.work = make([]complex128, size)
	a.coeff = make([]complex128, size)
}

// Size returns the FFT length currently cached.
func (a *Analyzer) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Analyze computes power and spectral peak for samples taken at sampleRate.
func (a *Analyzer) Analyze(samples []sdr.Sample, sampleRate float64) BlockStats {
	st := BlockStats{Samples: len(samples), PowerDBFS: math.Inf(-1), PeakDBFS: math.Inf(-1)}
	if len(samples) == 0 {
		return st
	}
	st.PowerDBFS = PowerDBFS(samples)

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) != a.size {
		a.resize(len(samples))
	}
	a.work = ApplyWindow(a.work, samples, a.window)
	a.coeff = a.fft.Coefficients(a.coeff, a.work)
	db := toDBFS(FFTShift(a.coeff), a.windowSum)

	st.PeakBin = floats.MaxIdx(db)
	st.PeakDBFS = db[st.PeakBin]
	if sampleRate > 0 {
		st.PeakHz = float64(st.PeakBin-len(db)/2) * sampleRate / float64(len(db))
	}
	return st
}

// PowerDBFS is the mean power of samples relative to a full-scale tone.
func PowerDBFS(samples []sdr.Sample) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		i, q := float64(s.I), float64(s.Q)
		sum += i*i + q*q
	}
	mean := sum / float64(len(samples))
	if mean == 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mean/(FullScale*FullScale))
}

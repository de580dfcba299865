package dsp

import (
	"math"
	"testing"

	"github.com/rjboer/rxcapture/internal/sdr"
)

func tone(n int, cyclesPerBlock float64, amplitude float64) []sdr.Sample {
	out := make([]sdr.Sample, n)
	for i := range out {
		phase := 2 * math.Pi * cyclesPerBlock * float64(i) / float64(n)
		out[i] = sdr.Sample{I: int16(math.Round(amplitude * math.Cos(phase))), Q: int16(math.Round(amplitude * math.Sin(phase)))}
	}
	return out
}

func TestSpectrumDBFSPeak(t *testing.T) {
	n := 8
	db := SpectrumDBFS(tone(n, 1, 16384))
	if len(db) != n {
		t.Fatalf("unexpected length %d", len(db))
	}
	maxIdx := 0
	for i, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("dbfs contains NaN")
		}
		if v > db[maxIdx] {
			maxIdx = i
		}
	}
	if expected := n/2 + 1; maxIdx != expected {
		t.Fatalf("expected peak at %d got %d", expected, maxIdx)
	}
	if math.Abs(db[maxIdx]-(-6.02)) > 0.1 {
		t.Fatalf("expected half-scale peak near -6 dBFS, got %.2f", db[maxIdx])
	}
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
	if in[0] != 0 {
		t.Fatalf("input modified")
	}
}

func TestAnalyzerReportsPowerAndPeak(t *testing.T) {
	const (
		n    = 64
		rate = 64e3
	)
	a := NewAnalyzer(n)
	st := a.Analyze(tone(n, 8, 8192), rate)
	if st.Samples != n {
		t.Fatalf("unexpected sample count %d", st.Samples)
	}
	if math.Abs(st.PowerDBFS-(-12.04)) > 0.1 {
		t.Fatalf("expected power near -12 dBFS, got %.2f", st.PowerDBFS)
	}
	if st.PeakHz != 8e3 {
		t.Fatalf("expected peak at 8 kHz, got %v (bin %d)", st.PeakHz, st.PeakBin)
	}

	partial := a.Analyze(tone(16, -2, 8192), 16e3)
	if a.Size() != 16 || partial.PeakHz != -2e3 {
		t.Fatalf("partial block: size %d peak %v", a.Size(), partial.PeakHz)
	}
}

func TestAnalyzerSilentBlock(t *testing.T) {
	st := NewAnalyzer(0).Analyze(make([]sdr.Sample, 8), 1e3)
	if !math.IsInf(st.PowerDBFS, -1) || !math.IsInf(st.PeakDBFS, -1) {
		t.Fatalf("expected -Inf for silence, got %+v", st)
	}
	if empty := NewAnalyzer(4).Analyze(nil, 1e3); empty.Samples != 0 {
		t.Fatalf("unexpected stats %+v", empty)
	}
}

package acquisition

import (
	"fmt"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// FramePair owns the two ping-pong sample buffers. Both are allocated once
// with the same capacity and are never resized.
type FramePair struct {
	bufs [2][]sdr.Sample
}

// NewFramePair allocates two buffers of n samples each.
func NewFramePair(n int) (*FramePair, error) {
	if n <= 0 {
		return nil, fmt.Errorf("frame capacity must be positive, got %d", n)
	}
	return &FramePair{bufs: [2][]sdr.Sample{make([]sdr.Sample, n), make([]sdr.Sample, n)}}, nil
}

// Buffer returns buffer i (0 or 1) at full capacity. Only the first Count
// samples of the matching Frame are live; the rest may be stale.
func (p *FramePair) Buffer(i int) []sdr.Sample {
	return p.bufs[i&1]
}

// Capacity is the fixed number of samples per buffer.
func (p *FramePair) Capacity() int { return len(p.bufs[0]) }

// IndexOf reports which buffer buf starts at, or -1.
func (p *FramePair) IndexOf(buf []sdr.Sample) int {
	if len(buf) == 0 {
		return -1
	}
	for i := range p.bufs {
		if &p.bufs[i][0] == &buf[0] {
			return i
		}
	}
	return -1
}

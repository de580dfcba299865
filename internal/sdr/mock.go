package sdr

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Step is one scripted Receive outcome for MockSource.
type Step struct {
	Count int           // samples to deliver, clipped to the buffer length
	Meta  Metadata      // status returned with the block
	Delay time.Duration // time spent inside Receive; capped by its timeout
}

// MockOptions tunes the synthetic signal of a MockSource.
type MockOptions struct {
	ToneOffset float64 // Hz relative to the centre frequency
	Amplitude  float64 // full scale is 32767
	NoiseStd   float64 // standard deviation of the added noise, in counts
	Realtime   bool    // pace Receive at the configured sample rate
	Script     []Step  // consumed in order before falling back to full OK blocks
	Seed       int64
	// OnReceive is called at the start of every Receive with the call number
	// (starting at 1) and the target buffer. Intended for instrumentation.
	OnReceive func(call int, buf []Sample)
}

// MockSource synthesizes a complex tone with optional scripted statuses.
type MockSource struct {
	mu        sync.RWMutex
	cfg       Config
	caps      Capabilities
	opts      MockOptions
	rng       *rand.Rand
	phase     float64
	devTime   time.Duration
	step      int
	streaming bool

	receives atomic.Int64
	starts   atomic.Int64
	stops    atomic.Int64
}

// DefaultCapabilities are loose ranges typical for a USRP-class receiver.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Rate:      Range{Min: 1e3, Max: 61.44e6},
		Frequency: Range{Min: 50e6, Max: 6e9},
		Gain:      Range{Min: 0, Max: 76, Step: 0.5},
	}
}

var errStreaming = errors.New("source is streaming")

func NewMock(opts MockOptions) *MockSource {
	if opts.Amplitude == 0 {
		opts.Amplitude = 8192
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockSource{
		caps: DefaultCapabilities(),
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (m *MockSource) Configure(_ context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return &ConfigError{Param: "stream", Err: errStreaming}
	}
	if err := m.caps.Validate(cfg); err != nil {
		return err
	}
	cfg.Gain = m.caps.Gain.Clip(cfg.Gain)
	m.cfg = cfg
	return nil
}

// Actual returns the configuration in effect after rounding.
func (m *MockSource) Actual() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *MockSource) StartStreaming(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return errStreaming
	}
	m.streaming = true
	m.starts.Add(1)
	return nil
}

func (m *MockSource) StopStreaming() error {
	m.mu.Lock()
	m.streaming = false
	m.mu.Unlock()
	m.stops.Add(1)
	return nil
}

func (m *MockSource) Close() error { return nil }

// Receives, Starts and Stops count the calls made so far.
func (m *MockSource) Receives() int { return int(m.receives.Load()) }
func (m *MockSource) Starts() int   { return int(m.starts.Load()) }
func (m *MockSource) Stops() int    { return int(m.stops.Load()) }

func (m *MockSource) Receive(buf []Sample, timeout time.Duration) (int, Metadata) {
	call := int(m.receives.Add(1))
	if m.opts.OnReceive != nil {
		m.opts.OnReceive(call, buf)
	}

	m.mu.Lock()
	streaming := m.streaming
	step, scripted := m.nextStepLocked(len(buf))
	m.mu.Unlock()

	if !streaming {
		sleep(timeout)
		return 0, Metadata{ErrorCode: ErrorTimeout}
	}

	if scripted && step.Delay > 0 {
		if step.Delay >= timeout {
			sleep(timeout)
			return 0, Metadata{ErrorCode: ErrorTimeout}
		}
		sleep(step.Delay)
	}

	m.mu.Lock()
	n := step.Count
	if n > len(buf) {
		n = len(buf)
	}
	m.synthesizeLocked(buf[:n])
	meta := step.Meta
	if meta.ErrorCode == ErrorNone && !scripted {
		meta.HasTimeSpec = true
	}
	if meta.HasTimeSpec && meta.TimeSpec == 0 {
		meta.TimeSpec = m.devTime
	}
	var blockTime time.Duration
	if m.cfg.SampleRate > 0 {
		blockTime = time.Duration(float64(n) / m.cfg.SampleRate * float64(time.Second))
		m.devTime += blockTime
	}
	m.mu.Unlock()

	if m.opts.Realtime && !scripted {
		sleep(min(blockTime, timeout))
	}
	return n, meta
}

func (m *MockSource) nextStepLocked(capacity int) (Step, bool) {
	if m.step < len(m.opts.Script) {
		s := m.opts.Script[m.step]
		m.step++
		return s, true
	}
	return Step{Count: capacity}, false
}

func (m *MockSource) synthesizeLocked(dst []Sample) {
	rate := m.cfg.SampleRate
	if rate == 0 {
		rate = 1e6
	}
	phaseStep := 2 * math.Pi * m.opts.ToneOffset / rate
	for i := range dst {
		re := m.opts.Amplitude*math.Cos(m.phase) + m.rng.NormFloat64()*m.opts.NoiseStd
		im := m.opts.Amplitude*math.Sin(m.phase) + m.rng.NormFloat64()*m.opts.NoiseStd
		dst[i] = Sample{I: saturate(re), Q: saturate(im)}
		m.phase += phaseStep
		if m.phase > math.Pi {
			m.phase -= 2 * math.Pi
		} else if m.phase < -math.Pi {
			m.phase += 2 * math.Pi
		}
	}
}

func saturate(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

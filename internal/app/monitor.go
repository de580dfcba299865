package app

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rjboer/rxcapture/internal/acquisition"
	"github.com/rjboer/rxcapture/internal/dsp"
	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

// SignalState is the carrier detector's view of the band.
type SignalState int

const (
	SignalSearching SignalState = iota
	SignalPresent
)

func (s SignalState) String() string {
	if s == SignalPresent {
		return "present"
	}
	return "searching"
}

// LevelSink receives the monitor's per-frame measurements.
type LevelSink interface {
	UpdateLevel(telemetry.Level)
}

// MonitorConfig tunes the consumer.
type MonitorConfig struct {
	SampleRate    float64
	ThresholdDBFS float64 // spectral peak needed to declare a carrier, default -60
	HysteresisDB  float64 // drop below threshold minus this to lose it, default 6
	HistoryLimit  int     // retained power readings, default 256
	AcquireFrames int     // consecutive frames above threshold, default 3
	DropFrames    int     // consecutive frames below, default 2
}

// floorDBFS replaces -Inf for silent blocks so levels stay JSON encodable.
const floorDBFS = -200.0

// Monitor is the consumer of the ping-pong handoff: it takes the ready
// frame, measures it and forwards the result.
type Monitor struct {
	coord    *acquisition.Coordinator
	sink     LevelSink
	logger   logging.Logger
	cfg      MonitorConfig
	analyzer *dsp.Analyzer

	frames    uint64
	lastSeq   uint64
	missed    uint64
	history   []float64
	state     SignalState
	stableCnt int
	dropCnt   int
}

func NewMonitor(coord *acquisition.Coordinator, sink LevelSink, logger logging.Logger, cfg MonitorConfig) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ThresholdDBFS == 0 {
		cfg.ThresholdDBFS = -60
	}
	if cfg.HysteresisDB == 0 {
		cfg.HysteresisDB = 6
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 256
	}
	if cfg.AcquireFrames == 0 {
		cfg.AcquireFrames = 3
	}
	if cfg.DropFrames == 0 {
		cfg.DropFrames = 2
	}
	return &Monitor{
		coord:    coord,
		sink:     sink,
		logger:   logger.With(logging.Field{Key: "subsystem", Value: "monitor"}),
		cfg:      cfg,
		analyzer: dsp.NewAnalyzer(0),
	}
}

// Run consumes frames until the producer closes the handoff or ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		f, err := m.coord.WaitAndTake(ctx)
		if errors.Is(err, acquisition.ErrClosed) {
			m.logger.Debug("monitor finished",
				logging.Field{Key: "frames", Value: m.frames},
				logging.Field{Key: "missed", Value: m.missed})
			return nil
		}
		if err != nil {
			return err
		}
		m.Process(f)
	}
}

// Process measures one frame. The frame must have just been taken from the
// coordinator, so its buffer is not being written.
func (m *Monitor) Process(f acquisition.Frame) telemetry.Level {
	start := time.Now()
	if m.lastSeq != 0 && f.Seq > m.lastSeq+1 {
		m.missed += f.Seq - m.lastSeq - 1
	}
	m.lastSeq = f.Seq
	m.frames++

	st := m.analyzer.Analyze(m.coord.Samples(f), m.cfg.SampleRate)
	power := finite(st.PowerDBFS)
	peak := finite(st.PeakDBFS)
	m.appendHistory(power)
	state := m.updateSignalState(peak, f.Count > 0)

	level := telemetry.Level{
		Time:      f.Received,
		Seq:       f.Seq,
		Samples:   f.Count,
		PowerDBFS: power,
		PeakDBFS:  peak,
		PeakHz:    st.PeakHz,
		Signal:    state.String(),
		Frames:    m.frames,
		Missed:    m.missed,
	}
	if m.sink != nil {
		m.sink.UpdateLevel(level)
	}
	m.logger.Debug("frame measured",
		logging.Field{Key: "seq", Value: f.Seq},
		logging.Field{Key: "power_dbfs", Value: power},
		logging.Field{Key: "duration_ms", Value: time.Since(start).Seconds() * 1000})
	return level
}

// State returns the carrier detector state.
func (m *Monitor) State() SignalState { return m.state }

// Missed is the number of frames overwritten before the monitor took them.
func (m *Monitor) Missed() uint64 { return m.missed }

// PowerHistory returns the retained block power readings, oldest first.
func (m *Monitor) PowerHistory() []float64 {
	out := make([]float64, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) appendHistory(power float64) {
	m.history = append(m.history, power)
	if len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
}

func (m *Monitor) updateSignalState(peak float64, haveSamples bool) SignalState {
	if !haveSamples {
		return m.state
	}
	acquire := peak >= m.cfg.ThresholdDBFS
	drop := peak < m.cfg.ThresholdDBFS-m.cfg.HysteresisDB

	switch m.state {
	case SignalPresent:
		if drop {
			m.dropCnt++
			if m.dropCnt >= m.cfg.DropFrames {
				m.state = SignalSearching
				m.stableCnt = 0
				m.logger.Info("carrier lost", logging.Field{Key: "peak_dbfs", Value: peak})
			}
		} else {
			m.dropCnt = 0
		}
	default:
		if acquire {
			m.stableCnt++
			if m.stableCnt >= m.cfg.AcquireFrames {
				m.state = SignalPresent
				m.dropCnt = 0
				m.logger.Info("carrier acquired", logging.Field{Key: "peak_dbfs", Value: peak})
			}
		} else {
			m.stableCnt = 0
		}
	}
	return m.state
}

func finite(db float64) float64 {
	if math.IsInf(db, -1) || math.IsNaN(db) || db < floorDBFS {
		return floorDBFS
	}
	return db
}

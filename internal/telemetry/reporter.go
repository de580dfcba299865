package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/rjboer/rxcapture/internal/logging"
)

// Reporter consumes acquisition status records.
type Reporter interface {
	Report(r Record)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Record)

func (f ReporterFunc) Report(r Record) { f(r) }

// MultiReporter fans out records to multiple destinations.
type MultiReporter []Reporter

// Report forwards the record to each configured reporter.
func (m MultiReporter) Report(r Record) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(r)
		}
	}
}

// AsyncReporter decouples the acquisition loop from slow sinks. Report never
// blocks: when the queue is full the record is dropped and counted.
type AsyncReporter struct {
	next    Reporter
	queue   chan Record
	done    chan struct{}
	logger  logging.Logger
	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsyncReporter starts a delivery goroutine feeding next through a queue
// holding up to depth records.
func NewAsyncReporter(next Reporter, depth int, logger logging.Logger) *AsyncReporter {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &AsyncReporter{
		next:   next,
		queue:  make(chan Record, depth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go a.deliver()
	return a
}

func (a *AsyncReporter) Report(r Record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- r:
	default:
		if n := a.dropped.Add(1); logging.Sampled(n, 1000) {
			a.logger.Warn("status queue full, dropping records",
				logging.Field{Key: "subsystem", Value: "telemetry"},
				logging.Field{Key: "dropped_total", Value: n})
		}
	}
}

// Dropped returns the number of records discarded so far.
func (a *AsyncReporter) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting records and waits until the queue is drained.
func (a *AsyncReporter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}

func (a *AsyncReporter) deliver() {
	defer close(a.done)
	for r := range a.queue {
		if a.next != nil {
			a.next.Report(r)
		}
	}
}

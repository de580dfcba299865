// Package recorder writes the valid prefix of every acquired block to an
// append-only stream of interleaved little-endian int16 I/Q pairs.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
)

// ErrDropped is returned by Write when the queue is full and the block was
// discarded.
var ErrDropped = errors.New("raw sample queue full, block dropped")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("recorder closed")

// Options configures Open.
type Options struct {
	Path   string
	Depth  int  // queued blocks before Write starts dropping, default 64
	FIFO   bool // create Path as a named pipe and stream into it
	Logger logging.Logger
}

// Stats counts what reached the stream.
type Stats struct {
	Blocks  uint64 `json:"blocks"`
	Samples uint64 `json:"samples"`
	Dropped uint64 `json:"dropped"`
}

// Recorder is an acquisition tap. Write copies the block and returns at once;
// a background goroutine encodes and writes it.
type Recorder struct {
	open    opener
	queue   chan []sdr.Sample
	pool    sync.Pool
	done    chan struct{}
	closing chan struct{}
	logger  logging.Logger

	blocks  atomic.Uint64
	samples atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	err       error
}

// opener produces the output stream. closing is closed by Close; an opener
// waiting for the output to become available must give up when it is.
type opener func(closing <-chan struct{}) (io.WriteCloser, error)

// ErrNoReader is returned by Close when the recorder was closed before a
// reader attached to its FIFO. Queued blocks are counted as dropped.
var ErrNoReader = errors.New("fifo closed before a reader attached")

// Open creates or truncates the output and starts the writer. With FIFO set
// the pipe is opened by the writer goroutine once a reader attaches; blocks
// arriving before that are queued or dropped, and Close abandons the wait.
func Open(opts Options) (*Recorder, error) {
	if opts.Path == "" {
		return nil, errors.New("recorder path is empty")
	}
	if opts.FIFO {
		if err := makeFIFO(opts.Path); err != nil {
			return nil, fmt.Errorf("create fifo %s: %w", opts.Path, err)
		}
		return start(func(closing <-chan struct{}) (io.WriteCloser, error) {
			f, err := openFIFO(opts.Path, closing)
			if err != nil {
				return nil, err
			}
			return f, nil
		}, opts.Depth, opts.Logger), nil
	}
	f, err := os.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("create raw sample file: %w", err)
	}
	return start(func(<-chan struct{}) (io.WriteCloser, error) { return f, nil }, opts.Depth, opts.Logger), nil
}

// New streams into w, which is closed with the recorder when it is an
// io.Closer.
func New(w io.Writer, depth int, logger logging.Logger) *Recorder {
	wc, ok := w.(io.WriteCloser)
	if !ok {
		wc = nopWriteCloser{w}
	}
	return start(func(<-chan struct{}) (io.WriteCloser, error) { return wc, nil }, depth, logger)
}

func start(open opener, depth int, logger logging.Logger) *Recorder {
	if depth <= 0 {
		depth = 64
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Recorder{
		open:    open,
		queue:   make(chan []sdr.Sample, depth),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		logger:  logger.With(logging.Field{Key: "subsystem", Value: "recorder"}),
	}
	go r.run()
	return r
}

// Write queues a copy of samples.
func (r *Recorder) Write(samples []sdr.Sample) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	if r.err != nil {
		return r.err
	}
	block := r.get(len(samples))
	copy(block, samples)
	select {
	case r.queue <- block:
		return nil
	default:
		r.put(block)
		if n := r.dropped.Add(1); logging.Sampled(n, 100) {
			r.logger.Warn("raw sample queue full, stream is discontinuous",
				logging.Field{Key: "samples_lost", Value: len(samples)},
				logging.Field{Key: "dropped_total", Value: n})
		}
		return ErrDropped
	}
}

func (r *Recorder) Stats() Stats {
	return Stats{Blocks: r.blocks.Load(), Samples: r.samples.Load(), Dropped: r.dropped.Load()}
}

// Close flushes every queued block and closes the output.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		close(r.closing)
		r.mu.Unlock()
	})
	<-r.done
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Recorder) run() {
	defer close(r.done)

	out, err := r.open(r.closing)
	if err != nil {
		if !errors.Is(err, ErrNoReader) {
			err = fmt.Errorf("open raw sample output: %w", err)
		}
		r.fail(err)
		for block := range r.queue {
			r.dropped.Add(1)
			r.put(block)
		}
		return
	}
	w := bufio.NewWriterSize(out, 1<<16)
	var scratch []byte
	for block := range r.queue {
		scratch = sdr.AppendIQ(scratch[:0], block)
		if _, err := w.Write(scratch); err != nil {
			r.fail(fmt.Errorf("write raw samples: %w", err))
		} else {
			r.blocks.Add(1)
			r.samples.Add(uint64(len(block)))
		}
		r.put(block)
		if len(r.queue) == 0 {
			if err := w.Flush(); err != nil {
				r.fail(fmt.Errorf("flush raw samples: %w", err))
			}
		}
	}
	if err := w.Flush(); err != nil {
		r.fail(fmt.Errorf("flush raw samples: %w", err))
	}
	if err := out.Close(); err != nil {
		r.fail(fmt.Errorf("close raw sample output: %w", err))
	}
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	first := r.err == nil
	if first {
		r.err = err
	}
	r.mu.Unlock()
	if first {
		r.logger.Error("raw sample stream failed", logging.Err(err))
	}
}

func (r *Recorder) get(n int) []sdr.Sample {
	if v, ok := r.pool.Get().(*[]sdr.Sample); ok && cap(*v) >= n {
		return (*v)[:n]
	}
	return make([]sdr.Sample, n)
}

func (r *Recorder) put(block []sdr.Sample) {
	r.pool.Put(&block)
}

// fifoPoll is how often a pending FIFO open checks for a reader.
const fifoPoll = 50 * time.Millisecond

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

// State is the lifecycle state of a Task.
type State int32

const (
	NotStarted State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reason tells why the worker returned.
type Reason int

const (
	Normal Reason = iota
	Fatal
)

func (r Reason) String() string {
	if r == Fatal {
		return "fatal"
	}
	return "normal"
}

// Disposition is the final outcome of a task, returned by Join.
type Disposition struct {
	Reason     Reason
	Err        error // set when Reason is Fatal
	Iterations uint64
	StopErr    error // error from the stop-streaming call, if any
}

// Tap receives the valid prefix of every filled buffer. The slice is only
// valid for the duration of the call.
type Tap interface {
	Write(samples []sdr.Sample) error
}

// Options configures a Task.
type Options struct {
	Capacity int           // samples per buffer
	Timeout  time.Duration // per-receive timeout, bounds shutdown latency
	Priority int           // nice value for the worker thread, 0 leaves it alone
	Policy   EscalationPolicy
	Reporter telemetry.Reporter
	Taps     []Tap
	Logger   logging.Logger
}

const defaultTimeout = 5 * time.Second

// prepareWorkerThread runs on the locked worker thread before streaming starts.
var prepareWorkerThread = setThreadPriority

// Task runs continuous acquisition from a SampleSource into a FramePair.
type Task struct {
	src     sdr.SampleSource
	opts    Options
	pair    *FramePair
	coord   *Coordinator
	session string
	logger  logging.Logger

	state atomicState

	mu        sync.Mutex
	started   bool
	done      chan struct{}
	disp      Disposition
	stopAfter func() bool

	tapFailures []uint64
}

type atomicState struct{ v atomic.Int32 }

func (s *atomicState) Load() State    { return State(s.v.Load()) }
func (s *atomicState) Store(st State) { s.v.Store(int32(st)) }
func (s *atomicState) CompareAndSwap(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// NewTask allocates the buffer pair for src. The source must already be
// configured; it is not touched until Start.
func NewTask(src sdr.SampleSource, opts Options) (*Task, error) {
	if src == nil {
		return nil, errors.New("nil sample source")
	}
	pair, err := NewFramePair(opts.Capacity)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = telemetry.NewLogReporter(opts.Logger)
	}
	session := uuid.NewString()
	return &Task{
		src:         src,
		opts:        opts,
		pair:        pair,
		coord:       NewCoordinator(pair),
		session:     session,
		logger:      opts.Logger.With(logging.Field{Key: "subsystem", Value: "acquisition"}, logging.Field{Key: "session", Value: session}),
		tapFailures: make([]uint64, len(opts.Taps)),
	}, nil
}

// Start launches the worker, starts streaming and returns once the worker is
// running. Canceling ctx afterwards has the effect of Stop.
func (t *Task) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}

	ready := make(chan error, 1)
	done := make(chan struct{})
	go t.run(ctx, ready, done)
	if err := <-ready; err != nil {
		<-done
		t.logger.Error("acquisition start failed", logging.Err(err))
		return err
	}
	t.started = true
	t.done = done
	t.stopAfter = context.AfterFunc(ctx, t.Stop)
	t.logger.Info("acquisition started",
		logging.Field{Key: "capacity", Value: t.pair.Capacity()},
		logging.Field{Key: "timeout", Value: t.opts.Timeout.String()})
	return nil
}

// Stop asks the worker to finish after its current receive. It is safe to
// call more than once and from any goroutine; before Start it does nothing.
func (t *Task) Stop() {
	if t.state.CompareAndSwap(Running, Stopping) {
		t.logger.Info("acquisition stop requested")
	}
}

// Join waits for the worker to reach Stopped and returns its disposition.
func (t *Task) Join() (Disposition, error) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return Disposition{}, ErrNotStarted
	}
	<-done
	return t.disp, nil
}

// Done is closed when the task reaches Stopped; nil before Start.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Task) State() State { return t.state.Load() }

func (t *Task) SessionID() string { return t.session }

// Coordinator is the consumer side of the buffer handoff.
func (t *Task) Coordinator() *Coordinator { return t.coord }

// Capacity is the per-buffer sample capacity.
func (t *Task) Capacity() int { return t.pair.Capacity() }

func (t *Task) run(ctx context.Context, ready chan<- error, done chan<- struct{}) {
	defer close(done)

	// A thread whose priority was changed is not handed back to the runtime;
	// it exits with the goroutine.
	runtime.LockOSThread()
	if t.opts.Priority == 0 {
		defer runtime.UnlockOSThread()
	}

	if err := prepareWorkerThread(t.opts.Priority); err != nil {
		ready <- &WorkerCreationError{Err: err}
		return
	}
	if err := t.src.StartStreaming(ctx); err != nil {
		ready <- fmt.Errorf("start streaming: %w", err)
		return
	}
	t.state.Store(Running)
	ready <- nil

	disp := t.loop()

	if err := t.src.StopStreaming(); err != nil {
		disp.StopErr = err
		t.logger.Warn("stop streaming failed", logging.Err(err))
	}
	t.coord.Close()
	t.disp = disp
	t.state.Store(Stopped)

	t.mu.Lock()
	if t.stopAfter != nil {
		t.stopAfter()
	}
	t.mu.Unlock()

	fields := []logging.Field{
		{Key: "reason", Value: disp.Reason.String()},
		{Key: "iterations", Value: disp.Iterations},
	}
	if disp.Err != nil {
		t.logger.Error("acquisition stopped", append(fields, logging.Err(disp.Err))...)
		return
	}
	t.logger.Info("acquisition stopped", fields...)
}

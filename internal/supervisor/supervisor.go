// Package supervisor restarts acquisition after a fatal escalation.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/rxcapture/internal/acquisition"
	"github.com/rjboer/rxcapture/internal/logging"
)

// Factory builds a fresh, unstarted task. Each restart gets its own buffers
// and session id.
type Factory func() (*acquisition.Task, error)

// Options configures restart behaviour.
type Options struct {
	MaxRestarts     int // 0 never restarts, negative restarts without limit
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnStart runs after every successful Start, before Join.
	OnStart func(*acquisition.Task)
	Logger  logging.Logger
}

// Supervisor owns the current task. Its Stop ends the current task and
// suppresses further restarts.
type Supervisor struct {
	newTask Factory
	opts    Options
	logger  logging.Logger

	mu       sync.Mutex
	current  *acquisition.Task
	restarts int
	stopped  bool
	stopCh   chan struct{}
}

func New(newTask Factory, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	return &Supervisor{
		newTask: newTask,
		opts:    opts,
		logger:  opts.Logger.With(logging.Field{Key: "subsystem", Value: "supervisor"}),
		stopCh:  make(chan struct{}),
	}
}

// Run starts a task and joins it, restarting with exponential backoff while
// tasks end fatally and the restart budget lasts. It returns the final
// task's disposition. Start errors are returned unchanged.
func (s *Supervisor) Run(ctx context.Context) (acquisition.Disposition, error) {
	policy := backoff.WithContext(s.restartPolicy(), ctx)

	for {
		task, err := s.newTask()
		if err != nil {
			return acquisition.Disposition{}, fmt.Errorf("build acquisition task: %w", err)
		}
		if !s.setCurrent(task) {
			return acquisition.Disposition{}, nil
		}
		if err := task.Start(ctx); err != nil {
			return acquisition.Disposition{}, err
		}
		if s.isStopped() {
			task.Stop()
		}
		if s.opts.OnStart != nil {
			s.opts.OnStart(task)
		}

		disp, err := task.Join()
		if err != nil {
			return disp, err
		}
		if disp.Reason != acquisition.Fatal || s.isStopped() || ctx.Err() != nil {
			return disp, nil
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("acquisition failed, restart budget exhausted",
				logging.Field{Key: "restarts", Value: s.Restarts()},
				logging.Err(disp.Err))
			return disp, nil
		}
		s.logger.Warn("acquisition failed, restarting",
			logging.Field{Key: "session", Value: task.SessionID()},
			logging.Field{Key: "backoff", Value: wait.String()},
			logging.Err(disp.Err))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return disp, nil
		case <-s.stopCh:
			timer.Stop()
			return disp, nil
		}
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
	}
}

// Stop ends the current task and prevents restarts. Safe to call repeatedly.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	task := s.current
	s.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Current returns the most recent task, nil before the first.
func (s *Supervisor) Current() *acquisition.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Restarts counts tasks started after a fatal disposition.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Supervisor) restartPolicy() backoff.BackOff {
	if s.opts.MaxRestarts == 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	if s.opts.MaxRestarts < 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(s.opts.MaxRestarts))
}

func (s *Supervisor) setCurrent(task *acquisition.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.current = task
	return true
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

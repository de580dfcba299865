package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjboer/rxcapture/internal/acquisition"
	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

var discard = telemetry.ReporterFunc(func(telemetry.Record) {})

func brokenChain(n int) []sdr.Step {
	steps := make([]sdr.Step, n)
	for i := range steps {
		steps[i] = sdr.Step{Meta: sdr.Metadata{ErrorCode: sdr.ErrorBrokenChain}}
	}
	return steps
}

func factory(src sdr.SampleSource, builds *int) Factory {
	policy := acquisition.EscalationPolicy{Limits: map[sdr.ErrorCode]int{sdr.ErrorBrokenChain: 2}}
	return func() (*acquisition.Task, error) {
		*builds++
		return acquisition.NewTask(src, acquisition.Options{
			Capacity: 16,
			Timeout:  100 * time.Millisecond,
			Policy:   policy,
			Reporter: discard,
			Logger:   logging.Nop(),
		})
	}
}

func runWithin(t *testing.T, s *Supervisor, d time.Duration) acquisition.Disposition {
	t.Helper()
	type result struct {
		disp acquisition.Disposition
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		disp, err := s.Run(context.Background())
		ch <- result{disp, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Run: %v", r.err)
		}
		return r.disp
	case <-time.After(d):
		s.Stop()
		t.Fatalf("supervisor did not return within %v", d)
	}
	return acquisition.Disposition{}
}

func TestSupervisorRestartsAfterFatalDisposition(t *testing.T) {
	src := sdr.NewMock(sdr.MockOptions{Seed: 1, Script: brokenChain(2)})
	var builds, starts int
	var s *Supervisor
	s = New(factory(src, &builds), Options{
		MaxRestarts:     3,
		InitialInterval: time.Millisecond,
		Logger:          logging.Nop(),
		OnStart: func(task *acquisition.Task) {
			starts++
			if starts == 2 {
				go s.Stop()
			}
		},
	})

	disp := runWithin(t, s, 2*time.Second)
	if disp.Reason != acquisition.Normal {
		t.Fatalf("expected the restarted task to end normally, got %+v", disp)
	}
	if builds != 2 || s.Restarts() != 1 {
		t.Fatalf("expected one restart, got %d builds and %d restarts", builds, s.Restarts())
	}
	if src.Starts() != 2 || src.Stops() != 2 {
		t.Fatalf("expected paired start/stop streaming calls, got %d/%d", src.Starts(), src.Stops())
	}
	if s.Current() == nil || s.Current().State() != acquisition.Stopped {
		t.Fatal("current task should be stopped")
	}
}

func TestSupervisorWithoutRestartsReturnsFatal(t *testing.T) {
	src := sdr.NewMock(sdr.MockOptions{Seed: 2, Script: brokenChain(2)})
	var builds int
	s := New(factory(src, &builds), Options{Logger: logging.Nop()})

	disp := runWithin(t, s, 2*time.Second)
	if disp.Reason != acquisition.Fatal || !errors.Is(disp.Err, acquisition.ErrLinkUnrecoverable) {
		t.Fatalf("expected fatal disposition, got %+v", disp)
	}
	if builds != 1 {
		t.Fatalf("expected a single task, got %d", builds)
	}
}

func TestSupervisorStoppedBeforeRunStartsNothing(t *testing.T) {
	src := sdr.NewMock(sdr.MockOptions{Seed: 3})
	var builds int
	s := New(factory(src, &builds), Options{Logger: logging.Nop()})
	s.Stop()
	s.Stop()
	runWithin(t, s, time.Second)
	if src.Starts() != 0 {
		t.Fatalf("expected no streaming, got %d starts", src.Starts())
	}
}

func TestSupervisorReturnsStartError(t *testing.T) {
	src := sdr.NewMock(sdr.MockOptions{Seed: 4})
	if err := src.StartStreaming(context.Background()); err != nil {
		t.Fatal(err)
	}
	var builds int
	s := New(factory(src, &builds), Options{MaxRestarts: 5, Logger: logging.Nop()})
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if builds != 1 {
		t.Fatalf("start errors must not be retried, got %d builds", builds)
	}
}

package acquisition

import (
	"fmt"
	"time"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

// loop is the producer. Each iteration fills the buffer the consumer cannot
// see, publishes it and swaps. The stop flag is read between iterations only.
func (t *Task) loop() Disposition {
	var (
		current int
		seq     uint64
		run     streak
	)
	for {
		buf := t.pair.Buffer(current)
		n, meta := t.src.Receive(buf, t.opts.Timeout)
		n = clampCount(n, len(buf))
		seq++

		t.coord.Publish(Frame{
			Index:    current,
			Count:    n,
			Seq:      seq,
			Status:   meta,
			Received: time.Now(),
		})

		consecutive := run.observe(meta.ErrorCode)
		t.opts.Reporter.Report(telemetry.NewRecord(t.session, seq, current, n, meta, consecutive))
		t.writeTaps(seq, buf[:n])

		if t.opts.Policy.Exceeded(meta.ErrorCode, consecutive) {
			t.state.CompareAndSwap(Running, Stopping)
			return Disposition{
				Reason:     Fatal,
				Err:        fmt.Errorf("%w: %s on %d consecutive receives", ErrLinkUnrecoverable, meta.ErrorCode, consecutive),
				Iterations: seq,
			}
		}

		current ^= 1
		if t.state.Load() != Running {
			return Disposition{Reason: Normal, Iterations: seq}
		}
	}
}

func (t *Task) writeTaps(seq uint64, samples []sdr.Sample) {
	for i, tap := range t.opts.Taps {
		if err := tap.Write(samples); err != nil {
			t.tapFailures[i]++
			if n := t.tapFailures[i]; logging.Sampled(n, 100) {
				t.logger.Warn("tap write failed",
					logging.Field{Key: "tap", Value: i},
					logging.Field{Key: "seq", Value: seq},
					logging.Field{Key: "failures", Value: n},
					logging.Err(err))
			}
		}
	}
}

func clampCount(n, capacity int) int {
	if n < 0 {
		return 0
	}
	if n > capacity {
		return capacity
	}
	return n
}

package telemetry

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rjboer/rxcapture/internal/logging"
)

// LogReporter writes one structured log line per record. OK statuses log at
// debug, transient faults and a first resource-pressure fault at warn, and
// repeated resource-pressure faults at error.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a log reporter with the provided logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return LogReporter{logger: logger.With(logging.Field{Key: "subsystem", Value: "status"})}
}

func (r LogReporter) Report(rec Record) {
	fields := []logging.Field{
		{Key: "seq", Value: rec.Seq},
		{Key: "buffer", Value: rec.Buffer},
		{Key: "samples", Value: rec.Count},
		{Key: "error_kind", Value: rec.ErrorName},
	}
	if rec.TimestampPresent {
		fields = append(fields, logging.Field{Key: "timestamp_s", Value: rec.Timestamp.Seconds()})
	}
	if rec.MoreFragments || rec.FragmentOffset != 0 {
		fields = append(fields,
			logging.Field{Key: "more_fragments", Value: rec.MoreFragments},
			logging.Field{Key: "fragment_offset", Value: rec.FragmentOffset})
	}
	if rec.BurstStart {
		fields = append(fields, logging.Field{Key: "burst_start", Value: true})
	}
	if rec.BurstEnd {
		fields = append(fields, logging.Field{Key: "burst_end", Value: true})
	}
	if rec.OK() {
		r.logger.Debug("receive", fields...)
		return
	}
	fields = append(fields, logging.Field{Key: "consecutive", Value: rec.Consecutive})
	// A repeated overflow or broken chain means samples are being lost on
	// every receive, not just once.
	if rec.ErrorKind.ResourcePressure() && rec.Consecutive > 1 {
		r.logger.Error("sustained receive fault", fields...)
		return
	}
	if !rec.ErrorKind.Transient() && !rec.ErrorKind.ResourcePressure() {
		r.logger.Error("unknown receive status", fields...)
		return
	}
	r.logger.Warn("receive status", fields...)
}

// TextSink appends records to w in the metadata log layout:
//
//	Samples Received: 10000
//	Has time spec? 1
//		Seconds 0.08
//	More fragments? 0
//	...
type TextSink struct {
	mu     sync.Mutex
	w      io.Writer
	logger logging.Logger
	failed bool
}

func NewTextSink(w io.Writer, logger logging.Logger) *TextSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &TextSink{w: w, logger: logger}
}

func (s *TextSink) Report(rec Record) {
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "Samples Received: %d\n", rec.Count)
	fmt.Fprintf(&b, "Has time spec? %d\n", btoi(rec.TimestampPresent))
	if rec.TimestampPresent {
		fmt.Fprintf(&b, "\tSeconds %g\n", rec.Timestamp.Seconds())
	}
	fmt.Fprintf(&b, "More fragments? %d\n", btoi(rec.MoreFragments))
	fmt.Fprintf(&b, "Fragment Offset: %d\n", rec.FragmentOffset)
	fmt.Fprintf(&b, "Start of Burst? %d\n", btoi(rec.BurstStart))
	fmt.Fprintf(&b, "End of Burst? %d\n", btoi(rec.BurstEnd))
	fmt.Fprintf(&b, "Error : %s\n", rec.ErrorKind.Title())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, b.String()); err != nil && !s.failed {
		s.failed = true
		s.logger.Error("metadata log write failed", logging.Err(err))
	}
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

package telemetry

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
)

type collector struct {
	mu   sync.Mutex
	recs []Record
}

func (c *collector) Report(r Record) {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
}

func (c *collector) seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.recs))
	for i, r := range c.recs {
		out[i] = r.Seq
	}
	return out
}

func TestNewRecordTranslatesMetadata(t *testing.T) {
	meta := sdr.Metadata{
		HasTimeSpec:    true,
		TimeSpec:       1500 * time.Millisecond,
		MoreFragments:  true,
		FragmentOffset: 42,
		StartOfBurst:   true,
		ErrorCode:      sdr.ErrorOverflow,
	}
	r := NewRecord("s", 7, 1, 300, meta, 4)
	if !r.TimestampPresent || r.Timestamp != 1500*time.Millisecond {
		t.Fatalf("timestamp not carried: %+v", r)
	}
	if !r.MoreFragments || r.FragmentOffset != 42 || !r.BurstStart || r.BurstEnd {
		t.Fatalf("fragment/burst flags not carried: %+v", r)
	}
	if r.ErrorName != "overflow" || r.OK() || r.Consecutive != 4 {
		t.Fatalf("error not carried: %+v", r)
	}
}

func TestMultiReporterSkipsNil(t *testing.T) {
	a, b := &collector{}, &collector{}
	m := MultiReporter{a, nil, b}
	m.Report(Record{Seq: 1})
	if len(a.seqs()) != 1 || len(b.seqs()) != 1 {
		t.Fatalf("expected both reporters to receive the record")
	}
}

func TestAsyncReporterDrainsOnClose(t *testing.T) {
	c := &collector{}
	a := NewAsyncReporter(c, 16, logging.Nop())
	for i := uint64(1); i <= 10; i++ {
		a.Report(Record{Seq: i})
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := c.seqs()
	if len(got) != 10 {
		t.Fatalf("expected 10 delivered records, got %d", len(got))
	}
	for i, s := range got {
		if s != uint64(i+1) {
			t.Fatalf("records out of order: %v", got)
		}
	}
	a.Report(Record{Seq: 11})
	if a.Dropped() != 1 {
		t.Fatalf("report after close should count as dropped, got %d", a.Dropped())
	}
}

func TestAsyncReporterDropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	c := &collector{}
	slow := ReporterFunc(func(r Record) {
		<-gate
		c.Report(r)
	})
	a := NewAsyncReporter(slow, 2, logging.Nop())

	start := time.Now()
	for i := uint64(1); i <= 20; i++ {
		a.Report(Record{Seq: i})
	}
	if time.Since(start) > time.Second {
		t.Fatal("Report blocked on a stalled sink")
	}
	if a.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(gate)
	a.Close()
	if got := uint64(len(c.seqs())) + a.Dropped(); got != 20 {
		t.Fatalf("delivered+dropped = %d, want 20", got)
	}
}

func TestTextSinkLayout(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTextSink(&buf, logging.Nop())
	sink.Report(NewRecord("s", 1, 0, 10000, sdr.Metadata{HasTimeSpec: true, TimeSpec: 80 * time.Millisecond}, 1))
	sink.Report(NewRecord("s", 2, 1, 0, sdr.Metadata{ErrorCode: sdr.ErrorLateCommand}, 1))

	want := "\nSamples Received: 10000\n" +
		"Has time spec? 1\n" +
		"\tSeconds 0.08\n" +
		"More fragments? 0\n" +
		"Fragment Offset: 0\n" +
		"Start of Burst? 0\n" +
		"End of Burst? 0\n" +
		"Error : None\n" +
		"\nSamples Received: 0\n" +
		"Has time spec? 0\n" +
		"More fragments? 0\n" +
		"Fragment Offset: 0\n" +
		"Start of Burst? 0\n" +
		"End of Burst? 0\n" +
		"Error : Late Command\n"
	if buf.String() != want {
		t.Fatalf("unexpected layout:\n%q\nwant\n%q", buf.String(), want)
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestTextSinkLogsWriteFailureOnce(t *testing.T) {
	var logs bytes.Buffer
	w := &failingWriter{}
	sink := NewTextSink(w, logging.New(logging.Debug, logging.Text, &logs))
	sink.Report(Record{Seq: 1})
	sink.Report(Record{Seq: 2})
	if w.calls != 2 {
		t.Fatalf("expected writes to continue, got %d", w.calls)
	}
	if n := strings.Count(logs.String(), "metadata log write failed"); n != 1 {
		t.Fatalf("expected one failure log line, got %d:\n%s", n, logs.String())
	}
}

func TestLogReporterLevels(t *testing.T) {
	var logs bytes.Buffer
	rep := NewLogReporter(logging.New(logging.Info, logging.Text, &logs))
	rep.Report(NewRecord("s", 1, 0, 10, sdr.Metadata{}, 1))
	if logs.Len() != 0 {
		t.Fatalf("OK records should log at debug only, got %q", logs.String())
	}
	rep.Report(NewRecord("s", 2, 1, 0, sdr.Metadata{ErrorCode: sdr.ErrorTimeout}, 3))
	out := logs.String()
	if !strings.Contains(out, "receive status") || !strings.Contains(out, "timeout") {
		t.Fatalf("expected warn line for timeout, got %q", out)
	}
}

func TestLogReporterEscalatesSustainedPressure(t *testing.T) {
	var logs bytes.Buffer
	rep := NewLogReporter(logging.New(logging.Info, logging.Text, &logs))

	rep.Report(NewRecord("s", 1, 0, 0, sdr.Metadata{ErrorCode: sdr.ErrorOverflow}, 1))
	if out := logs.String(); !strings.Contains(out, "[WARN] receive status") {
		t.Fatalf("first overflow should warn, got %q", out)
	}
	logs.Reset()

	rep.Report(NewRecord("s", 2, 1, 0, sdr.Metadata{ErrorCode: sdr.ErrorOverflow}, 2))
	if out := logs.String(); !strings.Contains(out, "[ERROR] sustained receive fault") {
		t.Fatalf("repeated overflow should log at error, got %q", out)
	}
	logs.Reset()

	rep.Report(NewRecord("s", 3, 0, 0, sdr.Metadata{ErrorCode: sdr.ErrorTimeout}, 5))
	if out := logs.String(); !strings.Contains(out, "[WARN] receive status") {
		t.Fatalf("repeated timeouts stay at warn, got %q", out)
	}
}

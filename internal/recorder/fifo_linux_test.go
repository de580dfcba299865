//go:build linux

package recorder

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
)

func TestOpenStreamsIntoFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.fifo")
	rec, err := Open(Options{Path: path, FIFO: true, Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil || fi.Mode()&os.ModeNamedPipe == 0 {
		t.Fatalf("expected named pipe at %s: %v", path, err)
	}

	got := make(chan []byte, 1)
	go func() {
		f, err := os.Open(path)
		if err != nil {
			got <- nil
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		got <- data
	}()

	if err := rec.Write(samples(4, 9)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Close abandons a pending open, so wait for the reader to attach.
	deadline := time.Now().Add(5 * time.Second)
	for rec.Stats().Blocks == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data := <-got
	if len(data) != 4*sdr.BytesPerSample {
		t.Fatalf("reader got %d bytes", len(data))
	}
}

func TestMakeFIFORejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := makeFIFO(path); err == nil {
		t.Fatal("expected error for regular file")
	}
}

func TestCloseWithoutFIFOReaderReturns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.fifo")
	rec, err := Open(Options{Path: path, FIFO: true, Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rec.Write(samples(4, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- rec.Close() }()
	select {
	case err := <-closed:
		if !errors.Is(err, ErrNoReader) {
			t.Fatalf("Close error = %v, want ErrNoReader", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked with no reader attached")
	}
	if st := rec.Stats(); st.Blocks != 0 || st.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

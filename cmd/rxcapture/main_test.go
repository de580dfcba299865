package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/rxcapture/internal/acquisition"
	"github.com/rjboer/rxcapture/internal/config"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

func noEnv(string) (string, bool) { return "", false }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunnerMockCaptureUntilQuit(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Acquisition.Samples = 1000
	cfg.Acquisition.Timeout = 200 * time.Millisecond
	cfg.Output.MetadataLog = filepath.Join(dir, "rx_log.txt")
	cfg.Output.RawData = filepath.Join(dir, "rx_data.bin")
	cfg.Telemetry.Addr = ""
	cfg.Logging.Level = "error"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	r := &runner{cfg: cfg, stdin: pr, stdout: out}
	r.onStart = func(task *acquisition.Task) {
		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for task.Coordinator().Stats().Published < 3 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			io.WriteString(pw, "status\nquit\n")
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("run ended by deadline, quit was not honoured")
	}

	raw, err := os.ReadFile(cfg.Output.RawData)
	if err != nil {
		t.Fatalf("read raw data: %v", err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		t.Fatalf("raw data length %d, want a non-zero multiple of 4", len(raw))
	}
	meta, err := os.ReadFile(cfg.Output.MetadataLog)
	if err != nil {
		t.Fatalf("read metadata log: %v", err)
	}
	if got := strings.Count(string(meta), "Samples Received: "); got < 3 {
		t.Fatalf("metadata log has %d records, want at least 3", got)
	}
	if !strings.Contains(string(meta), "Error : None") {
		t.Fatalf("metadata log missing status line:\n%s", meta)
	}
	if !strings.Contains(out.String(), "state=running") {
		t.Fatalf("status output = %q", out.String())
	}
}

func TestRunFlagsApplyOnlyChanged(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Gain = 30 // as if set by a config file

	f := &runFlags{}
	cmd := &cobra.Command{Use: "run"}
	f.register(cmd)
	if err := cmd.ParseFlags([]string{"--samples", "2048", "--escalation", "overflow=5", "--web-addr", ""}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := f.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Acquisition.Samples != 2048 {
		t.Fatalf("samples = %d, want 2048", cfg.Acquisition.Samples)
	}
	if cfg.Acquisition.Escalation["overflow"] != 5 {
		t.Fatalf("escalation = %v", cfg.Acquisition.Escalation)
	}
	if cfg.Telemetry.Addr != "" {
		t.Fatalf("web addr = %q, want empty", cfg.Telemetry.Addr)
	}
	if cfg.Device.Gain != 30 {
		t.Fatalf("unset flag overrode gain: %v", cfg.Device.Gain)
	}
}

func TestRunFlagsRejectBadEscalation(t *testing.T) {
	cfg := config.Default()
	f := &runFlags{}
	cmd := &cobra.Command{Use: "run"}
	f.register(cmd)
	if err := cmd.ParseFlags([]string{"--escalation", "overflow"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := f.apply(cmd, &cfg); err == nil {
		t.Fatalf("expected error for malformed escalation")
	}
}

func TestConfigCommandRedactsSecret(t *testing.T) {
	env := map[string]string{"RXCAP_JWT_SECRET": "hunter2", "RXCAP_SAMPLES": "4096"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, lookup)
	root.SetArgs([]string{"config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out.String(), "hunter2") {
		t.Fatalf("secret leaked:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "samples: 4096") {
		t.Fatalf("env override missing:\n%s", out.String())
	}
}

func TestConfigCommandReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.yaml")
	if err := os.WriteFile(path, []byte("device:\n  gain: 12.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, noEnv)
	root.SetArgs([]string{"config", "-c", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out.String(), "gain: 12.5") {
		t.Fatalf("file value missing:\n%s", out.String())
	}
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, noEnv)
	root.SetArgs([]string{"token"})
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without a secret")
	}
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "RXCAP_JWT_SECRET" {
			return "s3cret", true
		}
		return "", false
	}
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, lookup)
	root.SetArgs([]string{"token", "--subject", "ops", "--ttl", "1m"})
	if err := root.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := telemetry.NewTokenVerifier("s3cret").Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestOpenSourceUnknownBackend(t *testing.T) {
	if _, err := openSource(config.DeviceConfig{Backend: "pluto"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRedact(t *testing.T) {
	if redact("") != "" || redact("x") != "<redacted>" {
		t.Fatalf("redact mismatch")
	}
}

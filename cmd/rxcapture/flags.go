package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/rxcapture/internal/config"
)

// runFlags override the loaded configuration. Only flags set on the command
// line are applied, so file and environment values survive defaults.
type runFlags struct {
	backend     string
	replay      string
	loop        bool
	rate        float64
	freq        float64
	loOffset    float64
	gain        float64
	samples     int
	timeout     time.Duration
	priority    int
	escalation  string
	metadataLog string
	raw         string
	fifo        bool
	webAddr     string
	announce    bool
	logLevel    string
	logFormat   string
	logFile     string
	maxRestarts int
}

func (f *runFlags) register(cmd *cobra.Command) {
	d := config.Default()
	fs := cmd.Flags()
	fs.StringVar(&f.backend, "backend", d.Device.Backend, "sample source (mock|replay)")
	fs.StringVar(&f.replay, "replay", d.Device.ReplayPath, "raw I/Q file for the replay backend")
	fs.BoolVar(&f.loop, "loop", d.Device.ReplayLoop, "rewind the replay file at EOF")
	fs.Float64Var(&f.rate, "rate", d.Device.Rate, "sample rate in samples/s")
	fs.Float64Var(&f.freq, "freq", d.Device.Frequency, "RF centre frequency in Hz")
	fs.Float64Var(&f.loOffset, "lo-offset", d.Device.LOOffset, "LO offset in Hz")
	fs.Float64Var(&f.gain, "gain", d.Device.Gain, "receive gain in dB")
	fs.IntVarP(&f.samples, "samples", "n", d.Acquisition.Samples, "samples per buffer")
	fs.DurationVar(&f.timeout, "timeout", d.Acquisition.Timeout, "per-receive timeout")
	fs.IntVar(&f.priority, "priority", d.Acquisition.Priority, "nice value for the acquisition thread (linux)")
	fs.StringVar(&f.escalation, "escalation", "", `fatal limits as "broken_chain=3,overflow=50"`)
	fs.StringVar(&f.metadataLog, "metadata-log", d.Output.MetadataLog, "per-receive status log, empty to disable")
	fs.StringVar(&f.raw, "raw", d.Output.RawData, "raw I/Q output, empty to disable")
	fs.BoolVar(&f.fifo, "fifo", d.Output.RawFIFO, "create the raw output as a named pipe")
	fs.StringVar(&f.webAddr, "web-addr", d.Telemetry.Addr, "telemetry listen address, empty to disable")
	fs.BoolVar(&f.announce, "announce", d.Telemetry.Announce, "announce the telemetry endpoint over mDNS")
	fs.StringVar(&f.logLevel, "log-level", d.Logging.Level, "debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", d.Logging.Format, "text|json")
	fs.StringVar(&f.logFile, "log-file", d.Logging.File, "rotating log file in addition to stderr")
	fs.IntVar(&f.maxRestarts, "max-restarts", d.Supervisor.MaxRestarts, "restarts after a fatal escalation, negative for unlimited")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Device.Backend = f.backend
	}
	if changed("replay") {
		cfg.Device.ReplayPath = f.replay
	}
	if changed("loop") {
		cfg.Device.ReplayLoop = f.loop
	}
	if changed("rate") {
		cfg.Device.Rate = f.rate
	}
	if changed("freq") {
		cfg.Device.Frequency = f.freq
	}
	if changed("lo-offset") {
		cfg.Device.LOOffset = f.loOffset
	}
	if changed("gain") {
		cfg.Device.Gain = f.gain
	}
	if changed("samples") {
		cfg.Acquisition.Samples = f.samples
	}
	if changed("timeout") {
		cfg.Acquisition.Timeout = f.timeout
	}
	if changed("priority") {
		cfg.Acquisition.Priority = f.priority
	}
	if changed("escalation") {
		limits, err := config.ParseLimits(f.escalation)
		if err != nil {
			return err
		}
		cfg.Acquisition.Escalation = limits
	}
	if changed("metadata-log") {
		cfg.Output.MetadataLog = f.metadataLog
	}
	if changed("raw") {
		cfg.Output.RawData = f.raw
	}
	if changed("fifo") {
		cfg.Output.RawFIFO = f.fifo
	}
	if changed("web-addr") {
		cfg.Telemetry.Addr = f.webAddr
	}
	if changed("announce") {
		cfg.Telemetry.Announce = f.announce
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if changed("log-file") {
		cfg.Logging.File = f.logFile
	}
	if changed("max-restarts") {
		cfg.Supervisor.MaxRestarts = f.maxRestarts
	}
	return nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overrides cfg from the environment. Unparseable numeric values
// are ignored and the previous value is kept.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) Config {
	d := &cfg.Device
	d.Backend = envString(lookup, "RXCAP_BACKEND", d.Backend)
	d.ReplayPath = envString(lookup, "RXCAP_REPLAY_PATH", d.ReplayPath)
	d.ReplayLoop = envBool(lookup, "RXCAP_REPLAY_LOOP", d.ReplayLoop)
	d.Rate = envFloat(lookup, "RXCAP_RATE", d.Rate)
	d.Frequency = envFloat(lookup, "RXCAP_FREQ", d.Frequency)
	d.LOOffset = envFloat(lookup, "RXCAP_LO_OFFSET", d.LOOffset)
	d.Gain = envFloat(lookup, "RXCAP_GAIN", d.Gain)
	d.ToneOffset = envFloat(lookup, "RXCAP_TONE_OFFSET", d.ToneOffset)

	a := &cfg.Acquisition
	a.Samples = envInt(lookup, "RXCAP_SAMPLES", a.Samples)
	a.Timeout = envDuration(lookup, "RXCAP_TIMEOUT", a.Timeout)
	a.Priority = envInt(lookup, "RXCAP_PRIORITY", a.Priority)
	if v, ok := lookup("RXCAP_ESCALATION"); ok {
		if limits, err := ParseLimits(v); err == nil {
			a.Escalation = limits
		}
	}

	o := &cfg.Output
	o.MetadataLog = envString(lookup, "RXCAP_METADATA_LOG", o.MetadataLog)
	o.RawData = envString(lookup, "RXCAP_RAW_DATA", o.RawData)
	o.RawFIFO = envBool(lookup, "RXCAP_RAW_FIFO", o.RawFIFO)

	t := &cfg.Telemetry
	t.Addr = envString(lookup, "RXCAP_WEB_ADDR", t.Addr)
	t.HistoryLimit = envInt(lookup, "RXCAP_HISTORY_LIMIT", t.HistoryLimit)
	t.JWTSecret = envString(lookup, "RXCAP_JWT_SECRET", t.JWTSecret)
	t.Announce = envBool(lookup, "RXCAP_ANNOUNCE", t.Announce)

	l := &cfg.Logging
	l.Level = envString(lookup, "RXCAP_LOG_LEVEL", l.Level)
	l.Format = envString(lookup, "RXCAP_LOG_FORMAT", l.Format)
	l.File = envString(lookup, "RXCAP_LOG_FILE", l.File)

	cfg.Supervisor.MaxRestarts = envInt(lookup, "RXCAP_MAX_RESTARTS", cfg.Supervisor.MaxRestarts)
	return cfg
}

// ParseLimits reads "broken_chain=3,overflow=50".
func ParseLimits(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("escalation entry %q is not name=count", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("escalation entry %q: %w", part, err)
		}
		out[strings.TrimSpace(k)] = n
	}
	return out, nil
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

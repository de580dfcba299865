package sdr

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies the outcome of a single Receive call.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorTimeout
	ErrorLateCommand
	ErrorBrokenChain
	ErrorOverflow
	ErrorAlignment
	ErrorBadPacket
)

var errorCodeNames = [...]string{
	ErrorNone:        "none",
	ErrorTimeout:     "timeout",
	ErrorLateCommand: "late_command",
	ErrorBrokenChain: "broken_chain",
	ErrorOverflow:    "overflow",
	ErrorAlignment:   "alignment",
	ErrorBadPacket:   "bad_packet",
}

func (c ErrorCode) String() string {
	if c < 0 || int(c) >= len(errorCodeNames) {
		return fmt.Sprintf("unknown(%d)", int(c))
	}
	return errorCodeNames[c]
}

// Title is the human form used in the metadata log ("Late Command").
func (c ErrorCode) Title() string {
	switch c {
	case ErrorNone:
		return "None"
	case ErrorTimeout:
		return "Timeout"
	case ErrorLateCommand:
		return "Late Command"
	case ErrorBrokenChain:
		return "Broken Chain"
	case ErrorOverflow:
		return "Overflow"
	case ErrorAlignment:
		return "Alignment"
	case ErrorBadPacket:
		return "Bad Packet"
	default:
		return c.String()
	}
}

// ParseErrorCode accepts the String form, with "-" or "_" separators, and "ok".
func ParseErrorCode(s string) (ErrorCode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "ok" {
		return ErrorNone, nil
	}
	for i, name := range errorCodeNames {
		if name == norm {
			return ErrorCode(i), nil
		}
	}
	return ErrorNone, fmt.Errorf("unknown error code %q", s)
}

// Transient codes are routine on live links and never stop acquisition by
// themselves.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrorTimeout, ErrorLateCommand, ErrorAlignment, ErrorBadPacket:
		return true
	}
	return false
}

// ResourcePressure codes may need supervisor escalation when sustained.
func (c ErrorCode) ResourcePressure() bool {
	return c == ErrorOverflow || c == ErrorBrokenChain
}

// Metadata is the status of one Receive call.
type Metadata struct {
	ErrorCode      ErrorCode
	HasTimeSpec    bool
	TimeSpec       time.Duration // device time of the first sample
	MoreFragments  bool
	FragmentOffset int
	StartOfBurst   bool
	EndOfBurst     bool
}

// OK reports whether the receive completed without error.
func (m Metadata) OK() bool { return m.ErrorCode == ErrorNone }

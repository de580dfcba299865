package sdr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sample is one complex baseband sample with signed 16 bit components (sc16).
type Sample struct {
	I int16
	Q int16
}

// Config carries the front-end parameters that must be applied before streaming.
type Config struct {
	SampleRate float64 // samples per second
	Frequency  float64 // RF centre frequency in Hz
	LOOffset   float64 // LO offset in Hz, 0 to let the driver choose
	Gain       float64 // dB
}

// Range is a closed interval of accepted values for one parameter.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clip returns v limited to the range and rounded to Step when set.
func (r Range) Clip(v float64) float64 {
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	if r.Step > 0 {
		n := (v - r.Min) / r.Step
		v = r.Min + float64(int64(n+0.5))*r.Step
		if v > r.Max {
			v -= r.Step
		}
	}
	return v
}

// Capabilities lists the value ranges a backend accepts.
type Capabilities struct {
	Rate      Range
	Frequency Range
	Gain      Range
}

// ConfigError reports a parameter the hardware rejected.
type ConfigError struct {
	Param string
	Value float64
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configure %s=%g: %v", e.Param, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrOutOfRange is wrapped by ConfigError when a value falls outside the
// backend's Capabilities.
var ErrOutOfRange = errors.New("value out of range")

// Validate checks cfg against caps and returns the first rejected parameter.
func (c Capabilities) Validate(cfg Config) error {
	if !c.Rate.Contains(cfg.SampleRate) {
		return &ConfigError{Param: "rate", Value: cfg.SampleRate, Err: ErrOutOfRange}
	}
	if !c.Frequency.Contains(cfg.Frequency) {
		return &ConfigError{Param: "frequency", Value: cfg.Frequency, Err: ErrOutOfRange}
	}
	if !c.Gain.Contains(cfg.Gain) {
		return &ConfigError{Param: "gain", Value: cfg.Gain, Err: ErrOutOfRange}
	}
	return nil
}

// SampleSource is the receive side of a radio front end.
//
// A source is driven by a single goroutine once streaming has started;
// Configure must not be called while streaming.
type SampleSource interface {
	Configure(ctx context.Context, cfg Config) error
	StartStreaming(ctx context.Context) error
	// Receive fills buf[:n] and returns n with the status of the call. It
	// blocks for at most timeout. Faults are reported through Metadata.
	Receive(buf []Sample, timeout time.Duration) (int, Metadata)
	StopStreaming() error
	Close() error
}

// Tuned is implemented by sources that can report the values actually
// applied by Configure (the hardware may round the request).
type Tuned interface {
	Actual() Config
}

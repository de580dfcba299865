package logging

import (
	"fmt"
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures where and how the process logger writes.
type Options struct {
	Level      string
	Format     string
	File       string // optional rotating file, in addition to the console writer
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Open builds a Logger from opts. The returned closer releases the rotating
// file, if any; it is never nil.
func Open(opts Options, console io.Writer) (Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, nil, err
	}
	if console == nil {
		console = io.Discard
	}
	if opts.File == "" {
		return New(level, format, console), nopCloser{}, nil
	}
	file := RotatingFile(opts.File, opts.MaxSizeMB, opts.MaxBackups, opts.MaxAgeDays, opts.Compress)
	return New(level, format, io.MultiWriter(console, file)), file, nil
}

// RotatingFile returns a size-rotated append-only file writer.
func RotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) io.WriteCloser {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Err is shorthand for an "error" field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: fmt.Sprint(err)}
}

// Sampled reports whether the n-th occurrence of a repeating event should be
// logged: the first one and then every interval-th.
func Sampled(n, interval uint64) bool {
	if interval == 0 {
		return n == 1
	}
	return n == 1 || n%interval == 0
}

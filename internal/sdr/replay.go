package sdr

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// BytesPerSample is the size of one interleaved I16Q16 little-endian sample.
const BytesPerSample = 4

// ReplaySource streams a raw capture (interleaved int16 LE I/Q, as written by
// the raw sample sink) back through the SampleSource interface.
type ReplaySource struct {
	mu        sync.Mutex
	path      string
	loop      bool
	realtime  bool
	file      *os.File
	r         *bufio.Reader
	cfg       Config
	raw       []byte
	devTime   time.Duration
	streaming bool
	eof       bool
}

// NewReplay opens path for replay. With loop set the capture restarts at EOF;
// otherwise EOF is reported once as end-of-burst and then as timeouts.
func NewReplay(path string, loop, realtime bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	return &ReplaySource{
		path:     path,
		loop:     loop,
		realtime: realtime,
		file:     f,
		r:        bufio.NewReaderSize(f, 1<<16),
	}, nil
}

func (s *ReplaySource) Configure(_ context.Context, cfg Config) error {
	if cfg.SampleRate <= 0 {
		return &ConfigError{Param: "rate", Value: cfg.SampleRate, Err: ErrOutOfRange}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *ReplaySource) Actual() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *ReplaySource) StartStreaming(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("replay source closed")
	}
	s.streaming = true
	return nil
}

func (s *ReplaySource) StopStreaming() error {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
	return nil
}

func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *ReplaySource) Receive(buf []Sample, timeout time.Duration) (int, Metadata) {
	s.mu.Lock()
	if !s.streaming || s.eof {
		s.mu.Unlock()
		sleep(timeout)
		return 0, Metadata{ErrorCode: ErrorTimeout}
	}
	n, meta := s.readLocked(buf)
	rate := s.cfg.SampleRate
	s.mu.Unlock()

	if s.realtime && rate > 0 {
		sleep(min(time.Duration(float64(n)/rate*float64(time.Second)), timeout))
	}
	return n, meta
}

func (s *ReplaySource) readLocked(buf []Sample) (int, Metadata) {
	need := len(buf) * BytesPerSample
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	meta := Metadata{HasTimeSpec: true, TimeSpec: s.devTime, StartOfBurst: s.devTime == 0}
	got, err := io.ReadFull(s.r, raw)
	n := decodeIQ(buf, raw[:got])
	if s.cfg.SampleRate > 0 {
		s.devTime += time.Duration(float64(n) / s.cfg.SampleRate * float64(time.Second))
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		meta.EndOfBurst = true
		if s.loop {
			if _, serr := s.file.Seek(0, io.SeekStart); serr == nil {
				s.r.Reset(s.file)
				s.devTime = 0
				break
			}
		}
		s.eof = true
	default:
		meta.ErrorCode = ErrorBadPacket
	}
	if n == 0 && meta.EndOfBurst {
		meta.HasTimeSpec = false
	}
	return n, meta
}

// DecodeIQ converts interleaved int16 LE bytes into samples. A trailing
// partial sample is ignored.
func DecodeIQ(raw []byte) []Sample {
	out := make([]Sample, len(raw)/BytesPerSample)
	decodeIQ(out, raw)
	return out
}

// decodeIQ fills dst from raw and returns the number of whole samples
// decoded, bounded by len(dst).
func decodeIQ(dst []Sample, raw []byte) int {
	n := min(len(dst), len(raw)/BytesPerSample)
	for i := 0; i < n; i++ {
		off := i * BytesPerSample
		dst[i] = Sample{
			I: int16(binary.LittleEndian.Uint16(raw[off : off+2])),
			Q: int16(binary.LittleEndian.Uint16(raw[off+2 : off+4])),
		}
	}
	return n
}

// AppendIQ appends samples to dst in interleaved int16 LE form.
func AppendIQ(dst []byte, samples []Sample) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.I))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Q))
	}
	return dst
}

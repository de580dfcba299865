package telemetry

import (
	"time"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// Record is the translation of one receive status, published once per
// acquisition iteration.
type Record struct {
	Session          string        `json:"session"`
	Seq              uint64        `json:"seq"`
	Time             time.Time     `json:"time"`
	Buffer           int           `json:"buffer"`
	Count            int           `json:"count"`
	TimestampPresent bool          `json:"timestampPresent"`
	Timestamp        time.Duration `json:"timestampNs"`
	FragmentOffset   int           `json:"fragmentOffset"`
	MoreFragments    bool          `json:"moreFragments"`
	BurstStart       bool          `json:"burstStart"`
	BurstEnd         bool          `json:"burstEnd"`
	ErrorKind        sdr.ErrorCode `json:"-"`
	ErrorName        string        `json:"errorKind"`
	// Consecutive is the number of back-to-back iterations, this one
	// included, that returned ErrorKind.
	Consecutive int `json:"consecutive"`
}

// NewRecord translates receive metadata into a Record.
func NewRecord(session string, seq uint64, buffer, count int, meta sdr.Metadata, consecutive int) Record {
	r := Record{
		Session:          session,
		Seq:              seq,
		Time:             time.Now(),
		Buffer:           buffer,
		Count:            count,
		TimestampPresent: meta.HasTimeSpec,
		FragmentOffset:   meta.FragmentOffset,
		MoreFragments:    meta.MoreFragments,
		BurstStart:       meta.StartOfBurst,
		BurstEnd:         meta.EndOfBurst,
		ErrorKind:        meta.ErrorCode,
		ErrorName:        meta.ErrorCode.String(),
		Consecutive:      consecutive,
	}
	if meta.HasTimeSpec {
		r.Timestamp = meta.TimeSpec
	}
	return r
}

// OK reports whether the iteration completed without a receive error.
func (r Record) OK() bool { return r.ErrorKind == sdr.ErrorNone }

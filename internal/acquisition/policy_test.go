package acquisition

import (
	"testing"

	"github.com/rjboer/rxcapture/internal/sdr"
)

func TestParseEscalationLimits(t *testing.T) {
	p, err := ParseEscalationLimits(map[string]int{"broken-chain": 3, "overflow": 0})
	if err != nil {
		t.Fatalf("ParseEscalationLimits: %v", err)
	}
	if p.Limits[sdr.ErrorBrokenChain] != 3 {
		t.Fatalf("unexpected limits %v", p.Limits)
	}
	if p.Exceeded(sdr.ErrorBrokenChain, 2) || !p.Exceeded(sdr.ErrorBrokenChain, 3) {
		t.Fatal("broken chain limit not applied at 3")
	}
	if p.Exceeded(sdr.ErrorOverflow, 1000) {
		t.Fatal("zero limit must never escalate")
	}
	if p.Exceeded(sdr.ErrorNone, 1000) {
		t.Fatal("ok status must never escalate")
	}

	for _, bad := range []map[string]int{{"meltdown": 1}, {"ok": 2}, {"overflow": -1}} {
		if _, err := ParseEscalationLimits(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestStreakCountsRunsOfSameCode(t *testing.T) {
	var s streak
	codes := []sdr.ErrorCode{sdr.ErrorNone, sdr.ErrorOverflow, sdr.ErrorOverflow, sdr.ErrorTimeout, sdr.ErrorOverflow}
	want := []int{1, 1, 2, 1, 1}
	for i, c := range codes {
		if got := s.observe(c); got != want[i] {
			t.Fatalf("step %d: got %d want %d", i, got, want[i])
		}
	}
}

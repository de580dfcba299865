package acquisition

import (
	"fmt"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// EscalationPolicy turns sustained receive errors into a fatal stop. Limits
// maps an error code to the number of consecutive iterations that may report
// it; the iteration that reaches the limit ends the task. A missing or zero
// limit never escalates.
type EscalationPolicy struct {
	Limits map[sdr.ErrorCode]int
}

// ParseEscalationLimits builds a policy from error code names such as
// "broken_chain" or "overflow".
func ParseEscalationLimits(limits map[string]int) (EscalationPolicy, error) {
	p := EscalationPolicy{Limits: make(map[sdr.ErrorCode]int, len(limits))}
	for name, n := range limits {
		code, err := sdr.ParseErrorCode(name)
		if err != nil {
			return EscalationPolicy{}, err
		}
		if code == sdr.ErrorNone {
			return EscalationPolicy{}, fmt.Errorf("escalation limit on %q has no effect", name)
		}
		if n < 0 {
			return EscalationPolicy{}, fmt.Errorf("escalation limit for %s must not be negative", code)
		}
		p.Limits[code] = n
	}
	return p, nil
}

// Exceeded reports whether consecutive occurrences of code trip the policy.
func (p EscalationPolicy) Exceeded(code sdr.ErrorCode, consecutive int) bool {
	if code == sdr.ErrorNone {
		return false
	}
	limit := p.Limits[code]
	return limit > 0 && consecutive >= limit
}

// streak counts back-to-back iterations that returned the same code.
type streak struct {
	code sdr.ErrorCode
	n    int
}

func (s *streak) observe(code sdr.ErrorCode) int {
	if code != s.code {
		s.code = code
		s.n = 0
	}
	s.n++
	return s.n
}

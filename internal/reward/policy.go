// Package reward maps verification outcomes to reward signals.
package reward

import (
	"errors"
	"fmt"
)

// Verify statuses recognized by the policy. A plan's terminal status is
// always one of these.
const (
	StatusConfirmed   = "confirmed"
	StatusInvalidated = "invalidated"
	StatusAdjusted    = "adjusted"
)

var requiredStatuses = []string{StatusConfirmed, StatusInvalidated, StatusAdjusted}

// ErrUnknownStatus is returned by Lookup for a status outside the verify map.
var ErrUnknownStatus = errors.New("unknown verify status")

// Verdict is the reward signal attached to one verification outcome.
type Verdict struct {
	RewardScalar float64 `json:"reward_scalar"`
	Confidence   float64 `json:"confidence"`
}

// Policy is the static verify-status-to-reward configuration consumed by
// the planner.
type Policy struct {
	verdicts map[string]Verdict
}

// NewPolicy validates the verify map and builds the policy. The map must
// carry exactly the three recognized statuses; anything missing or extra is
// a configuration error surfaced at startup, never per message.
func NewPolicy(verifyMap map[string]Verdict) (*Policy, error) {
	if len(verifyMap) == 0 {
		return nil, fmt.Errorf("verify_map is empty")
	}
	for _, status := range requiredStatuses {
		if _, ok := verifyMap[status]; !ok {
			return nil, fmt.Errorf("verify_map missing required status %q", status)
		}
	}
	for status := range verifyMap {
		known := false
		for _, want := range requiredStatuses {
			if status == want {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("verify_map has unrecognized status %q", status)
		}
	}

	verdicts := make(map[string]Verdict, len(verifyMap))
	for status, v := range verifyMap {
		if v.Confidence < 0 || v.Confidence > 1 {
			return nil, fmt.Errorf("verify_map[%s]: confidence %v outside [0,1]", status, v.Confidence)
		}
		verdicts[status] = v
	}
	return &Policy{verdicts: verdicts}, nil
}

// DefaultPolicy returns the stock reward mapping used when no verify map
// is configured.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(map[string]Verdict{
		StatusConfirmed:   {RewardScalar: 1.0, Confidence: 0.9},
		StatusInvalidated: {RewardScalar: -1.0, Confidence: 0.9},
		StatusAdjusted:    {RewardScalar: 0.25, Confidence: 0.6},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup resolves the verdict for a verify status.
func (p *Policy) Lookup(status string) (Verdict, error) {
	v, ok := p.verdicts[status]
	if !ok {
		return Verdict{}, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return v, nil
}

// KnownStatus reports whether the status is one the policy resolves.
func (p *Policy) KnownStatus(status string) bool {
	_, ok := p.verdicts[status]
	return ok
}

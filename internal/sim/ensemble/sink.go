package ensemble

import (
	"emberguide.ai/internal/sim/perturb"
)

// MemberStatus is a single member's fate.
type MemberStatus string

const (
	MemberOK        MemberStatus = "ok"
	MemberFailed    MemberStatus = "failed"
	MemberCancelled MemberStatus = "cancelled"
)

// MemberRecord is handed to a MemberSink once per member after the run has
// been reduced, in member order.
type MemberRecord struct {
	RunID        string         `json:"run_id"`
	FireID       string         `json:"fire_id,omitempty"`
	Member       int            `json:"member"`
	Status       MemberStatus   `json:"status"`
	Error        string         `json:"error,omitempty"`
	Perturbation perturb.Vector `json:"perturbation"`
	Steps        int            `json:"steps"`
	Burned       int            `json:"burned"`
	// IgnitionStep is nil for members that did not finish.
	IgnitionStep []int32 `json:"-"`
}

type MemberSink interface {
	WriteMember(rec MemberRecord) error
}

// MultiSink fans records out to every sink and returns the first error.
type MultiSink []MemberSink

func (m MultiSink) WriteMember(rec MemberRecord) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.WriteMember(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

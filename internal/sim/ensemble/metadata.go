package ensemble

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"emberguide.ai/internal/sim/io/digestcodec"
	"emberguide.ai/internal/sim/simerr"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Metadata describes one ensemble run.
type Metadata struct {
	RunID             string        `json:"run_id"`
	FireID            string        `json:"fire_id,omitempty"`
	Seed              int64         `json:"seed"`
	ConfigFingerprint string        `json:"config_fingerprint"`
	DomainDigest      string        `json:"domain_digest"`
	EnsembleSize      int           `json:"ensemble_size"`
	Succeeded         int           `json:"succeeded"`
	Failed            int           `json:"failed"`
	Cancelled         int           `json:"cancelled"`
	Status            Status        `json:"status"`
	Reason            simerr.Code   `json:"reason,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	// CancelledMembers lists, in ascending order, the members that never
	// finished. Replays must exclude the same set to reproduce Digest.
	CancelledMembers []int `json:"cancelled_members,omitempty"`
	// Digest covers the aggregate grids only, so reruns with the same
	// inputs match regardless of pool size or timing.
	Digest string `json:"digest"`
}

// Partial reports whether cancellation cut the run short, leaving Digest
// dependent on which members happened to finish.
func (m Metadata) Partial() bool { return len(m.CancelledMembers) > 0 }

// FailedFraction counts cancelled members as failed.
func (m Metadata) FailedFraction() float64 {
	if m.EnsembleSize == 0 {
		return 0
	}
	return float64(m.Failed+m.Cancelled) / float64(m.EnsembleSize)
}

// classify derives the run status and reason from member counts.
func classify(size, succeeded, failed, cancelled int, maxFailure float64) (Status, simerr.Code) {
	lost := failed + cancelled
	switch {
	case succeeded == 0:
		if cancelled > 0 {
			return StatusFailed, simerr.CodeCancelled
		}
		return StatusFailed, simerr.CodeFailureThreshold
	case lost == 0:
		return StatusSuccess, ""
	case float64(lost) > maxFailure*float64(size):
		if cancelled > 0 {
			return StatusFailed, simerr.CodeCancelled
		}
		return StatusFailed, simerr.CodeFailureThreshold
	case cancelled > 0:
		return StatusDegraded, simerr.CodeCancelled
	default:
		return StatusDegraded, simerr.CodeMemberFailure
	}
}

// DigestHorizons fingerprints aggregate grids bit-for-bit.
func DigestHorizons(hs []Horizon) string {
	h := sha256.New()
	var tmp [8]byte
	digestcodec.WriteU64(h, &tmp, uint64(len(hs)))
	for _, hz := range hs {
		digestcodec.WriteI64(h, &tmp, int64(hz.Step))
		digestcodec.WriteF64s(h, &tmp, hz.Probability)
		digestcodec.WriteF64s(h, &tmp, hz.Direction)
		digestcodec.WriteF64s(h, &tmp, hz.Uncertainty)
	}
	return hex.EncodeToString(h.Sum(nil))
}

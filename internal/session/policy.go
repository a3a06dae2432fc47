package session

import (
	"fmt"

	"netball/server/internal/sim"
)

// ResyncReason records one failed correction.
type ResyncReason struct {
	Kind   string
	Player sim.PlayerID
	Frame  sim.Frame
}

const (
	ReasonLateInput     = "late_input"
	ReasonFrameNotFound = "frame_not_found"
)

// ResyncSignal asks for a full-state transfer.
type ResyncSignal struct {
	Failures uint64
	Attempts uint64
	Reasons  []ResyncReason
}

// Policy watches correction attempts and raises a resync once failures
// exceed both an absolute floor and a share of all attempts.
type Policy struct {
	attempts uint64
	failures uint64
	pending  bool
	reasons  []ResyncReason
}

const (
	resyncMinFailures    = 3
	resyncFailurePercent = 5
	resyncReasonLimit    = 8
)

func NewPolicy() *Policy {
	return &Policy{reasons: make([]ResyncReason, 0, resyncReasonLimit)}
}

// NoteAttempt counts one remote input or correction.
func (p *Policy) NoteAttempt() {
	if p.attempts == ^uint64(0) {
		p.attempts /= 2
		p.failures /= 2
	}
	p.attempts++
}

// NoteFailure counts an input that could not be applied.
func (p *Policy) NoteFailure(kind string, player sim.PlayerID, frame sim.Frame) {
	p.failures++
	if len(p.reasons) < resyncReasonLimit {
		p.reasons = append(p.reasons, ResyncReason{Kind: kind, Player: player, Frame: frame})
	}
	p.evaluate()
}

func (p *Policy) evaluate() {
	if p.pending || p.failures < resyncMinFailures {
		return
	}
	attempts := max(p.attempts, 1)
	if p.failures*100 >= attempts*resyncFailurePercent {
		p.pending = true
	}
}

// Pending reports whether a signal is waiting to be consumed.
func (p *Policy) Pending() bool {
	return p.pending
}

// Consume returns the pending signal and resets the counters.
func (p *Policy) Consume() (ResyncSignal, bool) {
	if !p.pending {
		return ResyncSignal{}, false
	}
	signal := ResyncSignal{
		Failures: p.failures,
		Attempts: p.attempts,
		Reasons:  append([]ResyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.attempts = 0
	p.failures = 0
	p.reasons = p.reasons[:0]
	return signal, true
}

func (s ResyncSignal) Summary() string {
	if s.Failures == 0 && s.Attempts == 0 {
		return ""
	}
	return fmt.Sprintf("failures=%d attempts=%d reasons=%v", s.Failures, s.Attempts, s.Reasons)
}

package history

import (
	"fmt"

	"netball/server/internal/sim"
)

// Snapshot is the world as a frame begins.
type Snapshot struct {
	Frame sim.Frame
	State sim.State
}

// Eviction names a snapshot that left the window.
type Eviction struct {
	Frame  sim.Frame
	Reason string
}

const (
	EvictReasonWrapped = "wrapped"
	EvictReasonHorizon = "horizon"
)

// SaveResult describes the window after a Save.
type SaveResult struct {
	Size    int
	Oldest  sim.Frame
	Newest  sim.Frame
	Evicted []Eviction
}

type slot struct {
	frame sim.Frame
	valid bool
	state sim.State
}

// StateHistory is a fixed-capacity ring of snapshots indexed by frame
// modulo capacity. Every state going in or out is deep-copied.
type StateHistory struct {
	slots []slot
	size  int
}

// NewStateHistory holds up to capacity consecutive frames.
func NewStateHistory(capacity int) *StateHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &StateHistory{slots: make([]slot, capacity)}
}

// Capacity reports how many consecutive frames fit in the ring.
func (h *StateHistory) Capacity() int {
	return len(h.slots)
}

func (h *StateHistory) index(frame sim.Frame) int {
	n := sim.Frame(len(h.slots))
	return int(((frame % n) + n) % n)
}

// Save stores a copy of state under frame, replacing whatever occupied the
// same ring slot.
func (h *StateHistory) Save(frame sim.Frame, state sim.State) SaveResult {
	s := &h.slots[h.index(frame)]
	var evicted []Eviction
	if s.valid && s.frame != frame {
		evicted = append(evicted, Eviction{Frame: s.frame, Reason: EvictReasonWrapped})
	}
	if !s.valid {
		h.size++
	}
	s.frame = frame
	s.valid = true
	s.state = state.Clone()

	result := h.result()
	result.Evicted = evicted
	return result
}

// Get returns a copy of the snapshot for frame.
func (h *StateHistory) Get(frame sim.Frame) (sim.State, error) {
	s := h.slots[h.index(frame)]
	if !s.valid || s.frame != frame {
		return sim.State{}, fmt.Errorf("snapshot for frame %d: %w", frame, ErrFrameNotFound)
	}
	return s.state.Clone(), nil
}

// Has reports whether frame is retained.
func (h *StateHistory) Has(frame sim.Frame) bool {
	s := h.slots[h.index(frame)]
	return s.valid && s.frame == frame
}

// PruneOlderThan drops snapshots older than current-horizon. The snapshot
// at exactly current-horizon is kept.
func (h *StateHistory) PruneOlderThan(horizon int, current sim.Frame) []Eviction {
	cutoff := current - sim.Frame(horizon)
	var evicted []Eviction
	for i := range h.slots {
		s := &h.slots[i]
		if s.valid && s.frame < cutoff {
			evicted = append(evicted, Eviction{Frame: s.frame, Reason: EvictReasonHorizon})
			h.drop(s)
		}
	}
	return evicted
}

// DiscardAfter drops snapshots newer than frame.
func (h *StateHistory) DiscardAfter(frame sim.Frame) int {
	dropped := 0
	for i := range h.slots {
		s := &h.slots[i]
		if s.valid && s.frame > frame {
			h.drop(s)
			dropped++
		}
	}
	return dropped
}

// Clear empties the ring.
func (h *StateHistory) Clear() {
	for i := range h.slots {
		h.slots[i] = slot{}
	}
	h.size = 0
}

// Window reports the number of retained snapshots and the frames at either
// end.
func (h *StateHistory) Window() (size int, oldest, newest sim.Frame) {
	r := h.result()
	return r.Size, r.Oldest, r.Newest
}

// Snapshots lists retained snapshots in ascending frame order.
func (h *StateHistory) Snapshots() []Snapshot {
	if h.size == 0 {
		return nil
	}
	_, oldest, newest := h.Window()
	out := make([]Snapshot, 0, h.size)
	for frame := oldest; frame <= newest; frame++ {
		if state, err := h.Get(frame); err == nil {
			out = append(out, Snapshot{Frame: frame, State: state})
		}
	}
	return out
}

func (h *StateHistory) drop(s *slot) {
	*s = slot{}
	h.size--
}

func (h *StateHistory) result() SaveResult {
	result := SaveResult{Size: h.size}
	first := true
	for _, s := range h.slots {
		if !s.valid {
			continue
		}
		if first || s.frame < result.Oldest {
			result.Oldest = s.frame
		}
		if first || s.frame > result.Newest {
			result.Newest = s.frame
		}
		first = false
	}
	return result
}

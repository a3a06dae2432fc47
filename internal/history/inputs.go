// Package history keeps the bounded per-frame records a rollback needs: the
// input every player contributed to each frame and the world snapshot at the
// start of each frame.
package history

import (
	"errors"
	"fmt"
	"sort"

	"netball/server/internal/sim"
)

// ErrFrameNotFound reports a frame that was never recorded or has been
// pruned.
var ErrFrameNotFound = errors.New("history: frame not found")

// InputHistory maps frame -> player -> input. It grows until PruneBelow is
// called; the rollback engine prunes it every frame.
type InputHistory struct {
	frames map[sim.Frame]map[sim.PlayerID]sim.FrameInput
}

// NewInputHistory returns an empty history.
func NewInputHistory() *InputHistory {
	return &InputHistory{frames: make(map[sim.Frame]map[sim.PlayerID]sim.FrameInput)}
}

// Set records input for (frame, player), replacing any earlier value. The
// stored input is stamped with frame.
func (h *InputHistory) Set(frame sim.Frame, player sim.PlayerID, input sim.FrameInput) {
	players, ok := h.frames[frame]
	if !ok {
		players = make(map[sim.PlayerID]sim.FrameInput, 2)
		h.frames[frame] = players
	}
	players[player] = input.At(frame)
}

// Get returns the recorded input for (frame, player).
func (h *InputHistory) Get(frame sim.Frame, player sim.PlayerID) (sim.FrameInput, error) {
	if players, ok := h.frames[frame]; ok {
		if input, ok := players[player]; ok {
			return input, nil
		}
	}
	return sim.FrameInput{}, fmt.Errorf("input for frame %d player %d: %w", frame, player, ErrFrameNotFound)
}

// Has reports whether (frame, player) has a recorded input.
func (h *InputHistory) Has(frame sim.Frame, player sim.PlayerID) bool {
	_, err := h.Get(frame, player)
	return err == nil
}

// Row returns one input per slot for frame, substituting neutral input for
// any slot without a record.
func (h *InputHistory) Row(frame sim.Frame, players int) []sim.FrameInput {
	row := make([]sim.FrameInput, players)
	recorded := h.frames[frame]
	for i := range row {
		if input, ok := recorded[sim.PlayerID(i)]; ok {
			row[i] = input
			continue
		}
		row[i] = sim.NeutralInput(frame)
	}
	return row
}

// FillRange records input for player on every frame in [start, end].
func (h *InputHistory) FillRange(start, end sim.Frame, player sim.PlayerID, input sim.FrameInput) {
	for frame := start; frame <= end; frame++ {
		h.Set(frame, player, input)
	}
}

// PruneBelow drops every frame strictly below minFrame and reports how many
// frames were removed.
func (h *InputHistory) PruneBelow(minFrame sim.Frame) int {
	removed := 0
	for frame := range h.frames {
		if frame < minFrame {
			delete(h.frames, frame)
			removed++
		}
	}
	return removed
}

// Clear drops every record.
func (h *InputHistory) Clear() {
	h.frames = make(map[sim.Frame]map[sim.PlayerID]sim.FrameInput)
}

// Len reports the number of frames with at least one record.
func (h *InputHistory) Len() int {
	return len(h.frames)
}

// Frames lists recorded frames in ascending order.
func (h *InputHistory) Frames() []sim.Frame {
	frames := make([]sim.Frame, 0, len(h.frames))
	for frame := range h.frames {
		frames = append(frames, frame)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames
}

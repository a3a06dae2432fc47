// Package sim holds the deterministic physics model: bodies, per-frame input,
// world constants and the pure step function that advances them.
package sim

import (
	"errors"
	"fmt"

	"netball/server/internal/fixed"
)

// Frame numbers a fixed simulation step. Frame 0 is the bootstrap frame.
type Frame int64

// PlayerID is a player slot index. Slot N drives State.Bodies[N].
type PlayerID uint8

var (
	// ErrInvalidInputRange reports a horizontal axis outside [-1, 1].
	ErrInvalidInputRange = errors.New("sim: horizontal axis outside [-1, 1]")
	// ErrUnknownPlayer reports a player slot with no body.
	ErrUnknownPlayer = errors.New("sim: unknown player slot")
	// ErrInvalidWorld reports bounds or a timestep that cannot be simulated.
	ErrInvalidWorld = errors.New("sim: invalid world")
)

// Body is one dynamic circle together with its tunables.
type Body struct {
	PositionX fixed.Fixed `json:"x"`
	PositionY fixed.Fixed `json:"y"`
	VelocityX fixed.Fixed `json:"vx"`
	VelocityY fixed.Fixed `json:"vy"`
	Radius    fixed.Fixed `json:"radius"`
	JumpForce fixed.Fixed `json:"jumpForce"`
	MoveSpeed fixed.Fixed `json:"moveSpeed"`
}

// Grounded reports whether the body touches or sits below the floor.
func (b Body) Grounded(bottom fixed.Fixed) bool {
	return b.PositionY.Sub(b.Radius).LessEq(bottom)
}

// State is the full simulation state: one body per player slot.
type State struct {
	Bodies []Body `json:"bodies"`
}

// NewState builds a state with one body per slot.
func NewState(bodies ...Body) State {
	return State{Bodies: append([]Body(nil), bodies...)}
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	if s.Bodies == nil {
		return State{}
	}
	return State{Bodies: append([]Body(nil), s.Bodies...)}
}

// Equal compares every field of every body.
func (s State) Equal(other State) bool {
	if len(s.Bodies) != len(other.Bodies) {
		return false
	}
	for i := range s.Bodies {
		if s.Bodies[i] != other.Bodies[i] {
			return false
		}
	}
	return true
}

// Players reports the number of player slots.
func (s State) Players() int {
	return len(s.Bodies)
}

// FrameInput is what one player contributed to one frame.
type FrameInput struct {
	Frame Frame       `json:"frame"`
	Axis  fixed.Fixed `json:"axis"`
	Jump  bool        `json:"jump"`
}

// NeutralInput is the no-op input for a frame.
func NeutralInput(frame Frame) FrameInput {
	return FrameInput{Frame: frame}
}

// Validate rejects an axis outside [-1, 1].
func (in FrameInput) Validate() error {
	if in.Axis.Less(fixed.One.Neg()) || in.Axis.Greater(fixed.One) {
		return fmt.Errorf("%w: frame %d axis %s", ErrInvalidInputRange, in.Frame, in.Axis)
	}
	return nil
}

// SameAction compares the input content, ignoring the frame number.
func (in FrameInput) SameAction(other FrameInput) bool {
	return in.Axis == other.Axis && in.Jump == other.Jump
}

// At returns a copy of in stamped with frame.
func (in FrameInput) At(frame Frame) FrameInput {
	in.Frame = frame
	return in
}

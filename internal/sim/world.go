package sim

import (
	"fmt"

	"netball/server/internal/fixed"
)

// Bounds is the axis-aligned play area.
type Bounds struct {
	Left   fixed.Fixed `json:"left"`
	Right  fixed.Fixed `json:"right"`
	Bottom fixed.Fixed `json:"bottom"`
	Top    fixed.Fixed `json:"top"`
}

// World holds the constants shared by every body in a match.
type World struct {
	Gravity fixed.Fixed `json:"gravity"`
	Dt      fixed.Fixed `json:"dt"`
	Bounds  Bounds      `json:"bounds"`
}

// BodyParams are the per-body tunables used when spawning.
type BodyParams struct {
	Radius    fixed.Fixed
	JumpForce fixed.Fixed
	MoveSpeed fixed.Fixed
}

// DefaultWorld is a 60 Hz world with earth gravity and a 16x9 arena.
func DefaultWorld() World {
	dt, _ := fixed.FromRatio(1, 60)
	return World{
		Gravity: fixed.MustParse("-9.81"),
		Dt:      dt,
		Bounds: Bounds{
			Left:   fixed.FromInt(-8),
			Right:  fixed.FromInt(8),
			Bottom: fixed.MustParse("-4.5"),
			Top:    fixed.MustParse("4.5"),
		},
	}
}

// DefaultBodyParams matches the tuning of the reference arena.
func DefaultBodyParams() BodyParams {
	return BodyParams{
		Radius:    fixed.Half,
		JumpForce: fixed.FromInt(15),
		MoveSpeed: fixed.FromInt(5),
	}
}

// Validate rejects degenerate bounds and non-positive timesteps.
func (w World) Validate() error {
	b := w.Bounds
	if !b.Left.Less(b.Right) {
		return fmt.Errorf("%w: left %s must be below right %s", ErrInvalidWorld, b.Left, b.Right)
	}
	if !b.Bottom.Less(b.Top) {
		return fmt.Errorf("%w: bottom %s must be below top %s", ErrInvalidWorld, b.Bottom, b.Top)
	}
	if !w.Dt.Greater(fixed.Zero) {
		return fmt.Errorf("%w: dt %s must be positive", ErrInvalidWorld, w.Dt)
	}
	return nil
}

// Spawn places players bodies resting on the floor, spread evenly across the
// arena from left to right.
func (w World) Spawn(players int, params BodyParams) State {
	if players < 1 {
		players = 1
	}
	width := w.Bounds.Right.Sub(w.Bounds.Left)
	slot, _ := width.Div(fixed.FromInt(int64(players + 1)))
	bodies := make([]Body, players)
	for i := range bodies {
		bodies[i] = Body{
			PositionX: w.Bounds.Left.Add(slot.Mul(fixed.FromInt(int64(i + 1)))),
			PositionY: w.Bounds.Bottom.Add(params.Radius),
			Radius:    params.Radius,
			JumpForce: params.JumpForce,
			MoveSpeed: params.MoveSpeed,
		}
	}
	return State{Bodies: bodies}
}

package sim

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"netball/server/internal/fixed"
)

func restingBody(w World) Body {
	return w.Spawn(1, DefaultBodyParams()).Bodies[0]
}

func TestJumpFromGroundSetsJumpVelocity(t *testing.T) {
	w := DefaultWorld()
	b := restingBody(w)
	if !b.Grounded(w.Bounds.Bottom) {
		t.Fatalf("expected spawned body to be grounded")
	}

	next := Step(b, FrameInput{Frame: 0, Jump: true}, w)
	want := b.JumpForce.Add(w.Gravity.Mul(w.Dt))
	if next.VelocityY != want {
		t.Fatalf("expected vy %s after jump frame, got %s", want, next.VelocityY)
	}
	if !next.PositionY.Greater(b.PositionY) {
		t.Fatalf("expected body to leave the floor, y went %s -> %s", b.PositionY, next.PositionY)
	}
}

func TestJumpWhileAirborneIsIgnored(t *testing.T) {
	w := DefaultWorld()
	b := Step(restingBody(w), FrameInput{Jump: true}, w)

	next := Step(b, FrameInput{Frame: 1, Jump: true}, w)
	want := b.VelocityY.Add(w.Gravity.Mul(w.Dt))
	if next.VelocityY != want {
		t.Fatalf("expected airborne jump to be ignored: vy %s, want %s", next.VelocityY, want)
	}
}

func TestRestingBodyStaysOnFloor(t *testing.T) {
	w := DefaultWorld()
	b := restingBody(w)
	for i := 0; i < 120; i++ {
		b = Step(b, NeutralInput(Frame(i)), w)
	}
	if b.PositionY != w.Bounds.Bottom.Add(b.Radius) {
		t.Fatalf("expected body to rest on floor, y=%s", b.PositionY)
	}
	if !b.VelocityY.IsZero() {
		t.Fatalf("expected zero vertical velocity at rest, got %s", b.VelocityY)
	}
}

func TestWallClampIsIdempotent(t *testing.T) {
	w := DefaultWorld()
	b := restingBody(w)
	right := FrameInput{Axis: fixed.One}
	for i := 0; i < 600; i++ {
		b = Step(b, right.At(Frame(i)), w)
	}
	edge := w.Bounds.Right.Sub(b.Radius)
	if b.PositionX != edge {
		t.Fatalf("expected x clamped to %s, got %s", edge, b.PositionX)
	}
	if !b.VelocityX.IsZero() {
		t.Fatalf("expected vx zeroed at wall, got %s", b.VelocityX)
	}
	again := Step(b, right.At(600), w)
	if again.PositionX != edge || !again.VelocityX.IsZero() {
		t.Fatalf("expected clamp to hold, got x=%s vx=%s", again.PositionX, again.VelocityX)
	}
}

func TestLeftWallAndCeiling(t *testing.T) {
	w := DefaultWorld()
	b := Body{
		PositionX: w.Bounds.Left,
		PositionY: w.Bounds.Top,
		VelocityY: fixed.FromInt(3),
		Radius:    fixed.Half,
		MoveSpeed: fixed.FromInt(5),
	}
	next := Step(b, FrameInput{Axis: fixed.One.Neg()}, w)
	if next.PositionX != w.Bounds.Left.Add(b.Radius) || !next.VelocityX.IsZero() {
		t.Fatalf("expected left clamp, got x=%s vx=%s", next.PositionX, next.VelocityX)
	}
	if next.PositionY != w.Bounds.Top.Sub(b.Radius) || !next.VelocityY.IsZero() {
		t.Fatalf("expected top clamp, got y=%s vy=%s", next.PositionY, next.VelocityY)
	}
}

func TestReleasingAxisStopsHorizontalMotion(t *testing.T) {
	w := DefaultWorld()
	b := Step(restingBody(w), FrameInput{Axis: fixed.One}, w)
	if b.VelocityX != b.MoveSpeed {
		t.Fatalf("expected vx %s, got %s", b.MoveSpeed, b.VelocityX)
	}
	b = Step(b, NeutralInput(1), w)
	if !b.VelocityX.IsZero() {
		t.Fatalf("expected vx to reset with neutral input, got %s", b.VelocityX)
	}
}

func TestValidateInput(t *testing.T) {
	for _, raw := range []string{"1.0001", "-1.5", "2"} {
		in := FrameInput{Axis: fixed.MustParse(raw)}
		if err := in.Validate(); !errors.Is(err, ErrInvalidInputRange) {
			t.Fatalf("expected ErrInvalidInputRange for axis %s, got %v", raw, err)
		}
	}
	for _, raw := range []string{"1", "-1", "0", "0.5"} {
		in := FrameInput{Axis: fixed.MustParse(raw)}
		if err := in.Validate(); err != nil {
			t.Fatalf("expected axis %s to be valid, got %v", raw, err)
		}
	}
}

func TestValidateWorld(t *testing.T) {
	w := DefaultWorld()
	if err := w.Validate(); err != nil {
		t.Fatalf("default world invalid: %v", err)
	}
	w.Bounds.Left, w.Bounds.Right = w.Bounds.Right, w.Bounds.Left
	if err := w.Validate(); !errors.Is(err, ErrInvalidWorld) {
		t.Fatalf("expected ErrInvalidWorld, got %v", err)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	w := DefaultWorld()
	original := w.Spawn(2, DefaultBodyParams())
	copied := original.Clone()
	copied.Bodies[0].PositionX = fixed.FromInt(99)
	if original.Bodies[0].PositionX == copied.Bodies[0].PositionX {
		t.Fatalf("expected clone mutation to leave original untouched")
	}

	next := StepState(original, nil, w)
	next.Bodies[1].VelocityY = fixed.FromInt(7)
	if original.Bodies[1].VelocityY == next.Bodies[1].VelocityY {
		t.Fatalf("expected StepState result to be independent of its input")
	}
}

func TestSpawnSpreadsBodies(t *testing.T) {
	w := DefaultWorld()
	s := w.Spawn(3, DefaultBodyParams())
	if s.Players() != 3 {
		t.Fatalf("expected 3 bodies, got %d", s.Players())
	}
	for i := 1; i < len(s.Bodies); i++ {
		if !s.Bodies[i].PositionX.Greater(s.Bodies[i-1].PositionX) {
			t.Fatalf("expected bodies ordered left to right, got %s then %s", s.Bodies[i-1].PositionX, s.Bodies[i].PositionX)
		}
	}
}

func drawInputs(t *rapid.T, frames int) [][]FrameInput {
	inputs := make([][]FrameInput, frames)
	for f := range inputs {
		row := make([]FrameInput, 2)
		for p := range row {
			axis := rapid.IntRange(-4, 4).Draw(t, "axis")
			row[p] = FrameInput{
				Frame: Frame(f),
				Axis:  fixed.FromInt(int64(axis)).Mul(fixed.MustParse("0.25")),
				Jump:  rapid.Bool().Draw(t, "jump"),
			}
		}
		inputs[f] = row
	}
	return inputs
}

func TestStepDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := DefaultWorld()
		inputs := drawInputs(t, rapid.IntRange(1, 200).Draw(t, "frames"))

		run := func() State {
			s := w.Spawn(2, DefaultBodyParams())
			for _, row := range inputs {
				s = StepState(s, row, w)
			}
			return s
		}
		first, second := run(), run()
		if !first.Equal(second) || Checksum(first) != Checksum(second) {
			t.Fatalf("expected identical runs to produce identical states")
		}
	})
}

func TestChecksumDistinguishesStates(t *testing.T) {
	w := DefaultWorld()
	a := w.Spawn(2, DefaultBodyParams())
	b := a.Clone()
	b.Bodies[1].VelocityX = fixed.FromRaw(1)
	if Checksum(a) == Checksum(b) {
		t.Fatalf("expected checksums of differing states to differ")
	}
	if Checksum(a) != Checksum(a.Clone()) {
		t.Fatalf("expected checksum to be stable across clones")
	}
}

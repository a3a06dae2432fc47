package sim

import "netball/server/internal/fixed"

// Step advances one body by one frame. It is pure: the result depends only on
// its arguments.
//
// Order: the axis sets horizontal velocity, a jump fires if the body is on
// the floor at the start of the frame, gravity is integrated into vertical
// velocity, position is integrated, and finally the body is clamped into the
// bounds (left before right, top before bottom), zeroing the velocity
// component of any wall it touched.
func Step(b Body, in FrameInput, w World) Body {
	b.VelocityX = in.Axis.Mul(b.MoveSpeed)
	if in.Jump && b.Grounded(w.Bounds.Bottom) {
		b.VelocityY = b.JumpForce
	}

	b.VelocityY = b.VelocityY.Add(w.Gravity.Mul(w.Dt))
	b.PositionX = b.PositionX.Add(b.VelocityX.Mul(w.Dt))
	b.PositionY = b.PositionY.Add(b.VelocityY.Mul(w.Dt))

	return clamp(b, w.Bounds)
}

func clamp(b Body, bounds Bounds) Body {
	if b.PositionX.Sub(b.Radius).Less(bounds.Left) {
		b.PositionX = bounds.Left.Add(b.Radius)
		b.VelocityX = fixed.Zero
	} else if b.PositionX.Add(b.Radius).Greater(bounds.Right) {
		b.PositionX = bounds.Right.Sub(b.Radius)
		b.VelocityX = fixed.Zero
	}

	if b.PositionY.Add(b.Radius).Greater(bounds.Top) {
		b.PositionY = bounds.Top.Sub(b.Radius)
		b.VelocityY = fixed.Zero
	} else if b.PositionY.Sub(b.Radius).Less(bounds.Bottom) {
		b.PositionY = bounds.Bottom.Add(b.Radius)
		b.VelocityY = fixed.Zero
	}
	return b
}

// StepState advances every body with the input of its slot. Slots without an
// entry in inputs receive neutral input. The returned state never aliases s.
func StepState(s State, inputs []FrameInput, w World) State {
	next := State{Bodies: make([]Body, len(s.Bodies))}
	for i, body := range s.Bodies {
		in := FrameInput{}
		if i < len(inputs) {
			in = inputs[i]
		}
		next.Bodies[i] = Step(body, in, w)
	}
	return next
}

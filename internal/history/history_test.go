package history

import (
	"errors"
	"testing"

	"netball/server/internal/fixed"
	"netball/server/internal/sim"
)

func testState(x int64) sim.State {
	return sim.NewState(sim.Body{PositionX: fixed.FromInt(x), Radius: fixed.Half})
}

func TestInputHistorySetOverwrites(t *testing.T) {
	h := NewInputHistory()
	h.Set(5, 1, sim.FrameInput{Axis: fixed.One})
	h.Set(5, 1, sim.FrameInput{Axis: fixed.One.Neg(), Jump: true})

	got, err := h.Get(5, 1)
	if err != nil {
		t.Fatalf("expected input for frame 5, got %v", err)
	}
	if got.Axis != fixed.One.Neg() || !got.Jump || got.Frame != 5 {
		t.Fatalf("expected overwritten input stamped with frame 5, got %+v", got)
	}
	if _, err := h.Get(5, 0); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("expected ErrFrameNotFound for unrecorded player, got %v", err)
	}
}

func TestInputHistoryRowFillsNeutral(t *testing.T) {
	h := NewInputHistory()
	h.Set(3, 1, sim.FrameInput{Jump: true})
	row := h.Row(3, 3)
	if len(row) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(row))
	}
	if row[0] != sim.NeutralInput(3) || row[2] != sim.NeutralInput(3) {
		t.Fatalf("expected neutral inputs for unrecorded slots, got %+v", row)
	}
	if !row[1].Jump {
		t.Fatalf("expected recorded jump in slot 1, got %+v", row[1])
	}
}

func TestInputHistoryFillRangeInclusive(t *testing.T) {
	h := NewInputHistory()
	h.FillRange(10, 14, 0, sim.FrameInput{Axis: fixed.Half})
	for frame := sim.Frame(10); frame <= 14; frame++ {
		got, err := h.Get(frame, 0)
		if err != nil || got.Axis != fixed.Half || got.Frame != frame {
			t.Fatalf("expected filled input at frame %d, got %+v err=%v", frame, got, err)
		}
	}
	if h.Has(15, 0) || h.Has(9, 0) {
		t.Fatalf("expected range to stop at its bounds")
	}
}

func TestInputHistoryPruneBelow(t *testing.T) {
	h := NewInputHistory()
	h.FillRange(0, 9, 0, sim.FrameInput{})
	if removed := h.PruneBelow(4); removed != 4 {
		t.Fatalf("expected 4 frames pruned, got %d", removed)
	}
	if h.Has(3, 0) {
		t.Fatalf("expected frame 3 to be pruned")
	}
	if !h.Has(4, 0) {
		t.Fatalf("expected frame 4 to be retained")
	}
	frames := h.Frames()
	if len(frames) != 6 || frames[0] != 4 || frames[5] != 9 {
		t.Fatalf("unexpected retained frames %v", frames)
	}
}

func TestStateHistoryDeepCopies(t *testing.T) {
	h := NewStateHistory(8)
	state := testState(1)
	h.Save(0, state)
	state.Bodies[0].PositionX = fixed.FromInt(42)

	got, err := h.Get(0)
	if err != nil {
		t.Fatalf("expected snapshot for frame 0, got %v", err)
	}
	if got.Bodies[0].PositionX != fixed.FromInt(1) {
		t.Fatalf("expected stored snapshot to be isolated from caller mutation, got %s", got.Bodies[0].PositionX)
	}
	got.Bodies[0].PositionX = fixed.FromInt(7)
	again, _ := h.Get(0)
	if again.Bodies[0].PositionX != fixed.FromInt(1) {
		t.Fatalf("expected returned snapshot to be isolated from history, got %s", again.Bodies[0].PositionX)
	}
}

func TestStateHistoryWrapEvicts(t *testing.T) {
	h := NewStateHistory(4)
	for frame := sim.Frame(0); frame < 4; frame++ {
		if res := h.Save(frame, testState(int64(frame))); len(res.Evicted) != 0 {
			t.Fatalf("unexpected eviction saving frame %d: %+v", frame, res.Evicted)
		}
	}
	res := h.Save(4, testState(4))
	if len(res.Evicted) != 1 || res.Evicted[0].Frame != 0 || res.Evicted[0].Reason != EvictReasonWrapped {
		t.Fatalf("expected frame 0 to be wrapped out, got %+v", res.Evicted)
	}
	if res.Size != 4 || res.Oldest != 1 || res.Newest != 4 {
		t.Fatalf("unexpected window %+v", res)
	}
	if _, err := h.Get(0); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("expected wrapped frame to be gone, got %v", err)
	}
}

func TestStateHistoryPruneKeepsHorizonBoundary(t *testing.T) {
	h := NewStateHistory(16)
	for frame := sim.Frame(0); frame <= 12; frame++ {
		h.Save(frame, testState(int64(frame)))
	}
	evicted := h.PruneOlderThan(5, 12)
	if len(evicted) != 7 {
		t.Fatalf("expected frames 0..6 evicted, got %+v", evicted)
	}
	if !h.Has(7) {
		t.Fatalf("expected frame current-horizon to be retained")
	}
	if h.Has(6) {
		t.Fatalf("expected frame older than the horizon to be pruned")
	}
	size, oldest, newest := h.Window()
	if size != 6 || oldest != 7 || newest != 12 {
		t.Fatalf("unexpected window size=%d oldest=%d newest=%d", size, oldest, newest)
	}
}

func TestStateHistoryDiscardAfter(t *testing.T) {
	h := NewStateHistory(16)
	for frame := sim.Frame(0); frame < 10; frame++ {
		h.Save(frame, testState(int64(frame)))
	}
	if dropped := h.DiscardAfter(6); dropped != 3 {
		t.Fatalf("expected 3 snapshots discarded, got %d", dropped)
	}
	snaps := h.Snapshots()
	if len(snaps) != 7 || snaps[len(snaps)-1].Frame != 6 {
		t.Fatalf("unexpected snapshots after discard: %d, last=%+v", len(snaps), snaps[len(snaps)-1])
	}
}

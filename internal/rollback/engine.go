// Package rollback owns the frame counter, the input and state histories, and
// the live simulation state. It restores earlier frames and replays recorded
// input so late corrections converge to the state an all-knowing simulation
// would have produced.
//
// Frame convention: the snapshot stored under frame F is the world as frame
// F begins. The inputs recorded for frame F carry that snapshot to F+1.
//
// An Engine is not safe for concurrent use; one goroutine drives it.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"netball/server/internal/history"
	"netball/server/internal/sim"
	"netball/server/internal/telemetry"
	"netball/server/logging"
	rollbacklog "netball/server/logging/rollback"
)

// DefaultHorizon keeps five seconds of history at 60 frames per second.
const DefaultHorizon = 300

var (
	// ErrFrameNotFound reports a rollback target that was evicted, never
	// saved, or lies beyond the last saved frame.
	ErrFrameNotFound = history.ErrFrameNotFound
	// ErrNoPriorState reports an operation that needs a saved state before
	// Start has been called.
	ErrNoPriorState = errors.New("rollback: no prior state")
	// ErrFrameNotAdvanced reports StepAndSave without a matching AdvanceFrame.
	ErrFrameNotAdvanced = errors.New("rollback: frame not advanced since last save")
	// ErrInvalidTarget reports a replay target behind the current frame.
	ErrInvalidTarget = errors.New("rollback: target behind current frame")
	// ErrPlayerMismatch reports a state whose body count differs from the
	// configured player count.
	ErrPlayerMismatch = errors.New("rollback: player count mismatch")
)

const (
	metricRollbacks      = "rollback_total"
	metricRollbackFailed = "rollback_failed_total"
	metricResimulated    = "rollback_resimulated_frames_total"
	metricDepth          = "rollback_depth_last"
	metricStatesRetained = "rollback_states_retained"
	metricInputsRetained = "rollback_input_frames_retained"
)

// Mode reports whether the engine is stepping live or replaying.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAdvancing
	ModeResimulating
)

func (m Mode) String() string {
	switch m {
	case ModeAdvancing:
		return "advancing"
	case ModeResimulating:
		return "resimulating"
	default:
		return "idle"
	}
}

type Config struct {
	World   sim.World
	Horizon int
	Players int

	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Actor     logging.EntityRef
}

// Stats accumulates over the engine's lifetime.
type Stats struct {
	Rollbacks         uint64    `json:"rollbacks"`
	FailedRollbacks   uint64    `json:"failedRollbacks"`
	ResimulatedFrames uint64    `json:"resimulatedFrames"`
	DeepestRollback   int64     `json:"deepestRollback"`
	LastRollbackTo    sim.Frame `json:"lastRollbackTo"`
}

type Engine struct {
	world   sim.World
	horizon int
	players int

	inputs *history.InputHistory
	states *history.StateHistory

	started   bool
	current   sim.Frame
	lastSaved sim.Frame
	live      sim.State
	mode      Mode
	stats     Stats

	pub     logging.Publisher
	metrics telemetry.Metrics
	actor   logging.EntityRef
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.World.Validate(); err != nil {
		return nil, err
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	players := cfg.Players
	if players <= 0 {
		players = 1
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	actor := cfg.Actor
	if actor.Kind == "" {
		actor.Kind = logging.EntityKindSession
	}
	return &Engine{
		world:   cfg.World,
		horizon: horizon,
		players: players,
		inputs:  history.NewInputHistory(),
		states:  history.NewStateHistory(horizon + 1),
		pub:     pub,
		metrics: metrics,
		actor:   actor,
	}, nil
}

// Start saves initial as frame 0 and makes it the live state.
func (e *Engine) Start(initial sim.State) error {
	return e.Reset(0, initial)
}

// Reset discards every snapshot and resumes from state at frame. Recorded
// inputs at or after frame are kept. A full-state transfer lands here.
func (e *Engine) Reset(frame sim.Frame, state sim.State) error {
	if state.Players() != e.players {
		return fmt.Errorf("%w: state has %d bodies, engine expects %d", ErrPlayerMismatch, state.Players(), e.players)
	}
	e.states.Clear()
	e.inputs.PruneBelow(frame)
	e.current = frame
	e.lastSaved = frame
	e.live = state.Clone()
	e.states.Save(frame, e.live)
	e.started = true
	e.mode = ModeAdvancing
	e.reportRetention()
	return nil
}

func (e *Engine) World() sim.World { return e.world }
func (e *Engine) Horizon() int { return e.horizon }
func (e *Engine) Players() int { return e.players }
func (e *Engine) Mode() Mode { return e.mode }
func (e *Engine) Stats() Stats { return e.stats }
func (e *Engine) Started() bool { return e.started }
func (e *Engine) CurrentFrame() sim.Frame { return e.current }

// LastSavedFrame reports the newest snapshot frame.
func (e *Engine) LastSavedFrame() (sim.Frame, bool) {
	return e.lastSaved, e.started
}

// RetainedFrom is the oldest frame a rollback is guaranteed to reach.
func (e *Engine) RetainedFrom() sim.Frame {
	floor := e.current - sim.Frame(e.horizon)
	if floor < 0 {
		return 0
	}
	return floor
}

// Window reports the retained snapshot range.
func (e *Engine) Window() (size int, oldest, newest sim.Frame) {
	return e.states.Window()
}

// CurrentState returns a copy of the live state.
func (e *Engine) CurrentState() (sim.State, error) {
	if !e.started {
		return sim.State{}, ErrNoPriorState
	}
	return e.live.Clone(), nil
}

// Snapshot returns a copy of the saved state for frame.
func (e *Engine) Snapshot(frame sim.Frame) (sim.State, error) {
	if !e.started {
		return sim.State{}, ErrNoPriorState
	}
	if frame > e.lastSaved {
		return sim.State{}, fmt.Errorf("frame %d beyond last saved %d: %w", frame, e.lastSaved, ErrFrameNotFound)
	}
	return e.states.Get(frame)
}

// AdvanceFrame moves the frame counter forward by one.
func (e *Engine) AdvanceFrame() {
	e.current++
}

// StepAndSave steps the live state through the frame that AdvanceFrame just
// closed and saves the result under the new current frame. inputs are
// indexed by player slot; missing slots fall back to what RecordInput stored
// for that frame, then to neutral input. The inputs actually used are
// written back to the input history so replays reproduce them.
func (e *Engine) StepAndSave(inputs []sim.FrameInput) (sim.State, error) {
	if !e.started {
		return sim.State{}, ErrNoPriorState
	}
	if e.current != e.lastSaved+1 {
		return sim.State{}, fmt.Errorf("%w: current %d, last saved %d", ErrFrameNotAdvanced, e.current, e.lastSaved)
	}
	frame := e.current - 1
	for slot, in := range inputs {
		if slot >= e.players {
			return sim.State{}, fmt.Errorf("%w: slot %d", sim.ErrUnknownPlayer, slot)
		}
		if err := in.Validate(); err != nil {
			return sim.State{}, err
		}
	}
	for slot, in := range inputs {
		e.inputs.Set(frame, sim.PlayerID(slot), in)
	}
	row := e.inputs.Row(frame, e.players)

	e.mode = ModeAdvancing
	e.live = sim.StepState(e.live, row, e.world)
	e.states.Save(e.current, e.live)
	e.lastSaved = e.current
	e.prune()
	return e.live.Clone(), nil
}

// RecordInput stores input for (frame, player), overwriting any earlier
// prediction.
func (e *Engine) RecordInput(frame sim.Frame, player sim.PlayerID, input sim.FrameInput) error {
	if int(player) >= e.players {
		return fmt.Errorf("%w: player %d", sim.ErrUnknownPlayer, player)
	}
	if err := input.Validate(); err != nil {
		return err
	}
	e.inputs.Set(frame, player, input)
	return nil
}

// FillInputRange records input for player on every frame in [start, end].
func (e *Engine) FillInputRange(start, end sim.Frame, player sim.PlayerID, input sim.FrameInput) error {
	if int(player) >= e.players {
		return fmt.Errorf("%w: player %d", sim.ErrUnknownPlayer, player)
	}
	if err := input.Validate(); err != nil {
		return err
	}
	e.inputs.FillRange(start, end, player, input)
	return nil
}

// Input returns the recorded input for (frame, player).
func (e *Engine) Input(frame sim.Frame, player sim.PlayerID) (sim.FrameInput, error) {
	return e.inputs.Get(frame, player)
}

// HasInput reports whether (frame, player) has a recorded input.
func (e *Engine) HasInput(frame sim.Frame, player sim.PlayerID) bool {
	return e.inputs.Has(frame, player)
}

// Rollback restores the snapshot for target and makes it live. Snapshots
// after target are discarded; recorded inputs are kept for replay. Physics
// is not run.
func (e *Engine) Rollback(target sim.Frame) (sim.State, error) {
	if !e.started {
		return sim.State{}, ErrNoPriorState
	}
	if target > e.lastSaved {
		return sim.State{}, e.rollbackFailed(target, fmt.Errorf("rollback to frame %d beyond last saved %d: %w", target, e.lastSaved, ErrFrameNotFound))
	}
	state, err := e.states.Get(target)
	if err != nil {
		return sim.State{}, e.rollbackFailed(target, fmt.Errorf("rollback to frame %d: %w", target, err))
	}

	depth := int64(e.lastSaved - target)
	e.states.DiscardAfter(target)
	e.current = target
	e.lastSaved = target
	e.live = state

	e.stats.Rollbacks++
	e.stats.LastRollbackTo = target
	if depth > e.stats.DeepestRollback {
		e.stats.DeepestRollback = depth
	}
	e.metrics.Add(metricRollbacks, 1)
	e.metrics.Store(metricDepth, uint64(depth))
	return state.Clone(), nil
}

// ResimulateToFrame replays every frame from the current frame up to target,
// starting from from, which must be the state of the current frame. Frames
// without recorded input replay with neutral input. Each replayed snapshot
// overwrites the stored one. target may lie at most one horizon ahead of the
// current frame.
func (e *Engine) ResimulateToFrame(target sim.Frame, from sim.State) (sim.State, error) {
	if !e.started {
		return sim.State{}, ErrNoPriorState
	}
	if target < e.current {
		return sim.State{}, fmt.Errorf("%w: target %d, current %d", ErrInvalidTarget, target, e.current)
	}
	if int64(target-e.current) > int64(e.horizon) {
		return sim.State{}, fmt.Errorf("%w: target %d is more than %d frames past current %d", ErrInvalidTarget, target, e.horizon, e.current)
	}
	if from.Players() != e.players {
		return sim.State{}, fmt.Errorf("%w: state has %d bodies, engine expects %d", ErrPlayerMismatch, from.Players(), e.players)
	}

	e.mode = ModeResimulating
	defer func() { e.mode = ModeAdvancing }()

	state := from.Clone()
	e.states.Save(e.current, state)
	for frame := e.current; frame < target; frame++ {
		state = sim.StepState(state, e.inputs.Row(frame, e.players), e.world)
		e.states.Save(frame+1, state)
	}

	replayed := uint64(target - e.current)
	e.current = target
	e.lastSaved = target
	e.live = state
	e.stats.ResimulatedFrames += replayed
	e.metrics.Add(metricResimulated, replayed)
	e.prune()
	return state.Clone(), nil
}

// RollbackAndResimulate restores rollbackFrame and replays to target, which
// must not lie past the last saved frame.
func (e *Engine) RollbackAndResimulate(rollbackFrame, target sim.Frame) (sim.State, error) {
	if target < rollbackFrame {
		return sim.State{}, fmt.Errorf("%w: target %d before rollback frame %d", ErrInvalidTarget, target, rollbackFrame)
	}
	if e.started && target > e.lastSaved {
		return sim.State{}, fmt.Errorf("%w: target %d past last saved frame %d", ErrInvalidTarget, target, e.lastSaved)
	}
	state, err := e.Rollback(rollbackFrame)
	if err != nil {
		return sim.State{}, err
	}
	return e.ResimulateToFrame(target, state)
}

func (e *Engine) rollbackFailed(target sim.Frame, err error) error {
	e.stats.FailedRollbacks++
	e.metrics.Add(metricRollbackFailed, 1)
	rollbacklog.FrameNotFound(context.Background(), e.pub, int64(e.current), e.actor, rollbacklog.FrameNotFoundPayload{
		Target:  int64(target),
		Current: int64(e.current),
		Horizon: e.horizon,
	}, nil)
	return err
}

func (e *Engine) prune() {
	e.states.PruneOlderThan(e.horizon, e.current)
	e.inputs.PruneBelow(e.current - sim.Frame(e.horizon))
	e.reportRetention()
}

func (e *Engine) reportRetention() {
	size, _, _ := e.states.Window()
	e.metrics.Store(metricStatesRetained, uint64(size))
	e.metrics.Store(metricInputsRetained, uint64(e.inputs.Len()))
}

// Package session owns one match: it drives the rollback engine from a single
// goroutine, stages remote input from network goroutines, predicts input that
// has not arrived, and corrects the simulation when a prediction was wrong.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"netball/server/internal/rollback"
	"netball/server/internal/sim"
	"netball/server/internal/snapshot"
	"netball/server/internal/telemetry"
	"netball/server/logging"
	networklog "netball/server/logging/network"
	rollbacklog "netball/server/logging/rollback"
)

var (
	// ErrClosed reports a request against a session that has shut down.
	ErrClosed = errors.New("session: closed")
	// ErrInvalidDepth reports a negative manual rollback depth.
	ErrInvalidDepth = errors.New("session: rollback depth must not be negative")
)

const (
	metricTicks          = "session_ticks_total"
	metricRemoteInputs   = "session_remote_inputs_total"
	metricPredictions    = "session_predictions_total"
	metricMispredictions = "session_mispredictions_total"
	metricCorrections    = "session_corrections_total"
	metricLateInputs     = "session_late_inputs_total"
	metricRejectedInputs = "session_rejected_inputs_total"
	metricResyncs        = "session_resync_total"
	metricRestores       = "session_restores_total"
)

const (
	rejectUnknownPlayer = "unknown_player"
	rejectLocalPlayer   = "local_player"
	rejectInvalidInput  = "invalid_input"
	rejectLate          = "late"
)

// PredictionMode selects how missing remote input is filled in.
type PredictionMode int

const (
	// PredictRepeatLast repeats the player's newest confirmed input.
	PredictRepeatLast PredictionMode = iota
	// PredictNeutral assumes the player did nothing.
	PredictNeutral
)

func (m PredictionMode) String() string {
	if m == PredictNeutral {
		return "neutral"
	}
	return "repeat"
}

// ParsePredictionMode maps a config value to a mode.
func ParsePredictionMode(value string) (PredictionMode, bool) {
	switch value {
	case "", "repeat":
		return PredictRepeatLast, true
	case "neutral":
		return PredictNeutral, true
	}
	return PredictRepeatLast, false
}

// Outbox carries the local player's input to peers.
type Outbox interface {
	Send(RemoteInput)
}

// OutboxFunc adapts a function to Outbox.
type OutboxFunc func(RemoteInput)

func (f OutboxFunc) Send(in RemoteInput) {
	if f != nil {
		f(in)
	}
}

// InputSource produces the local player's input for a frame.
type InputSource interface {
	Sample(frame sim.Frame) sim.FrameInput
}

// InputSourceFunc adapts a function to InputSource.
type InputSourceFunc func(sim.Frame) sim.FrameInput

func (f InputSourceFunc) Sample(frame sim.Frame) sim.FrameInput {
	return f(frame)
}

type Config struct {
	ID          string
	LocalPlayer sim.PlayerID
	Players     int
	World       sim.World
	Body        sim.BodyParams
	// Initial overrides the spawned start state when set.
	Initial *sim.State
	Horizon int

	Prediction      PredictionMode
	InboxCapacity   int
	TickRate        int
	CatchupMaxTicks int

	Outbox   Outbox
	OnResync func(ResyncSignal)

	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
	Clock     logging.Clock
}

// Stats counts session activity since construction.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	RemoteInputs   uint64 `json:"remoteInputs"`
	Predictions    uint64 `json:"predictions"`
	Mispredictions uint64 `json:"mispredictions"`
	Corrections    uint64 `json:"corrections"`
	LateInputs     uint64 `json:"lateInputs"`
	RejectedInputs uint64 `json:"rejectedInputs"`
	Resyncs        uint64 `json:"resyncs"`
	Restores       uint64 `json:"restores"`
}

// TickResult describes one advanced frame.
type TickResult struct {
	Frame       sim.Frame `json:"frame"`
	Checksum    uint64    `json:"checksum"`
	Corrected   bool      `json:"corrected"`
	RolledBack  sim.Frame `json:"rolledBackTo,omitempty"`
	Resimulated int       `json:"resimulated,omitempty"`
	Predicted   int       `json:"predicted"`
}

// RollbackReport describes a manually triggered rollback.
type RollbackReport struct {
	From           sim.Frame `json:"from"`
	To             sim.Frame `json:"to"`
	Depth          int64     `json:"depth"`
	ChecksumBefore uint64    `json:"checksumBefore"`
	ChecksumAfter  uint64    `json:"checksumAfter"`
	Matched        bool      `json:"matched"`
}

type confirmedInput struct {
	input sim.FrameInput
	ok    bool
}

type Session struct {
	id      string
	cfg     Config
	engine  *rollback.Engine
	inbox   *Inbox
	policy  *Policy
	actor   logging.EntityRef
	pub     logging.Publisher
	metrics telemetry.Metrics
	logger  telemetry.Logger
	clock   logging.Clock
	outbox  Outbox

	confirmed map[sim.PlayerID]map[sim.Frame]struct{}
	newest    map[sim.PlayerID]confirmedInput

	stats       Stats
	accumulated time.Duration

	controls  chan controlRequest
	closed    chan struct{}
	closeOnce sync.Once
	view      atomic.Pointer[View]
}

// New builds a session and saves its start state as frame 0.
func New(cfg Config) (*Session, error) {
	if cfg.Players <= 0 {
		cfg.Players = 2
	}
	if int(cfg.LocalPlayer) >= cfg.Players {
		return nil, fmt.Errorf("%w: local player %d of %d", sim.ErrUnknownPlayer, cfg.LocalPlayer, cfg.Players)
	}
	if cfg.ID == "" {
		cfg.ID = "local"
	}
	if cfg.Body == (sim.BodyParams{}) {
		cfg.Body = sim.DefaultBodyParams()
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	if cfg.CatchupMaxTicks <= 0 {
		cfg.CatchupMaxTicks = 5
	}
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = 1024
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	outbox := cfg.Outbox
	if outbox == nil {
		outbox = OutboxFunc(nil)
	}
	actor := logging.EntityRef{ID: cfg.ID, Kind: logging.EntityKindSession}

	engine, err := rollback.NewEngine(rollback.Config{
		World:     cfg.World,
		Horizon:   cfg.Horizon,
		Players:   cfg.Players,
		Publisher: pub,
		Metrics:   metrics,
		Actor:     actor,
	})
	if err != nil {
		return nil, err
	}
	var initial sim.State
	if cfg.Initial != nil {
		initial = cfg.Initial.Clone()
	} else {
		initial = cfg.World.Spawn(cfg.Players, cfg.Body)
	}
	if err := engine.Start(initial); err != nil {
		return nil, err
	}

	s := &Session{
		id:        cfg.ID,
		cfg:       cfg,
		engine:    engine,
		inbox:     NewInbox(cfg.InboxCapacity, metrics),
		policy:    NewPolicy(),
		actor:     actor,
		pub:       pub,
		metrics:   metrics,
		logger:    logger,
		clock:     clock,
		outbox:    outbox,
		confirmed: make(map[sim.PlayerID]map[sim.Frame]struct{}),
		newest:    make(map[sim.PlayerID]confirmedInput),
		controls:  make(chan controlRequest, 16),
		closed:    make(chan struct{}),
	}
	s.publishView()
	return s, nil
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) LocalPlayer() sim.PlayerID  { return s.cfg.LocalPlayer }
func (s *Session) Players() int               { return s.cfg.Players }
func (s *Session) Prediction() PredictionMode { return s.cfg.Prediction }
func (s *Session) Stats() Stats               { return s.stats }

// Engine exposes the underlying engine to the simulation goroutine.
func (s *Session) Engine() *rollback.Engine { return s.engine }

// Step reports the fixed timestep duration.
func (s *Session) Step() time.Duration {
	return time.Second / time.Duration(s.cfg.TickRate)
}

// Deliver stages a remote input. It is safe to call from any goroutine and
// never blocks; false means the input was dropped.
func (s *Session) Deliver(in RemoteInput) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	if s.inbox.Push(in) {
		return true
	}
	if dropped := s.inbox.Dropped(); dropped&(dropped-1) == 0 {
		networklog.InputDropped(context.Background(), s.pub, int64(in.Input.Frame), s.actor, networklog.InputDroppedPayload{
			Player: int(in.Player),
			Reason: "inbox_full",
			Count:  dropped,
		}, map[string]any{"source": in.Source})
	}
	return false
}

// Close stops control request handling. Pending requests fail with ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Done is closed once the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Tick advances exactly one frame with local as this peer's input. It must
// be called from the simulation goroutine.
func (s *Session) Tick(local sim.FrameInput) (TickResult, error) {
	s.serviceControls()

	frame := s.engine.CurrentFrame()
	local = local.At(frame)
	if err := local.Validate(); err != nil {
		return TickResult{}, err
	}

	result := TickResult{}
	if err := s.absorbRemote(&result); err != nil {
		s.logger.Printf("[session] correction failed at frame %d: %v", frame, err)
	}

	frame = s.engine.CurrentFrame()
	row, predicted := s.buildRow(frame, local)
	s.engine.AdvanceFrame()
	state, err := s.engine.StepAndSave(row)
	if err != nil {
		return result, err
	}
	s.pruneConfirmed()

	s.stats.Ticks++
	s.metrics.Add(metricTicks, 1)
	result.Frame = s.engine.CurrentFrame()
	result.Checksum = sim.Checksum(state)
	result.Predicted = predicted

	s.outbox.Send(RemoteInput{Player: s.cfg.LocalPlayer, Input: local, Source: s.id})

	if signal, ok := s.policy.Consume(); ok {
		s.stats.Resyncs++
		s.metrics.Add(metricResyncs, 1)
		rollbacklog.ResyncScheduled(context.Background(), s.pub, int64(result.Frame), s.actor, rollbacklog.ResyncPayload{
			Failures: signal.Failures,
			Attempts: signal.Attempts,
			Summary:  signal.Summary(),
		}, nil)
		if s.cfg.OnResync != nil {
			s.cfg.OnResync(signal)
		}
	}

	s.publishView()
	return result, nil
}

// absorbRemote drains the inbox into the input history and performs a single
// correction from the earliest frame whose recorded input changed.
func (s *Session) absorbRemote(result *TickResult) error {
	staged := s.inbox.Drain()
	if len(staged) == 0 {
		return nil
	}
	current := s.engine.CurrentFrame()
	earliest := current
	var culprit sim.PlayerID
	lower := func(frame sim.Frame, player sim.PlayerID) {
		if frame < earliest {
			earliest, culprit = frame, player
		}
	}

	for _, remote := range staged {
		player := remote.Player
		in := remote.Input
		frame := in.Frame
		switch {
		case int(player) >= s.cfg.Players:
			s.reject(remote, rejectUnknownPlayer)
			continue
		case player == s.cfg.LocalPlayer:
			s.reject(remote, rejectLocalPlayer)
			continue
		case in.Validate() != nil:
			s.reject(remote, rejectInvalidInput)
			continue
		}

		s.stats.RemoteInputs++
		s.metrics.Add(metricRemoteInputs, 1)
		s.policy.NoteAttempt()

		if frame < s.engine.RetainedFrom() {
			s.stats.LateInputs++
			s.metrics.Add(metricLateInputs, 1)
			s.policy.NoteFailure(ReasonLateInput, player, frame)
			s.reject(remote, rejectLate)
			continue
		}

		if frame < current && s.differs(frame, player, in) {
			s.stats.Mispredictions++
			s.metrics.Add(metricMispredictions, 1)
			lower(frame, player)
		}
		// The frame was validated above and the player is known.
		_ = s.engine.RecordInput(frame, player, in)
		s.confirm(player, frame)

		if newest := s.newest[player]; !newest.ok || frame >= newest.input.Frame {
			s.newest[player] = confirmedInput{input: in, ok: true}
			if s.cfg.Prediction == PredictRepeatLast {
				if f, changed := s.repredict(player, in, current); changed {
					lower(f, player)
				}
			}
		}
	}

	if earliest >= current {
		return nil
	}

	state, err := s.engine.RollbackAndResimulate(earliest, current)
	if err != nil {
		if errors.Is(err, rollback.ErrFrameNotFound) {
			s.policy.NoteFailure(ReasonFrameNotFound, culprit, earliest)
		}
		return err
	}
	s.stats.Corrections++
	s.metrics.Add(metricCorrections, 1)
	result.Corrected = true
	result.RolledBack = earliest
	result.Resimulated = int(current - earliest)
	rollbacklog.Performed(context.Background(), s.pub, int64(current), s.actor, rollbacklog.PerformedPayload{
		From:     int64(current),
		To:       int64(earliest),
		Depth:    int64(current - earliest),
		Trigger:  "correction",
		Checksum: sim.Checksum(state),
	}, nil)
	return nil
}

// differs reports whether in disagrees with what was simulated for frame.
func (s *Session) differs(frame sim.Frame, player sim.PlayerID, in sim.FrameInput) bool {
	recorded, err := s.engine.Input(frame, player)
	if err != nil {
		return true
	}
	return !recorded.SameAction(in)
}

// repredict rewrites the player's unconfirmed inputs after in.Frame up to the
// current frame, returning the earliest frame whose value changed.
func (s *Session) repredict(player sim.PlayerID, in sim.FrameInput, current sim.Frame) (sim.Frame, bool) {
	earliest, changed := current, false
	for f := in.Frame + 1; f < current; f++ {
		if s.isConfirmed(player, f) {
			continue
		}
		if !s.differs(f, player, in) {
			continue
		}
		_ = s.engine.RecordInput(f, player, in.At(f))
		if !changed {
			earliest, changed = f, true
		}
	}
	return earliest, changed
}

// buildRow assembles the input row for frame: the local input, confirmed
// remote input where it has arrived, and a prediction everywhere else.
func (s *Session) buildRow(frame sim.Frame, local sim.FrameInput) ([]sim.FrameInput, int) {
	row := make([]sim.FrameInput, s.cfg.Players)
	predicted := 0
	for slot := range row {
		player := sim.PlayerID(slot)
		if player == s.cfg.LocalPlayer {
			row[slot] = local
			continue
		}
		if s.isConfirmed(player, frame) {
			if in, err := s.engine.Input(frame, player); err == nil {
				row[slot] = in
				continue
			}
		}
		row[slot] = s.predict(player, frame)
		predicted++
	}
	if predicted > 0 {
		s.stats.Predictions += uint64(predicted)
		s.metrics.Add(metricPredictions, uint64(predicted))
	}
	return row, predicted
}

func (s *Session) predict(player sim.PlayerID, frame sim.Frame) sim.FrameInput {
	if s.cfg.Prediction == PredictRepeatLast {
		if newest := s.newest[player]; newest.ok {
			return newest.input.At(frame)
		}
	}
	return sim.NeutralInput(frame)
}

func (s *Session) confirm(player sim.PlayerID, frame sim.Frame) {
	frames := s.confirmed[player]
	if frames == nil {
		frames = make(map[sim.Frame]struct{})
		s.confirmed[player] = frames
	}
	frames[frame] = struct{}{}
}

func (s *Session) isConfirmed(player sim.PlayerID, frame sim.Frame) bool {
	_, ok := s.confirmed[player][frame]
	return ok
}

func (s *Session) pruneConfirmed() {
	floor := s.engine.RetainedFrom()
	for _, frames := range s.confirmed {
		for frame := range frames {
			if frame < floor {
				delete(frames, frame)
			}
		}
	}
}

func (s *Session) reject(remote RemoteInput, reason string) {
	s.stats.RejectedInputs++
	s.metrics.Add(metricRejectedInputs, 1)
	rollbacklog.InputRejected(context.Background(), s.pub, int64(s.engine.CurrentFrame()), s.actor, rollbacklog.InputRejectedPayload{
		Player: int(remote.Player),
		Target: int64(remote.Input.Frame),
		Reason: reason,
	}, map[string]any{"source": remote.Source})
}

// TriggerRollback rewinds frames frames and replays back to the current
// frame with the recorded inputs. Replaying unchanged inputs must reproduce
// the same state, which the report's Matched field confirms.
func (s *Session) TriggerRollback(frames int) (RollbackReport, error) {
	if frames < 0 {
		return RollbackReport{}, ErrInvalidDepth
	}
	current := s.engine.CurrentFrame()
	before, err := s.engine.CurrentState()
	if err != nil {
		return RollbackReport{}, err
	}
	target := max(current-sim.Frame(frames), 0)
	after, err := s.engine.RollbackAndResimulate(target, current)
	if err != nil {
		return RollbackReport{}, err
	}
	report := RollbackReport{
		From:           current,
		To:             target,
		Depth:          int64(current - target),
		ChecksumBefore: sim.Checksum(before),
		ChecksumAfter:  sim.Checksum(after),
	}
	report.Matched = report.ChecksumBefore == report.ChecksumAfter
	rollbacklog.Performed(context.Background(), s.pub, int64(current), s.actor, rollbacklog.PerformedPayload{
		From:       int64(current),
		To:         int64(target),
		Depth:      report.Depth,
		Trigger:    "manual",
		Checksum:   report.ChecksumAfter,
		Mismatched: !report.Matched,
	}, nil)
	s.publishView()
	return report, nil
}

// ExportSnapshot encodes the live state of the current frame.
func (s *Session) ExportSnapshot() ([]byte, error) {
	state, err := s.engine.CurrentState()
	if err != nil {
		return nil, err
	}
	return snapshot.Encode(s.engine.CurrentFrame(), state)
}

// RestoreSnapshot replaces the simulation with a peer's full state. Input
// recorded at or after the snapshot frame is kept.
func (s *Session) RestoreSnapshot(data []byte) (sim.Frame, error) {
	frame, state, err := snapshot.DecodeFor(data, s.cfg.Players)
	if err != nil {
		return 0, err
	}
	if err := s.engine.Reset(frame, state); err != nil {
		return 0, err
	}
	for _, frames := range s.confirmed {
		for f := range frames {
			if f < frame {
				delete(frames, f)
			}
		}
	}
	s.stats.Restores++
	s.metrics.Add(metricRestores, 1)
	s.logger.Printf("[session] %s restored snapshot at frame %d checksum=%x", s.id, frame, sim.Checksum(state))
	s.publishView()
	return frame, nil
}

// UpdateResult reports how many fixed steps one Update ran.
type UpdateResult struct {
	Steps   int
	Clamped bool
	Last    TickResult
}

// Update accumulates elapsed wall time and runs as many fixed steps as fit,
// sampling source for each frame's local input. Backlog beyond
// CatchupMaxTicks steps is dropped.
func (s *Session) Update(elapsed time.Duration, source InputSource) (UpdateResult, error) {
	step := s.Step()
	limit := step * time.Duration(s.cfg.CatchupMaxTicks)
	result := UpdateResult{}

	if elapsed > 0 {
		s.accumulated += elapsed
	}
	if s.accumulated > limit {
		s.accumulated = limit
		result.Clamped = true
	}
	for s.accumulated >= step {
		s.accumulated -= step
		in := sim.NeutralInput(s.engine.CurrentFrame())
		if source != nil {
			in = source.Sample(s.engine.CurrentFrame())
		}
		tick, err := s.Tick(in)
		if err != nil {
			return result, err
		}
		result.Steps++
		result.Last = tick
	}
	if result.Steps == 0 {
		s.serviceControls()
	}
	return result, nil
}

package session

import (
	"time"

	"netball/server/internal/rollback"
	"netball/server/internal/sim"
)

// HistoryWindow is the retained snapshot range.
type HistoryWindow struct {
	Size   int       `json:"size"`
	Oldest sim.Frame `json:"oldest"`
	Newest sim.Frame `json:"newest"`
}

// View is an immutable picture of the session published after every tick.
// Readers on other goroutines must treat it as read-only.
type View struct {
	SessionID     string         `json:"sessionId"`
	LocalPlayer   sim.PlayerID   `json:"localPlayer"`
	Frame         sim.Frame      `json:"frame"`
	Checksum      uint64         `json:"checksum"`
	State         sim.State      `json:"state"`
	Mode          string         `json:"mode"`
	Prediction    string         `json:"prediction"`
	RetainedFrom  sim.Frame      `json:"retainedFrom"`
	History       HistoryWindow  `json:"history"`
	Engine        rollback.Stats `json:"engine"`
	Session       Stats          `json:"session"`
	InboxDepth    int            `json:"inboxDepth"`
	InboxCapacity int            `json:"inboxCapacity"`
	InboxDropped  uint64         `json:"inboxDropped"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// View returns the latest published view. It is safe to call from any
// goroutine.
func (s *Session) View() *View {
	return s.view.Load()
}

func (s *Session) publishView() {
	state, err := s.engine.CurrentState()
	if err != nil {
		return
	}
	size, oldest, newest := s.engine.Window()
	s.view.Store(&View{
		SessionID:     s.id,
		LocalPlayer:   s.cfg.LocalPlayer,
		Frame:         s.engine.CurrentFrame(),
		Checksum:      sim.Checksum(state),
		State:         state,
		Mode:          s.engine.Mode().String(),
		Prediction:    s.cfg.Prediction.String(),
		RetainedFrom:  s.engine.RetainedFrom(),
		History:       HistoryWindow{Size: size, Oldest: oldest, Newest: newest},
		Engine:        s.engine.Stats(),
		Session:       s.stats,
		InboxDepth:    s.inbox.Len(),
		InboxCapacity: s.inbox.Capacity(),
		InboxDropped:  s.inbox.Dropped(),
		UpdatedAt:     s.clock.Now(),
	})
}

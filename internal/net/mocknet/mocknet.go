// Package mocknet is an in-process network for exercising sessions under
// latency, jitter and loss. Time is counted in frames so runs are
// reproducible for a given seed.
package mocknet

import (
	"math/rand/v2"
	"sync"

	"netball/server/internal/session"
	"netball/server/internal/sim"
)

type Config struct {
	// DelayFrames is the mean one-way latency.
	DelayFrames int
	// JitterFrames spreads the latency uniformly over +/- this many frames.
	JitterFrames int
	// LossPercent drops that share of messages, 0 to 100.
	LossPercent float64
	Seed        uint64
}

type Stats struct {
	Sent      uint64 `json:"sent"`
	Lost      uint64 `json:"lost"`
	Delivered uint64 `json:"delivered"`
	InFlight  int    `json:"inFlight"`
}

type inFlight struct {
	to  sim.PlayerID
	due int64
	msg session.RemoteInput
}

// Network routes each sent input to every other attached session.
type Network struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	now      int64
	peers    map[sim.PlayerID]*session.Session
	order    []sim.PlayerID
	inFlight []inFlight
	stats    Stats
}

func New(cfg Config) *Network {
	if cfg.DelayFrames < 0 {
		cfg.DelayFrames = 0
	}
	if cfg.JitterFrames < 0 {
		cfg.JitterFrames = 0
	}
	return &Network{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		peers: make(map[sim.PlayerID]*session.Session),
	}
}

// Attach registers s as the receiver for its local player's slot.
func (n *Network) Attach(s *session.Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	player := s.LocalPlayer()
	if _, ok := n.peers[player]; !ok {
		n.order = append(n.order, player)
	}
	n.peers[player] = s
}

// Link returns the outbox for the session driving player from.
func (n *Network) Link(from sim.PlayerID) *Link {
	return &Link{net: n, from: from}
}

// Link implements session.Outbox for one sender.
type Link struct {
	net  *Network
	from sim.PlayerID
}

func (l *Link) Send(msg session.RemoteInput) {
	l.net.send(l.from, msg)
}

func (n *Network) send(from sim.PlayerID, msg session.RemoteInput) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, to := range n.order {
		if to == from {
			continue
		}
		n.stats.Sent++
		if n.cfg.LossPercent > 0 && n.rng.Float64()*100 < n.cfg.LossPercent {
			n.stats.Lost++
			continue
		}
		delay := n.cfg.DelayFrames
		if n.cfg.JitterFrames > 0 {
			delay += n.rng.IntN(2*n.cfg.JitterFrames+1) - n.cfg.JitterFrames
		}
		n.inFlight = append(n.inFlight, inFlight{to: to, due: n.now + int64(max(delay, 0)), msg: msg})
	}
}

// Advance moves the network clock one frame forward and delivers every
// message that has become due. It returns the number delivered.
func (n *Network) Advance() int {
	n.mu.Lock()
	n.now++
	due := n.collect(func(m inFlight) bool { return m.due <= n.now })
	n.mu.Unlock()
	return n.deliver(due)
}

// Flush delivers everything still in flight regardless of its due frame.
func (n *Network) Flush() int {
	n.mu.Lock()
	due := n.collect(func(inFlight) bool { return true })
	n.mu.Unlock()
	return n.deliver(due)
}

func (n *Network) collect(ready func(inFlight) bool) []inFlight {
	var due []inFlight
	kept := n.inFlight[:0]
	for _, m := range n.inFlight {
		if ready(m) {
			due = append(due, m)
			continue
		}
		kept = append(kept, m)
	}
	n.inFlight = kept
	return due
}

func (n *Network) deliver(due []inFlight) int {
	delivered := 0
	for _, m := range due {
		n.mu.Lock()
		peer := n.peers[m.to]
		n.mu.Unlock()
		if peer != nil && peer.Deliver(m.msg) {
			delivered++
		}
	}
	n.mu.Lock()
	n.stats.Delivered += uint64(delivered)
	n.mu.Unlock()
	return delivered
}

func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	stats := n.stats
	stats.InFlight = len(n.inFlight)
	return stats
}

package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"netball/server/internal/net/proto"
	"netball/server/internal/session"
	"netball/server/internal/snapshot"
	"netball/server/logging"
	networklog "netball/server/logging/network"
)

type outbound struct {
	kind int
	data []byte
}

// Link is one peer connection.
type Link struct {
	hub     *Hub
	conn    *websocket.Conn
	remote  string
	send    chan outbound
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter

	peerSession atomic.Value
	limited     atomic.Uint64
	invalid     atomic.Uint64
}

func (l *Link) ref() logging.EntityRef {
	return logging.EntityRef{ID: l.remote, Kind: logging.EntityKindPeer}
}

// Remote reports the peer address or dialed URL.
func (l *Link) Remote() string { return l.remote }

// PeerSession reports the session id from the peer's hello, if any.
func (l *Link) PeerSession() string {
	id, _ := l.peerSession.Load().(string)
	return id
}

// Done is closed once the link has shut down.
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) enqueue(kind int, data []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.send <- outbound{kind: kind, data: data}:
		return true
	default:
		l.hub.metrics.Add(metricSendDropped, 1)
		return false
	}
}

// readLimit caps one inbound message: the larger of a text envelope and the
// biggest snapshot a session of players can send.
func readLimit(players int) int64 {
	return int64(max(maxTextMessage, snapshot.MaxEncodedSize(players)))
}

// close signals the write pump, which sends a close frame and releases the
// connection.
func (l *Link) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Link) readPump() {
	reason := "closed"
	defer func() {
		l.close()
		l.hub.unregister(l, reason)
		l.hub.wg.Done()
	}()

	players := snapshot.MaxPlayers
	if target := l.hub.currentTarget(); target != nil {
		players = target.Players()
	}
	l.conn.SetReadLimit(readLimit(players))
	_ = l.conn.SetReadDeadline(time.Now().Add(readTimeout))
	l.conn.SetPongHandler(func(string) error {
		_ = l.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		kind, payload, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "peer_closed"
			} else {
				select {
				case <-l.done:
					reason = "local_close"
				default:
					reason = "read_error"
				}
			}
			return
		}
		l.hub.metrics.Add(metricMessagesIn, 1)

		target := l.hub.currentTarget()
		if target == nil {
			continue
		}
		if kind == websocket.BinaryMessage {
			l.restore(target, payload)
			continue
		}

		env, err := proto.Decode(payload)
		if err != nil {
			l.hub.logger.Printf("discarding malformed message from %s: %v", l.remote, err)
			continue
		}
		switch env.Type {
		case proto.TypeHello:
			l.peerSession.Store(env.Session)
			if env.Hello.Players != target.Players() {
				l.hub.logger.Printf("peer %s plays %d-player matches, local session expects %d", l.remote, env.Hello.Players, target.Players())
				message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "player count mismatch")
				_ = l.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeTimeout))
				reason = "player_mismatch"
				return
			}
		case proto.TypeInput:
			l.deliver(target, env)
		case proto.TypeResyncRequest:
			l.answerResync(target)
		}
	}
}

func (l *Link) deliver(target Target, env proto.Envelope) {
	frame := env.Input.Frame
	if !l.limiter.Allow() {
		l.hub.metrics.Add(metricInputLimited, 1)
		l.dropped(&l.limited, frame, int(env.Input.Player), "rate_limited")
		return
	}
	player, in, err := env.Input.FrameInput()
	if err != nil {
		l.dropped(&l.invalid, frame, int(env.Input.Player), "invalid")
		return
	}
	target.Deliver(session.RemoteInput{Player: player, Input: in, Source: l.remote})
}

func (l *Link) dropped(counter *atomic.Uint64, frame int64, player int, reason string) {
	count := counter.Add(1)
	if count&(count-1) != 0 {
		return
	}
	networklog.InputDropped(context.Background(), l.hub.pub, frame, l.ref(), networklog.InputDroppedPayload{
		Player: player,
		Reason: reason,
		Count:  count,
	}, nil)
}

func (l *Link) answerResync(target Target) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	data, err := target.RequestSnapshot(ctx)
	if err != nil {
		l.hub.logger.Printf("snapshot for %s failed: %v", l.remote, err)
		return
	}
	l.enqueue(websocket.BinaryMessage, data)
}

func (l *Link) restore(target Target, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	frame, err := target.RequestRestore(ctx, data)
	if err != nil {
		l.hub.logger.Printf("snapshot from %s rejected: %v", l.remote, err)
		return
	}
	l.hub.logger.Printf("adopted snapshot from %s at frame %d", l.remote, frame)
}

func (l *Link) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		l.close()
		_ = l.conn.Close()
		l.hub.wg.Done()
	}()

	for {
		select {
		case <-l.done:
			_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
			l.hub.metrics.Add(metricMessagesOut, 1)
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		}
	}
}

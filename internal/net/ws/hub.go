package ws

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"netball/server/internal/net/proto"
	"netball/server/internal/session"
	"netball/server/internal/sim"
	"netball/server/internal/telemetry"
	"netball/server/logging"
	networklog "netball/server/logging/network"
)

const (
	metricLinksActive  = "ws_links_active"
	metricMessagesIn   = "ws_messages_in_total"
	metricMessagesOut  = "ws_messages_out_total"
	metricSendDropped  = "ws_send_dropped_total"
	metricInputLimited = "ws_input_rate_limited_total"

	readTimeout    = 90 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 20 * time.Second
	requestTimeout = 5 * time.Second

	// maxTextMessage bounds a JSON envelope.
	maxTextMessage = 4096
)

var ErrHubClosed = errors.New("ws: hub closed")

// Target is the session a hub feeds. *session.Session satisfies it.
type Target interface {
	ID() string
	LocalPlayer() sim.PlayerID
	Players() int
	View() *session.View
	Deliver(session.RemoteInput) bool
	RequestSnapshot(ctx context.Context) ([]byte, error)
	RequestRestore(ctx context.Context, data []byte) (sim.Frame, error)
}

type Config struct {
	Logger    *log.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	// InputRate caps inbound input messages per second on each link.
	InputRate  float64
	InputBurst int
	SendBuffer int
}

// Hub owns every peer link of one session. It broadcasts the session's local
// input and forwards what peers send back into the session.
type Hub struct {
	cfg      Config
	logger   *log.Logger
	pub      logging.Publisher
	metrics  telemetry.Metrics
	upgrader websocket.Upgrader

	mu     sync.Mutex
	target Target
	links  map[*Link]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = 240
	}
	if cfg.InputBurst <= 0 {
		cfg.InputBurst = 120
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		pub:     pub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		links: make(map[*Link]struct{}),
	}
}

// Attach sets the session that receives peer traffic.
func (h *Hub) Attach(target Target) {
	h.mu.Lock()
	h.target = target
	h.mu.Unlock()
}

func (h *Hub) currentTarget() Target {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// Handle upgrades an HTTP request into a peer link and serves it until the
// connection ends.
func (h *Hub) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	if h.currentTarget() == nil {
		nethttp.Error(w, "session not ready", nethttp.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	link, err := h.register(conn, r.RemoteAddr)
	if err != nil {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		_ = conn.WriteMessage(websocket.CloseMessage, message)
		_ = conn.Close()
		return
	}
	link.readPump()
}

// Dial connects to a peer hub at url and serves the link in the background.
func (h *Hub) Dial(ctx context.Context, url string) (*Link, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	link, err := h.register(conn, url)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		link.readPump()
	}()
	return link, nil
}

func (h *Hub) register(conn *websocket.Conn, remote string) (*Link, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	link := &Link{
		hub:     h,
		conn:    conn,
		remote:  remote,
		send:    make(chan outbound, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.InputRate), h.cfg.InputBurst),
	}
	h.links[link] = struct{}{}
	// One for the write pump, one for the read pump's teardown.
	h.wg.Add(2)
	count := len(h.links)
	target := h.target
	h.mu.Unlock()

	h.metrics.Store(metricLinksActive, uint64(count))
	go link.writePump()

	if target != nil {
		hello, err := proto.EncodeHello(target.ID(), proto.Hello{
			Player:  uint8(target.LocalPlayer()),
			Players: target.Players(),
			Frame:   int64(h.frame()),
		})
		if err == nil {
			link.enqueue(websocket.TextMessage, hello)
		}
	}
	networklog.PeerConnected(context.Background(), h.pub, int64(h.frame()), link.ref(), networklog.PeerPayload{Remote: remote}, nil)
	h.logger.Printf("peer connected remote=%s", remote)
	return link, nil
}

func (h *Hub) unregister(link *Link, reason string) {
	h.mu.Lock()
	_, ok := h.links[link]
	delete(h.links, link)
	count := len(h.links)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.Store(metricLinksActive, uint64(count))
	networklog.PeerDisconnected(context.Background(), h.pub, int64(h.frame()), link.ref(), networklog.PeerPayload{Remote: link.remote, Reason: reason}, nil)
	h.logger.Printf("peer disconnected remote=%s reason=%s", link.remote, reason)
}

func (h *Hub) frame() sim.Frame {
	target := h.currentTarget()
	if target == nil {
		return 0
	}
	if view := target.View(); view != nil {
		return view.Frame
	}
	return 0
}

func (h *Hub) snapshotLinks() []*Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	links := make([]*Link, 0, len(h.links))
	for link := range h.links {
		links = append(links, link)
	}
	return links
}

// Send broadcasts the session's local input to every peer. It never blocks.
func (h *Hub) Send(in session.RemoteInput) {
	links := h.snapshotLinks()
	if len(links) == 0 {
		return
	}
	data, err := proto.EncodeInput(in.Source, proto.NewInput(in.Player, in.Input))
	if err != nil {
		h.logger.Printf("failed to encode input frame %d: %v", in.Input.Frame, err)
		return
	}
	for _, link := range links {
		link.enqueue(websocket.TextMessage, data)
	}
}

// RequestResync asks every peer for a full snapshot.
func (h *Hub) RequestResync(signal session.ResyncSignal) {
	target := h.currentTarget()
	if target == nil {
		return
	}
	reason := ""
	if len(signal.Reasons) > 0 {
		reason = signal.Reasons[0].Kind
	}
	data, err := proto.EncodeResyncRequest(target.ID(), proto.ResyncRequest{Frame: int64(h.frame()), Reason: reason})
	if err != nil {
		return
	}
	for _, link := range h.snapshotLinks() {
		link.enqueue(websocket.TextMessage, data)
	}
}

// Links reports the number of connected peers.
func (h *Hub) Links() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

// Close disconnects every peer and waits for their pumps to exit.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.closed = true
	h.mu.Unlock()

	for _, link := range h.snapshotLinks() {
		link.close()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

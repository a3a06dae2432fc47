package logging

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// ErrRouterClosed is returned by a second Close.
var ErrRouterClosed = errors.New("logging: router closed")

// Router fans events out to sinks. Publish never blocks: when the queue or a
// sink backlog is full the event is counted and dropped. Each sink drains its
// own lane, so a slow or failing sink cannot stall the others.
type Router struct {
	cfg      Config
	queue    chan Event
	lanes    []*lane
	clock    Clock
	fallback *log.Logger
	done     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	dropWarn  rateGate
}

type RouterStats struct {
	EventsTotal  uint64            `json:"eventsTotal"`
	DroppedTotal uint64            `json:"droppedTotal"`
	SinkFailures map[string]uint64 `json:"sinkFailures,omitempty"`
}

// NewRouter starts the dispatcher and one worker per sink. fallback receives
// the router's own diagnostics; nil means stderr.
func NewRouter(cfg Config, clock Clock, fallback *log.Logger, sinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	interval := cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r := &Router{
		cfg:      cfg,
		queue:    make(chan Event, size),
		clock:    clock,
		fallback: fallback,
		done:     make(chan struct{}),
		dropWarn: rateGate{interval: interval},
	}
	laneSize := max(32, min(size, 1024))
	for _, named := range sinks {
		if named.Sink == nil {
			continue
		}
		r.lanes = append(r.lanes, &lane{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, laneSize),
			fallback: fallback,
			dropped:  &r.dropped,
		})
	}

	for _, l := range r.lanes {
		r.wg.Add(1)
		go func(l *lane) {
			defer r.wg.Done()
			l.run()
		}(l)
	}
	r.wg.Add(1)
	go r.dispatch()
	return r, nil
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, l := range r.lanes {
			close(l.events)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.route(event)
		case <-r.done:
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.cfg.MinimumSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.cfg.Fields)
	r.published.Add(1)
	for _, l := range r.lanes {
		l.offer(event.clone())
	}
}

// Publish queues event for delivery. Events without a type are ignored.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		if r.dropWarn.allow(time.Now()) {
			r.fallback.Printf("queue full, dropping %s frame=%d", event.Type, event.Frame)
		}
	}
}

// Close flushes queued events to every sink and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrRouterClosed
	}
	close(r.done)

	flushed := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, l := range r.lanes {
		if err := l.sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.published.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	for _, l := range r.lanes {
		if n := l.failed.Load(); n > 0 {
			if stats.SinkFailures == nil {
				stats.SinkFailures = make(map[string]uint64)
			}
			stats.SinkFailures[l.name] = n
		}
	}
	return stats
}

// Sink returns the sink registered under name.
func (r *Router) Sink(name string) Sink {
	for _, l := range r.lanes {
		if l.name == name {
			return l.sink
		}
	}
	return nil
}

type lane struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	dropped  *atomic.Uint64
	failed   atomic.Uint64
	streak   int
}

func (l *lane) offer(event Event) {
	select {
	case l.events <- event:
	default:
		if n := l.dropped.Add(1); n&(n-1) == 0 {
			l.fallback.Printf("sink %s backlog full, dropping %s (dropped=%d)", l.name, event.Type, n)
		}
	}
}

func (l *lane) run() {
	for event := range l.events {
		if l.streak > 0 {
			time.Sleep(l.backoff())
		}
		if err := l.sink.Write(event); err != nil {
			l.failed.Add(1)
			l.streak++
			l.fallback.Printf("sink %s failed: %v (retry in %s)", l.name, err, l.backoff())
			continue
		}
		l.streak = 0
	}
}

// backoff doubles per consecutive failure, capped at 32 seconds.
func (l *lane) backoff() time.Duration {
	return time.Second << min(l.streak, 5)
}

// rateGate admits at most one caller per interval.
type rateGate struct {
	interval time.Duration
	next     atomic.Int64
}

func (g *rateGate) allow(now time.Time) bool {
	next := g.next.Load()
	if next != 0 && now.UnixNano() < next {
		return false
	}
	return g.next.CompareAndSwap(next, now.Add(g.interval).UnixNano())
}

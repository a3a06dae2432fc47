package telemetry

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
)

// Logger is the line-oriented logger used for operational messages.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger for components that need one.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	return l.logger
}

// Metrics is the counter/gauge surface components report into.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Counters is an in-process Metrics implementation whose values can be
// listed for diagnostics.
type Counters struct {
	values sync.Map
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) cell(key string) *atomic.Uint64 {
	if v, ok := c.values.Load(key); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := c.values.LoadOrStore(key, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.cell(key).Add(delta)
}

func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.cell(key).Store(value)
}

// Get returns the current value of key.
func (c *Counters) Get(key string) uint64 {
	if c == nil {
		return 0
	}
	if v, ok := c.values.Load(key); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

// Snapshot copies every value.
func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if c == nil {
		return out
	}
	c.values.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

// Keys lists known keys in sorted order.
func (c *Counters) Keys() []string {
	snap := c.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

// NopMetrics discards every value.
func NopMetrics() Metrics {
	return nopMetrics{}
}

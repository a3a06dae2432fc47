package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"netball/server/logging"
)

// JSON emits newline-delimited events. With a positive flush interval the
// buffer is flushed in the background; otherwise after every event.
type JSON struct {
	mu      sync.Mutex
	writer  *bufio.Writer
	encoder *json.Encoder
	closer  io.Closer
	stop    chan struct{}
	stopped sync.WaitGroup
}

func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	s := &JSON{writer: buf, encoder: json.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if flushInterval > 0 {
		s.stop = make(chan struct{})
		s.stopped.Add(1)
		go s.flushEvery(flushInterval)
	}
	return s
}

func (s *JSON) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(event); err != nil {
		return err
	}
	if s.stop == nil {
		return s.writer.Flush()
	}
	return nil
}

// Close stops the flusher, flushes what is buffered and closes the writer
// when it is closable.
func (s *JSON) Close(context.Context) error {
	if s.stop != nil {
		close(s.stop)
		s.stopped.Wait()
		s.stop = nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writer.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *JSON) flushEvery(interval time.Duration) {
	defer s.stopped.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.writer.Flush()
			s.mu.Unlock()
		}
	}
}

package net

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"netball/server/internal/net/proto"
	"netball/server/internal/observability"
	"netball/server/internal/rollback"
	"netball/server/internal/session"
	"netball/server/internal/sim"
)

// Controller is the session surface the HTTP routes need. Every method is
// safe to call off the simulation goroutine.
type Controller interface {
	View() *session.View
	RequestRollback(ctx context.Context, frames int) (session.RollbackReport, error)
}

// Peers serves websocket links.
type Peers interface {
	Handle(w nethttp.ResponseWriter, r *nethttp.Request)
	Links() int
}

type HTTPHandlerConfig struct {
	Logger        *log.Logger
	Observability observability.Config
	// Counters and RouterStats feed /diagnostics when set.
	Counters       func() map[string]uint64
	RouterStats    func() any
	TickRate       int
	RequestTimeout time.Duration
}

func NewHTTPHandler(ctl Controller, peers Peers, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	r.Get("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			TickRate   int               `json:"tickRate"`
			Peers      int               `json:"peers"`
			Session    *session.View     `json:"session"`
			Counters   map[string]uint64 `json:"counters,omitempty"`
			Logging    any               `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Session:    ctl.View(),
		}
		if peers != nil {
			payload.Peers = peers.Links()
		}
		if cfg.Counters != nil {
			payload.Counters = cfg.Counters()
		}
		if cfg.RouterStats != nil {
			payload.Logging = cfg.RouterStats()
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	r.Get("/state", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		view := ctl.View()
		if view == nil {
			httpError(w, "session not ready", nethttp.StatusServiceUnavailable)
			return
		}
		payload := struct {
			Session  string    `json:"session"`
			Frame    sim.Frame `json:"frame"`
			Checksum string    `json:"checksum"`
			State    sim.State `json:"state"`
		}{
			Session:  view.SessionID,
			Frame:    view.Frame,
			Checksum: strconv.FormatUint(view.Checksum, 16),
			State:    view.State,
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	r.Post("/rollback", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		frames := 1
		if raw := r.URL.Query().Get("frames"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, "frames must be a non-negative integer", nethttp.StatusBadRequest)
				return
			}
			frames = n
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		report, err := ctl.RequestRollback(ctx, frames)
		switch {
		case err == nil:
			writeJSON(w, logger, nethttp.StatusOK, report)
		case errors.Is(err, rollback.ErrFrameNotFound):
			httpError(w, err.Error(), nethttp.StatusConflict)
		case errors.Is(err, session.ErrInvalidDepth):
			httpError(w, err.Error(), nethttp.StatusBadRequest)
		case errors.Is(err, session.ErrClosed), errors.Is(err, context.DeadlineExceeded):
			httpError(w, err.Error(), nethttp.StatusServiceUnavailable)
		default:
			logger.Printf("rollback request failed: %v", err)
			httpError(w, "rollback failed", nethttp.StatusInternalServerError)
		}
	})

	r.Get("/protocol/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, logger, nethttp.StatusOK, proto.Schema())
	})

	if peers != nil {
		r.Get("/ws", peers.Handle)
	}

	if cfg.Observability.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}

	return r
}

func writeJSON(w nethttp.ResponseWriter, logger *log.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}

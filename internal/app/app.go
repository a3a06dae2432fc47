package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	servernet "netball/server/internal/net"
	"netball/server/internal/net/ws"
	"netball/server/internal/script"
	"netball/server/internal/session"
	"netball/server/internal/telemetry"
	"netball/server/logging"
	"netball/server/logging/sinks"
)

// peerRetry is the pause between failed dials of the configured peer.
const peerRetry = 2 * time.Second

// Run wires a session, its peer hub and the HTTP surface, then serves until
// ctx ends.
func Run(ctx context.Context, cfg Config) error {
	stdLogger := log.Default()
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(stdLogger)
	}
	if adapter, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok && adapter.StandardLogger() != nil {
		stdLogger = adapter.StandardLogger()
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var source session.InputSource
	if cfg.InputScript != "" {
		parsed, err := script.Parse(cfg.InputScript)
		if err != nil {
			return fmt.Errorf("input script: %w", err)
		}
		source = parsed
	}

	sinkList, closers, err := buildSinks(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}()
	router, err := logging.NewRouter(cfg.Logging, logging.SystemClock{}, stdLogger, sinkList)
	if err != nil {
		return fmt.Errorf("logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout())
		defer cancel()
		if err := router.Close(closeCtx); err != nil {
			stdLogger.Printf("failed to close logging router: %v", err)
		}
	}()
	publisher := logging.WithFields(router, map[string]any{"session": sessionID})

	counters := telemetry.NewCounters()
	hub := ws.NewHub(ws.Config{
		Logger:    stdLogger,
		Publisher: publisher,
		Metrics:   counters,
	})
	sess, err := session.New(session.Config{
		ID:          sessionID,
		LocalPlayer: cfg.LocalPlayer,
		Players:     cfg.Players,
		World:       cfg.World,
		Body:        cfg.Body,
		Horizon:     cfg.Horizon,
		Prediction:  cfg.Prediction,
		TickRate:    cfg.TickRate,
		Outbox:      hub,
		OnResync:    hub.RequestResync,
		Publisher:   publisher,
		Metrics:     counters,
		Logger:      telemetryLogger,
	})
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	hub.Attach(sess)

	handler := servernet.NewHTTPHandler(sess, hub, servernet.HTTPHandlerConfig{
		Logger:        stdLogger,
		Observability: cfg.Observability,
		Counters:      counters.Snapshot,
		RouterStats:   func() any { return router.Stats() },
		TickRate:      cfg.TickRate,
	})

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	addr := listener.Addr().String()
	telemetryLogger.Printf("session %s player %d/%d listening on %s", sessionID, cfg.LocalPlayer, cfg.Players, addr)
	if cfg.OnListen != nil {
		cfg.OnListen(addr)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		sess.Run(runCtx, source, session.LoopHooks{
			OnError: func(err error) { telemetryLogger.Printf("tick failed: %v", err) },
		})
	}()
	if cfg.PeerURL != "" {
		workers.Add(1)
		go func() {
			defer workers.Done()
			dialPeer(runCtx, hub, cfg.PeerURL, telemetryLogger)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetryLogger.Printf("http shutdown: %v", err)
	}
	if err := hub.Close(shutdownCtx); err != nil && !errors.Is(err, ws.ErrHubClosed) {
		telemetryLogger.Printf("peer hub shutdown: %v", err)
	}
	workers.Wait()
	return runErr
}

// dialPeer keeps one outbound link to url alive until ctx ends.
func dialPeer(ctx context.Context, hub *ws.Hub, url string, logger telemetry.Logger) {
	for {
		link, err := hub.Dial(ctx, url)
		if err == nil {
			logger.Printf("connected to peer %s", url)
			select {
			case <-ctx.Done():
				return
			case <-link.Done():
				logger.Printf("peer %s disconnected", url)
			}
		} else if ctx.Err() == nil {
			logger.Printf("dial %s: %v", url, err)
		}
		if errors.Is(err, ws.ErrHubClosed) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(peerRetry):
		}
	}
}

func buildSinks(cfg logging.Config) ([]logging.NamedSink, []*os.File, error) {
	var named []logging.NamedSink
	var files []*os.File
	if cfg.HasSink("console") {
		named = append(named, logging.NamedSink{Name: "console", Sink: sinks.NewConsole(os.Stdout)})
	}
	if cfg.HasSink("json") {
		file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
		}
		files = append(files, file)
		named = append(named, logging.NamedSink{Name: "json", Sink: sinks.NewJSON(file, cfg.JSON.FlushInterval)})
	}
	return named, files, nil
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout
}

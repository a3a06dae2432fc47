package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"netball/server/internal/fixed"
	"netball/server/internal/observability"
	"netball/server/internal/rollback"
	"netball/server/internal/session"
	"netball/server/internal/sim"
	"netball/server/internal/telemetry"
	"netball/server/logging"
)

type Config struct {
	Addr        string
	SessionID   string
	TickRate    int
	Horizon     int
	Players     int
	LocalPlayer sim.PlayerID
	PeerURL     string
	World       sim.World
	Body        sim.BodyParams
	Prediction  session.PredictionMode
	InputScript string

	Logging       logging.Config
	Observability observability.Config
	Logger        telemetry.Logger

	// OnListen, when set, receives the bound address once the server is up.
	OnListen func(addr string)
	// ShutdownTimeout bounds the graceful stop.
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		TickRate:        60,
		Horizon:         rollback.DefaultHorizon,
		Players:         2,
		World:           sim.DefaultWorld(),
		Body:            sim.DefaultBodyParams(),
		Prediction:      session.PredictRepeatLast,
		Logging:         logging.DefaultConfig(),
		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig overlays NETBALL_* environment values on the defaults. Malformed
// values are reported through logger and leave the default in place.
func LoadConfig(getenv func(string) string, logger telemetry.Logger) Config {
	cfg := DefaultConfig()
	if getenv == nil {
		getenv = os.Getenv
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	env := envReader{getenv: getenv, logger: logger}

	cfg.Addr = env.str("NETBALL_ADDR", cfg.Addr)
	cfg.SessionID = env.str("NETBALL_SESSION_ID", "")
	cfg.PeerURL = env.str("NETBALL_PEER_URL", "")
	cfg.InputScript = env.str("NETBALL_INPUT_SCRIPT", "")
	cfg.TickRate = env.positiveInt("NETBALL_TICK_RATE", cfg.TickRate)
	cfg.Horizon = env.positiveInt("NETBALL_HORIZON_FRAMES", cfg.Horizon)
	cfg.Players = env.positiveInt("NETBALL_PLAYERS", cfg.Players)

	if raw := getenv("NETBALL_LOCAL_PLAYER"); raw != "" {
		if value, err := strconv.ParseUint(raw, 10, 8); err == nil && int(value) < cfg.Players {
			cfg.LocalPlayer = sim.PlayerID(value)
		} else {
			logger.Printf("invalid NETBALL_LOCAL_PLAYER=%q: want a slot below %d", raw, cfg.Players)
		}
	}

	cfg.World.Gravity = env.fixed("NETBALL_GRAVITY", cfg.World.Gravity)
	cfg.Body.Radius = env.positiveFixed("NETBALL_RADIUS", cfg.Body.Radius)
	cfg.Body.JumpForce = env.positiveFixed("NETBALL_JUMP_FORCE", cfg.Body.JumpForce)
	cfg.Body.MoveSpeed = env.positiveFixed("NETBALL_MOVE_SPEED", cfg.Body.MoveSpeed)
	if raw := getenv("NETBALL_BOUNDS"); raw != "" {
		if bounds, err := parseBounds(raw); err == nil {
			cfg.World.Bounds = bounds
		} else {
			logger.Printf("invalid NETBALL_BOUNDS=%q: %v", raw, err)
		}
	}
	cfg.World.Dt = stepFor(cfg.TickRate)
	if !cfg.World.Dt.Greater(fixed.Zero) {
		fallback := DefaultConfig().TickRate
		logger.Printf("invalid NETBALL_TICK_RATE=%d: timestep rounds to zero, using %d", cfg.TickRate, fallback)
		cfg.TickRate = fallback
		cfg.World.Dt = stepFor(cfg.TickRate)
	}
	if err := cfg.World.Validate(); err != nil {
		logger.Printf("world settings rejected, using defaults: %v", err)
		cfg.World = sim.DefaultWorld()
		cfg.World.Dt = stepFor(cfg.TickRate)
	}

	if raw := getenv("NETBALL_PREDICTION"); raw != "" {
		if mode, ok := session.ParsePredictionMode(raw); ok {
			cfg.Prediction = mode
		} else {
			logger.Printf("invalid NETBALL_PREDICTION=%q: want repeat or neutral", raw)
		}
	}

	if raw := getenv("NETBALL_LOG_SINKS"); raw != "" {
		var sinks []string
		for _, name := range strings.Split(raw, ",") {
			switch name = strings.TrimSpace(name); name {
			case "console", "json":
				sinks = append(sinks, name)
			case "":
			default:
				logger.Printf("ignoring unknown log sink %q", name)
			}
		}
		cfg.Logging.EnabledSinks = sinks
	}
	cfg.Logging.JSON.FilePath = env.str("NETBALL_LOG_JSON_PATH", cfg.Logging.JSON.FilePath)
	if raw := getenv("NETBALL_LOG_LEVEL"); raw != "" {
		if severity, ok := logging.ParseSeverity(raw); ok {
			cfg.Logging.MinimumSeverity = severity
		} else {
			logger.Printf("invalid NETBALL_LOG_LEVEL=%q", raw)
		}
	}

	if raw := getenv("NETBALL_ENABLE_PPROF"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.Observability.EnablePprof = value
		} else {
			logger.Printf("invalid NETBALL_ENABLE_PPROF=%q: %v", raw, err)
		}
	}
	return cfg
}

// stepFor is the exact fixed-point timestep for a tick rate.
func stepFor(tickRate int) fixed.Fixed {
	dt, err := fixed.FromRatio(1, int64(tickRate))
	if err != nil {
		return sim.DefaultWorld().Dt
	}
	return dt
}

func parseBounds(raw string) (sim.Bounds, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return sim.Bounds{}, fmt.Errorf("want left,right,bottom,top, got %d values", len(parts))
	}
	values := make([]fixed.Fixed, 4)
	for i, part := range parts {
		v, err := fixed.Parse(part)
		if err != nil {
			return sim.Bounds{}, err
		}
		values[i] = v
	}
	return sim.Bounds{Left: values[0], Right: values[1], Bottom: values[2], Top: values[3]}, nil
}

type envReader struct {
	getenv func(string) string
	logger telemetry.Logger
}

func (e envReader) str(key, fallback string) string {
	if raw := strings.TrimSpace(e.getenv(key)); raw != "" {
		return raw
	}
	return fallback
}

func (e envReader) positiveInt(key string, fallback int) int {
	raw := e.getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		e.logger.Printf("invalid %s=%q: want a positive integer", key, raw)
		return fallback
	}
	return value
}

func (e envReader) positiveFixed(key string, fallback fixed.Fixed) fixed.Fixed {
	value := e.fixed(key, fallback)
	if !value.Greater(fixed.Zero) {
		e.logger.Printf("invalid %s=%s: must be positive", key, value)
		return fallback
	}
	return value
}

func (e envReader) fixed(key string, fallback fixed.Fixed) fixed.Fixed {
	raw := e.getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := fixed.Parse(raw)
	if err != nil {
		e.logger.Printf("invalid %s=%q: %v", key, raw, err)
		return fallback
	}
	return value
}

package app

import (
	"fmt"
	"strings"
	"testing"

	"netball/server/internal/fixed"
	"netball/server/internal/session"
	"netball/server/internal/sim"
	"netball/server/internal/telemetry"
	"netball/server/logging"
)

type warnings []string

func (w *warnings) logger() telemetry.Logger {
	return telemetry.LoggerFunc(func(format string, args ...any) {
		*w = append(*w, fmt.Sprintf(format, args...))
	})
}

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadConfigDefaults(t *testing.T) {
	var warned warnings
	cfg := LoadConfig(envOf(nil), warned.logger())
	if len(warned) != 0 {
		t.Fatalf("unexpected warnings: %v", warned)
	}
	if cfg.Addr != ":8080" || cfg.TickRate != 60 || cfg.Horizon != 300 || cfg.Players != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Prediction != session.PredictRepeatLast {
		t.Fatalf("expected repeat prediction, got %s", cfg.Prediction)
	}
	if cfg.World != sim.DefaultWorld() {
		t.Fatalf("expected default world, got %+v", cfg.World)
	}
	if !cfg.Logging.HasSink("console") || cfg.Logging.HasSink("json") {
		t.Fatalf("unexpected sinks: %v", cfg.Logging.EnabledSinks)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	var warned warnings
	cfg := LoadConfig(envOf(map[string]string{
		"NETBALL_ADDR":           "127.0.0.1:9000",
		"NETBALL_TICK_RATE":      "30",
		"NETBALL_HORIZON_FRAMES": "120",
		"NETBALL_PLAYERS":        "3",
		"NETBALL_LOCAL_PLAYER":   "2",
		"NETBALL_PEER_URL":       "ws://peer:8080/ws",
		"NETBALL_GRAVITY":        "-20",
		"NETBALL_BOUNDS":         "-10,10,-5,5",
		"NETBALL_JUMP_FORCE":     "12.5",
		"NETBALL_PREDICTION":     "neutral",
		"NETBALL_INPUT_SCRIPT":   "0-9:axis=1",
		"NETBALL_LOG_SINKS":      "console, json",
		"NETBALL_LOG_JSON_PATH":  "/tmp/events.jsonl",
		"NETBALL_LOG_LEVEL":      "debug",
		"NETBALL_ENABLE_PPROF":   "true",
	}), warned.logger())
	if len(warned) != 0 {
		t.Fatalf("unexpected warnings: %v", warned)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.TickRate != 30 || cfg.Horizon != 120 {
		t.Fatalf("unexpected scalars: %+v", cfg)
	}
	if cfg.Players != 3 || cfg.LocalPlayer != 2 || cfg.PeerURL != "ws://peer:8080/ws" {
		t.Fatalf("unexpected match settings: %+v", cfg)
	}
	if cfg.World.Gravity != fixed.FromInt(-20) || cfg.World.Bounds.Right != fixed.FromInt(10) || cfg.World.Bounds.Top != fixed.FromInt(5) {
		t.Fatalf("unexpected world: %+v", cfg.World)
	}
	dt, _ := fixed.FromRatio(1, 30)
	if cfg.World.Dt != dt {
		t.Fatalf("expected dt to follow the tick rate, got %s", cfg.World.Dt)
	}
	if cfg.Body.JumpForce != fixed.MustParse("12.5") || cfg.Body.MoveSpeed != fixed.FromInt(5) {
		t.Fatalf("unexpected body params: %+v", cfg.Body)
	}
	if cfg.Prediction != session.PredictNeutral || cfg.InputScript != "0-9:axis=1" {
		t.Fatalf("unexpected session settings: %+v", cfg)
	}
	if !cfg.Logging.HasSink("json") || cfg.Logging.JSON.FilePath != "/tmp/events.jsonl" || cfg.Logging.MinimumSeverity != logging.SeverityDebug {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if !cfg.Observability.EnablePprof {
		t.Fatalf("expected pprof enabled")
	}
}

func TestLoadConfigWarnsAndKeepsDefaults(t *testing.T) {
	var warned warnings
	cfg := LoadConfig(envOf(map[string]string{
		"NETBALL_TICK_RATE":    "-4",
		"NETBALL_PLAYERS":      "many",
		"NETBALL_LOCAL_PLAYER": "7",
		"NETBALL_GRAVITY":      "down",
		"NETBALL_BOUNDS":       "1,2,3",
		"NETBALL_PREDICTION":   "psychic",
		"NETBALL_LOG_SINKS":    "console,syslog",
		"NETBALL_ENABLE_PPROF": "maybe",
	}), warned.logger())

	if cfg.TickRate != 60 || cfg.Players != 2 || cfg.LocalPlayer != 0 {
		t.Fatalf("expected defaults to survive, got %+v", cfg)
	}
	if cfg.World != sim.DefaultWorld() {
		t.Fatalf("expected default world, got %+v", cfg.World)
	}
	if cfg.Prediction != session.PredictRepeatLast || cfg.Observability.EnablePprof {
		t.Fatalf("unexpected mode settings: %+v", cfg)
	}
	if len(cfg.Logging.EnabledSinks) != 1 || !cfg.Logging.HasSink("console") {
		t.Fatalf("expected only console sink, got %v", cfg.Logging.EnabledSinks)
	}
	joined := strings.Join(warned, "\n")
	for _, key := range []string{"NETBALL_TICK_RATE", "NETBALL_PLAYERS", "NETBALL_LOCAL_PLAYER", "NETBALL_GRAVITY", "NETBALL_BOUNDS", "NETBALL_PREDICTION", "syslog", "NETBALL_ENABLE_PPROF"} {
		if !strings.Contains(joined, key) {
			t.Fatalf("expected a warning mentioning %s, got:\n%s", key, joined)
		}
	}
}

func TestLoadConfigRejectsInvertedBounds(t *testing.T) {
	var warned warnings
	cfg := LoadConfig(envOf(map[string]string{"NETBALL_BOUNDS": "5,-5,-1,1"}), warned.logger())
	if cfg.World != sim.DefaultWorld() {
		t.Fatalf("expected default world after rejection, got %+v", cfg.World)
	}
	if len(warned) != 1 {
		t.Fatalf("expected one warning, got %v", warned)
	}
}

func TestLoadConfigFromProcessEnvironment(t *testing.T) {
	t.Setenv("NETBALL_HORIZON_FRAMES", "42")
	cfg := LoadConfig(nil, nil)
	if cfg.Horizon != 42 {
		t.Fatalf("expected horizon 42, got %d", cfg.Horizon)
	}
}

func TestLoadConfigRejectsZeroTimestep(t *testing.T) {
	var warned warnings
	cfg := LoadConfig(envOf(map[string]string{"NETBALL_TICK_RATE": "1000000"}), warned.logger())
	if cfg.TickRate != 60 {
		t.Fatalf("expected tick rate to fall back to 60, got %d", cfg.TickRate)
	}
	if cfg.World != sim.DefaultWorld() {
		t.Fatalf("expected the default 60 Hz world, got %+v", cfg.World)
	}
	if err := cfg.World.Validate(); err != nil {
		t.Fatalf("loaded world must validate: %v", err)
	}
	if len(warned) != 1 || !strings.Contains(warned[0], "NETBALL_TICK_RATE") {
		t.Fatalf("expected one tick rate warning, got %v", warned)
	}
}

func TestLoadConfigRejectsNonPositiveBodyParams(t *testing.T) {
	var warned warnings
	cfg := LoadConfig(envOf(map[string]string{
		"NETBALL_RADIUS":     "0",
		"NETBALL_JUMP_FORCE": "-3",
		"NETBALL_MOVE_SPEED": "2.5",
	}), warned.logger())
	want := sim.DefaultBodyParams()
	want.MoveSpeed = fixed.MustParse("2.5")
	if cfg.Body != want {
		t.Fatalf("expected %+v, got %+v", want, cfg.Body)
	}
	joined := strings.Join(warned, "\n")
	if len(warned) != 2 || !strings.Contains(joined, "NETBALL_RADIUS") || !strings.Contains(joined, "NETBALL_JUMP_FORCE") {
		t.Fatalf("expected radius and jump force warnings, got %v", warned)
	}
}

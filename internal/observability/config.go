package observability

// Config captures opt-in observability toggles.
type Config struct {
	// EnablePprof mounts the runtime profiler under /debug.
	EnablePprof bool
}

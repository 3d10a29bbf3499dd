package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnableMetrics mounts the prometheus exposition endpoint at /metrics.
	EnableMetrics bool
	// EnablePprof mounts net/http/pprof under /debug/pprof/.
	EnablePprof bool
}

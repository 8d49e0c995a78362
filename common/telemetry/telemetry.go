// Package telemetry runs the debug-only observability surfaces. The
// Prometheus registry is served on the API port by the routes package;
// what lives here is the pprof listener, bound to localhost so profile
// data never faces tenants.
package telemetry

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
)

// Telemetry owns the pprof side server
type Telemetry struct {
	log   *logger.Logger
	addr  string
	start bool
}

// New creates telemetry components from config
func New(cfg config.TelemetryConfig, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:   log,
		addr:  fmt.Sprintf("localhost:%d", cfg.PprofPort),
		start: cfg.PprofEnabled,
	}
}

// Start launches the pprof listener when enabled. Listener failures are
// logged, not fatal: the engine runs fine without its profiler.
func (t *Telemetry) Start() {
	if !t.start {
		return
	}
	go func() {
		t.log.Info("pprof listening", "addr", t.addr)
		if err := http.ListenAndServe(t.addr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()
}

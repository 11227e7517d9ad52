// Package observability wires structured logging and Prometheus metrics
// for the orchestrator.
package observability

import (
	"log/slog"
	"os"

	"github.com/aiorchestrator/orchestrator/internal/config"
)

// SetupLogger configures a JSON slog logger enriched with service/env
// fields, matching debug verbosity in dev and info verbosity elsewhere.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}

// Package simgate launches a headless simulation backend, gates on its HTTP
// health endpoint with a bounded retry budget, and reports exactly one
// ready-or-failed outcome per launch.
package simgate

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/simgate/internal/config"
	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/health"
	"github.com/loykin/simgate/internal/history"
	"github.com/loykin/simgate/internal/metrics"
	"github.com/loykin/simgate/internal/process"
	iapi "github.com/loykin/simgate/internal/server"
	"github.com/loykin/simgate/internal/store"
	"github.com/loykin/simgate/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type ProcessStatus = process.Status

type Policy = gate.Policy

type GateSnapshot = gate.Snapshot

type Diagnostic = gate.Diagnostic

type Notifier = gate.Notifier

type Probe = health.Probe

type Status = supervisor.Status

type Store = store.Store

type HistorySink = history.Sink

// Config assembles one Supervisor; see supervisor.Config.
type Config = supervisor.Config

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor = supervisor.Supervisor

// New builds a supervisor for one backend launch.
func New(c Config) (*Supervisor, error) { return supervisor.New(c) }

// NewHTTPProbe builds the default health probe for a backend at baseURL.
func NewHTTPProbe(baseURL, path string) *health.HTTPProbe {
	return health.NewHTTPProbe(baseURL, path)
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewHTTPServer starts the local control API on addr.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	return iapi.NewServer(addr, basePath, s)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics on addr using the default registry. It blocks
// in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

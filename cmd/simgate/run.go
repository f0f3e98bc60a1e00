package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/simgate"
	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/history"
	chsink "github.com/loykin/simgate/internal/history/clickhouse"
	pgsink "github.com/loykin/simgate/internal/history/postgres"
	"github.com/loykin/simgate/internal/logger"
	"github.com/loykin/simgate/internal/store"
	sqlitestore "github.com/loykin/simgate/internal/store/sqlite"
)

// RunFlags holds flags for the run command.
type RunFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Launch the backend and supervise it until shutdown",
		Long: `Launch the backend executable, poll its health endpoint until it is
ready or the retry budget runs out, and keep serving the control API until a
shutdown signal arrives. The backend is always terminated on the way out.

Examples:
  simgate run --config=simgate.toml
  simgate run simgate.toml --daemonize --pidfile=/var/run/simgate.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				runFlags.ConfigPath = args[0]
			}
			return runCommand(runFlags)
		},
	}

	cmd.Flags().BoolVar(&runFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&runFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "redirect daemon logs to this file")

	return cmd
}

func runCommand(flags *RunFlags) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required. Use --config=simgate.toml or provide as argument")
	}

	cfg, err := simgate.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	defer func() { _ = removePidFile(flags.PidFile) }()

	log := logger.New(cfg.LogLevel, true)

	// Local launch history.
	var st store.Store
	if cfg.Store != nil && cfg.Store.Path != "" {
		db, err := sqlitestore.New(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open launch store: %w", err)
		}
		if err := db.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return fmt.Errorf("prepare launch store: %w", err)
		}
		defer func() { _ = db.Close() }()
		st = db
	}

	// Optional external sinks.
	var sinks []history.Sink
	if h := cfg.History; h != nil {
		if h.Postgres != nil && h.Postgres.DSN != "" {
			sink, err := pgsink.New(h.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres sink: %w", err)
			}
			defer func() { _ = sink.Close() }()
			sinks = append(sinks, sink)
		}
		if h.ClickHouse != nil && h.ClickHouse.Addr != "" {
			sink, err := chsink.New(h.ClickHouse.Addr, h.ClickHouse.Table)
			if err != nil {
				return fmt.Errorf("connect clickhouse sink: %w", err)
			}
			defer func() { _ = sink.Close() }()
			sinks = append(sinks, sink)
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := simgate.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := simgate.ServeMetrics(cfg.Metrics.Listen); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	sup, err := simgate.New(simgate.Config{
		Spec:     cfg.Spec(),
		Policy:   cfg.Policy(),
		Probe:    simgate.NewHTTPProbe(cfg.BackendBaseURL(), cfg.Health.Path),
		Notifier: logNotifier{log},
		Logger:   log,
		Store:    st,
		Sinks:    sinks,
	})
	if err != nil {
		return err
	}

	var server *http.Server
	if cfg.Server != nil {
		server = simgate.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
		log.Info("control API listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	}

	if err := sup.Start(context.Background()); err != nil {
		if server != nil {
			_ = server.Close()
		}
		return fmt.Errorf("launch backend: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	sup.Stop()
	if server != nil {
		_ = server.Close()
	}
	return nil
}

// logNotifier is the default outcome sink when no shell is embedding us: it
// writes the single ready/failed verdict to the structured log.
type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) BackendReady() {
	n.log.Info("backend is ready to accept requests")
}

func (n logNotifier) BackendFailed(d gate.Diagnostic) {
	n.log.Error("backend failed to start", "attempts", d.Attempts, "last_error", d.LastError)
}

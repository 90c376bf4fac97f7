package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/recorder"
	"github.com/A-new/ironbee/pkg/audit/retention"
	"github.com/A-new/ironbee/pkg/audit/storage"
	"github.com/A-new/ironbee/pkg/cli"
	"github.com/A-new/ironbee/pkg/limits/ratelimit"
	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/security/auth"
	"github.com/A-new/ironbee/pkg/security/secrets"
	"github.com/A-new/ironbee/pkg/server"
	"github.com/A-new/ironbee/pkg/telemetry/health"
	"github.com/A-new/ironbee/pkg/telemetry/metrics"
	"github.com/A-new/ironbee/pkg/telemetry/tracing"
)

var serveFlags struct {
	listen string
	rules  []string
	watch  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rule engine with its admin server",
	Long: `Load the rules, keep them current and serve the admin API.

The serve command:
  - loads rules.files and rejects startup if any directive fails
  - reloads on file changes when rules.watch is set, and on SIGHUP
  - records every evaluated rule to the audit trail when audit.enabled is set
  - prunes the audit trail on audit.retention.schedule
  - serves /healthz, /readyz, /version, /metrics, /rules, /rules/reload
    and /evaluate on server.listen_address, over TLS when server.tls is set
  - requires an API key on /rules and /evaluate when server.api_keys is set
  - throttles those routes per client when server.rate_limit is set
  - exports OTLP traces of requests and evaluations when telemetry.tracing is set

A failed reload keeps the previous rule set active.

Examples:
  # Start with a config file
  ironbee serve --config ironbee.yaml

  # Override the listen address and watch for rule changes
  ironbee serve -c ironbee.yaml --listen 0.0.0.0:9090 --watch`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.listen, "listen", "", "admin listen address (default: server.listen_address)")
	serveCmd.Flags().StringSliceVarP(&serveFlags.rules, "rules", "r", nil, "rules files or globs (default: rules.files)")
	serveCmd.Flags().BoolVar(&serveFlags.watch, "watch", false, "reload rules when files change (default: rules.watch)")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listen != "" {
		cfg.Server.ListenAddress = serveFlags.listen
	}
	if cmd.Flags().Changed("watch") {
		cfg.Rules.Watch = serveFlags.watch
	}
	if len(serveFlags.rules) == 0 && len(cfg.Rules.Files) == 0 {
		return cli.NewConfigError("rules.files", "no rules files given (use --rules or the config file)")
	}

	logger, err := newLogger(cmd, cfg.Telemetry.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	ctx, cancel := cli.SetupSignalHandler()
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var collector *metrics.Collector
	var inst instrumentation
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
		inst.observers = append(inst.observers, collector)
		inst.scriptObserver = collector
	}

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer scancel()
		if err := tracer.Shutdown(sctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()
	if tracer.Enabled() {
		inst.tracer = tracer.Tracer()
		inst.observers = append(inst.observers, tracing.RuleObserver())
	}

	checker := health.New(0)

	if cfg.Audit.Enabled {
		store, err := storage.Open(cfg.Audit.StorageOptions(), logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to open audit storage: %w", err)
		}
		defer store.Close()

		var am recorder.Metrics
		if collector != nil {
			am = collector.Audit()
		}
		rec := recorder.NewRecorder(store, cfg.Audit.RecorderOptions(), logger.Logger, am)
		defer rec.Close()
		inst.observers = append(inst.observers, rec)
		checker.Register("audit_storage", health.AuditStorage(store))

		if err := startRetention(ctx, store, cfg.Audit.Retention.RetentionOptions(), logger.Logger); err != nil {
			return err
		}
	}

	m, err := newManager(cfg, serveFlags.rules, logger.Logger, inst)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Load(); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	checker.Register("rules", health.RulesLoaded(m))

	hup, stopHangup := cli.NotifyHangup()
	defer stopHangup()

	opts := server.Options{
		Config:      cfg.Server,
		Rules:       m,
		Health:      checker,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Build:       buildInfo(),
	}
	if tracer.Enabled() {
		opts.Tracer = tracer
	}
	if collector != nil {
		opts.Metrics = collector.Handler()
	}
	if len(cfg.Server.APIKeys) > 0 {
		keys, err := auth.ResolveKeys(ctx, cfg.Server.APIKeys, secrets.DefaultResolver(configDir()))
		if err != nil {
			return cli.NewConfigError("server.api_keys", err.Error())
		}
		opts.Keys = auth.NewKeySet(keys)
	}
	if cfg.Server.RateLimit.Enabled() {
		opts.RateLimit = ratelimit.NewLimiter(cfg.Server.RateLimit)
	}
	if cfg.Server.TLS.Enabled {
		reloader := cfg.Server.TLS.Reloader().WithLogger(logger.Logger)
		if err := reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		if opts.TLS, err = cfg.Server.TLS.ServerConfig(reloader); err != nil {
			return err
		}
		checker.Register("tls_certificate", reloader.Check)
	}
	srv, err := server.New(opts, logger.Logger)
	if err != nil {
		return err
	}

	// The first of the server, watcher or hangup loop to fail stops the
	// others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Rules.Watch {
		g.Go(func() error {
			if err := m.Watch(gctx, cfg.Rules.DebounceInterval); err != nil && gctx.Err() == nil {
				return fmt.Errorf("rule watcher stopped: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		reloadOnHangup(gctx, hup, m, logger.Logger)
		return nil
	})
	return g.Wait()
}

// startRetention starts the prune schedule. It stops with ctx.
func startRetention(ctx context.Context, store audit.Storage, cfg *retention.Config, logger *slog.Logger) error {
	if cfg.Schedule == "" || (cfg.RetentionDays == 0 && cfg.MaxRecords == 0) {
		return nil
	}
	sched := retention.NewScheduler(retention.NewPruner(store, cfg, logger))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start audit retention: %w", err)
	}
	if next := sched.NextRun(); next != nil {
		logger.Info("audit retention scheduled", "schedule", cfg.Schedule, "next_run", next.String())
	}
	return nil
}

func reloadOnHangup(ctx context.Context, hup <-chan os.Signal, m *manager.Manager, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading rules")
			if err := m.Reload(); err != nil {
				logger.Error("reload failed, previous rule set kept", "error", err)
			}
		}
	}
}

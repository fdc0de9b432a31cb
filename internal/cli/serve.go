package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/health"
	"github.com/mbd888/tokenrisk/internal/metrics"
	"github.com/mbd888/tokenrisk/internal/profile"
	"github.com/mbd888/tokenrisk/internal/ratelimit"
	"github.com/mbd888/tokenrisk/internal/realtime"
	"github.com/mbd888/tokenrisk/internal/score"
	"github.com/mbd888/tokenrisk/internal/server"
	"github.com/mbd888/tokenrisk/internal/traces"
	"github.com/mbd888/tokenrisk/internal/webhooks"
	"github.com/mbd888/tokenrisk/migrations"
)

func newServeCmd(env *environment, info BuildInfo) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Serves the assessment API on PORT. Outcomes are stored in PostgreSQL when\n" +
			"DATABASE_URL is set and in memory otherwise. Finalized and failed assessments are\n" +
			"streamed to WebSocket clients on /v1/stream and, when WEBHOOK_URLS is set, POSTed\n" +
			"to each webhook.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env.load(cmd)
			if err != nil {
				return err
			}
			logger.Info("starting tokenrisk",
				"version", info.Version,
				"commit", info.Commit,
				"build_time", info.BuildTime,
			)

			ctx, cancel := signalContext(cmd)
			defer cancel()

			shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, info.Version, logger)
			if err != nil {
				return fmt.Errorf("failed to init tracing: %w", err)
			}
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				_ = shutdownTracing(sctx)
			}()

			a, err := newApp(cfg, logger, "")
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			checks := health.NewRegistry()

			var store assess.Store = assess.NewMemoryStore()
			if cfg.DatabaseURL != "" {
				db, err := openPostgres(ctx, cfg.DatabaseURL, migrate)
				if err != nil {
					return err
				}
				a.closers = append(a.closers, db.Close)
				go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
				pg := assess.NewPostgresStore(db)
				checks.Register("database", health.Ping("database", pg.Ping))
				store = pg
				logger.Info("using postgres store")
			} else {
				logger.Warn("DATABASE_URL not set, assessments are kept in memory")
			}
			if a.breaker != nil {
				checks.Register("providers", health.Circuits("providers", a.breaker, a.providerNames()))
			}

			if cfg.WatchProfiles {
				w, err := profile.NewWatcher(cfg.ProfileDir, a.profiles, logger)
				if err != nil {
					return err
				}
				go func() { _ = w.Run(ctx) }()
				logger.Info("watching profiles", "dir", cfg.ProfileDir)
			}

			hub := realtime.NewHub(logger)
			orchOpts := []assess.Option{assess.WithStore(store), assess.WithObserver(hub)}
			if len(cfg.WebhookURLs) > 0 {
				minTier, err := score.ParseTier(cfg.WebhookMinTier)
				if err != nil {
					return err
				}
				hooks, err := webhooks.NewDispatcher(webhooks.Config{
					URLs:     cfg.WebhookURLs,
					Secret:   cfg.WebhookSecret,
					MinTier:  minTier,
					Failures: cfg.WebhookFailures,
				}, webhooks.WithLogger(logger))
				if err != nil {
					return err
				}
				go hooks.Run(ctx)
				orchOpts = append(orchOpts, assess.WithObserver(hooks))
				logger.Info("webhooks enabled", "targets", len(cfg.WebhookURLs), "min_tier", minTier)
			}
			orch := a.orchestrator(orchOpts...)

			limits := ratelimit.DefaultConfig()
			limits.RequestsPerMinute = cfg.RateLimitRPM

			srv, err := server.New(cfg, server.Deps{
				Orchestrator: orch,
				Store:        store,
				Profiles:     a.profiles,
				Health:       checks,
				Hub:          hub,
			},
				server.WithLogger(logger),
				server.WithVersion(info.Version),
				server.WithRateLimit(limits),
			)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending database migrations before serving")
	return cmd
}

func openPostgres(ctx context.Context, url string, migrate bool) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if migrate {
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}

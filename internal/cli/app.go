package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/circuitbreaker"
	"github.com/mbd888/tokenrisk/internal/collect"
	"github.com/mbd888/tokenrisk/internal/config"
	"github.com/mbd888/tokenrisk/internal/normalize"
	"github.com/mbd888/tokenrisk/internal/profile"
)

// Breaker settings shared by every HTTP provider.
const (
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// app holds the collaborators every command builds from configuration.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	profiles   *profile.Live
	normalizer *normalize.Normalizer
	collector  *collect.Collector // nil when no provider is configured
	breaker    *circuitbreaker.Breaker
	closers    []func() error
}

// newApp loads profiles and normalization rules and builds the collector.
// payloadDir overrides cfg.PayloadDir when set.
func newApp(cfg *config.Config, logger *slog.Logger, payloadDir string) (*app, error) {
	reg, err := profile.LoadDir(cfg.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	if _, err := reg.Get(cfg.DefaultProfile); err != nil {
		return nil, fmt.Errorf("default profile: %w", err)
	}

	rules, err := normalize.DefaultRules()
	if cfg.RulesFile != "" {
		rules, err = normalize.LoadRules(cfg.RulesFile)
	}
	if err != nil {
		return nil, err
	}
	norm, err := normalize.New(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid normalization rules: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		profiles:   profile.NewLive(reg),
		normalizer: norm,
	}

	if payloadDir == "" {
		payloadDir = cfg.PayloadDir
	}
	switch {
	case payloadDir != "":
		a.collector = collect.NewCollector(collect.FileProviders(payloadDir), cfg.CollectTimeout)
		logger.Debug("collecting from payload files", "dir", payloadDir)
	case len(cfg.Providers) > 0:
		if err := a.httpCollector(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) httpCollector() error {
	var cache collect.Cache
	if a.cfg.CacheDir != "" {
		bc, err := collect.OpenBadgerCache(a.cfg.CacheDir, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bc.Close)
		cache = bc
	} else {
		cache = collect.NewMemoryCache()
	}

	a.breaker = circuitbreaker.New(breakerThreshold, breakerOpenFor)
	a.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		a.logger.Warn("provider circuit changed", "provider", key, "from", from.String(), "to", to.String())
	})

	providers := make([]collect.Provider, 0, len(a.cfg.Providers))
	for _, pc := range a.cfg.Providers {
		opts := []collect.HTTPOption{
			collect.WithBreaker(a.breaker),
			collect.WithCache(cache, a.cfg.CacheTTL),
		}
		if a.cfg.ProviderRPS > 0 {
			opts = append(opts, collect.WithRateLimit(a.cfg.ProviderRPS, 1))
		}
		p, err := collect.NewHTTPProvider(collect.HTTPConfig{
			Name:   pc.Name,
			Kind:   pc.Kind,
			URL:    pc.URL,
			APIKey: pc.APIKey,
		}, opts...)
		if err != nil {
			return err
		}
		providers = append(providers, p)
	}
	a.collector = collect.NewCollector(providers, a.cfg.CollectTimeout)
	return nil
}

// providerNames lists the configured provider names.
func (a *app) providerNames() []string {
	if a.collector == nil {
		return nil
	}
	var names []string
	for _, p := range a.collector.Providers() {
		names = append(names, p.Name())
	}
	return names
}

// orchestrator builds an orchestrator over the app's profiles and collector.
func (a *app) orchestrator(opts ...assess.Option) *assess.Orchestrator {
	base := []assess.Option{
		assess.WithLogger(a.logger),
		assess.WithDefaultProfile(a.cfg.DefaultProfile),
		assess.WithCollectTimeout(a.cfg.CollectTimeout),
		assess.WithConcurrency(a.cfg.BatchConcurrency),
	}
	if a.collector != nil {
		base = append(base, assess.WithCollector(a.collector))
	}
	return assess.New(a.profiles, a.normalizer, append(base, opts...)...)
}

// historyStore opens the sqlite history file when one is configured.
func (a *app) historyStore(ctx context.Context, path string) (*assess.SQLiteStore, error) {
	if path == "" {
		path = a.cfg.HistoryFile
	}
	if path == "" {
		return nil, nil
	}
	s, err := assess.OpenSQLiteStore(ctx, path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Close releases caches and stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

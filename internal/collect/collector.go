package collect

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/tokenrisk/internal/logging"
	"github.com/mbd888/tokenrisk/internal/metrics"
	"github.com/mbd888/tokenrisk/internal/signal"
	"github.com/mbd888/tokenrisk/internal/traces"
)

// DefaultTimeout bounds a whole collection.
const DefaultTimeout = 10 * time.Second

// ProviderStatus reports how one provider fared for one collection.
type ProviderStatus struct {
	Provider string              `json:"provider"`
	Kind     signal.ProviderKind `json:"kind"`
	Status   signal.Status       `json:"status"`
	Error    string              `json:"error,omitempty"`
	Signals  int                 `json:"signals"`
	Duration time.Duration       `json:"duration"`
}

// Report is the result of one collection.
type Report struct {
	Target    Target             `json:"target"`
	Signals   []signal.RawSignal `json:"signals"`
	Providers []ProviderStatus   `json:"providers"`
}

// Collector fans a target out to every provider concurrently.
type Collector struct {
	providers []Provider
	timeout   time.Duration
}

// NewCollector creates a collector. A non-positive timeout uses DefaultTimeout.
func NewCollector(providers []Provider, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Collector{providers: providers, timeout: timeout}
}

// Providers returns the configured providers.
func (c *Collector) Providers() []Provider {
	return c.providers
}

// Collect returns the signals for a token. Provider failures are folded
// into absent signals, so the error is always nil.
func (c *Collector) Collect(ctx context.Context, chain, token string) ([]signal.RawSignal, error) {
	return c.Gather(ctx, Target{Chain: chain, Token: token}).Signals, nil
}

// Gather queries every provider and reports per-provider status. Signals
// are ordered by provider, in configuration order.
func (c *Collector) Gather(ctx context.Context, t Target) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := traces.StartSpan(ctx, "collect.gather", traces.Chain(t.Chain), traces.Token(t.Token))
	defer span.End()

	statuses := make([]ProviderStatus, len(c.providers))
	results := make([][]signal.RawSignal, len(c.providers))

	var g errgroup.Group
	for i, p := range c.providers {
		i, p := i, p
		g.Go(func() error {
			results[i], statuses[i] = c.fetch(ctx, p, t)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Target: t, Providers: statuses}
	for _, sigs := range results {
		report.Signals = append(report.Signals, sigs...)
	}
	return report
}

type fetchResult struct {
	env signal.Envelope
	err error
}

func (c *Collector) fetch(ctx context.Context, p Provider, t Target) ([]signal.RawSignal, ProviderStatus) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "collect.fetch", traces.Provider(p.Name()))
	defer span.End()

	st := ProviderStatus{Provider: p.Name(), Kind: p.Kind()}

	// A provider that ignores ctx still cannot hold the collection past
	// the deadline.
	ch := make(chan fetchResult, 1)
	go func() {
		env, err := p.Fetch(ctx, t)
		ch <- fetchResult{env: env, err: err}
	}()

	var res fetchResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = fetchResult{err: ErrProviderTimeout}
	}

	var sigs []signal.RawSignal
	if res.err == nil {
		var err error
		sigs, err = signal.Extract(res.env)
		if err != nil {
			res.err = err
		}
	}

	st.Duration = time.Since(start)
	metrics.ProviderFetchDuration.WithLabelValues(p.Name()).Observe(st.Duration.Seconds())

	if res.err != nil {
		st.Status = statusFor(res.err)
		st.Error = res.err.Error()
		sigs = signal.AbsentFor(p.Kind(), p.Name(), st.Status)
		logging.L(ctx).Warn("provider fetch failed",
			slog.String("provider", p.Name()),
			slog.String("status", string(st.Status)),
			slog.String("error", st.Error),
		)
	} else {
		st.Status = res.env.Status
		if st.Status == "" {
			st.Status = signal.StatusOK
		}
	}
	st.Signals = len(sigs)
	metrics.ProviderFetchesTotal.WithLabelValues(p.Name(), string(st.Status)).Inc()
	return sigs, st
}

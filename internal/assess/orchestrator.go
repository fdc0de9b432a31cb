// Package assess drives one assessment request through its lifecycle:
// collect signals, normalize them per category, evaluate red flags and
// aggregate the composite score.
//
// The pipeline between collection and the final record is pure. Provider
// outages never fail a request; they show up as low confidence and
// annotations. A request fails only for invalid input or configuration.
package assess

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/tokenrisk/internal/logging"
	"github.com/mbd888/tokenrisk/internal/metrics"
	"github.com/mbd888/tokenrisk/internal/normalize"
	"github.com/mbd888/tokenrisk/internal/profile"
	"github.com/mbd888/tokenrisk/internal/redflag"
	"github.com/mbd888/tokenrisk/internal/score"
	"github.com/mbd888/tokenrisk/internal/signal"
	"github.com/mbd888/tokenrisk/internal/traces"
)

const (
	DefaultProfile        = "global"
	DefaultCollectTimeout = 10 * time.Second
	DefaultConcurrency    = 4
)

// Collector gathers raw signals for one token. Implementations convert
// provider failures into absent signals rather than returning them.
type Collector interface {
	Collect(ctx context.Context, chain, token string) ([]signal.RawSignal, error)
}

// Profiles resolves profile names. *profile.Registry implements it.
type Profiles interface {
	Get(name string) (*profile.Profile, error)
}

// Observer is told about every terminal outcome after it is recorded.
// Publish must not block or modify the outcome.
type Observer interface {
	Publish(out *Outcome)
}

// Outcome is the terminal record of one request.
type Outcome struct {
	Request     Request           `json:"request"`
	State       State             `json:"state"`
	Assessment  *score.Assessment `json:"assessment,omitempty"`
	Failure     *FailureError     `json:"failure,omitempty"`
	Transitions []Transition      `json:"transitions"`
	CompletedAt time.Time         `json:"completedAt"`
}

// Err returns the failure as an error, or nil for a finalized outcome.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Orchestrator runs assessments. It is safe for concurrent use.
type Orchestrator struct {
	profiles       Profiles
	normalizer     *normalize.Normalizer
	collector      Collector
	store          Store
	observers      []Observer
	collectTimeout time.Duration
	concurrency    int
	defaultProfile string
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCollector sets the signal collector used by Assess and Batch.
func WithCollector(c Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithStore persists every terminal outcome.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithObserver adds an observer of terminal outcomes.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithCollectTimeout bounds the collection step of a request.
func WithCollectTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.collectTimeout = d
		}
	}
}

// WithConcurrency caps the number of requests a batch runs at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDefaultProfile sets the profile used when a request names none.
func WithDefaultProfile(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.defaultProfile = name
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the base logger. Without it the logger carried by the
// request context is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over a profile registry and a normalizer.
func New(profiles Profiles, normalizer *normalize.Normalizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		profiles:       profiles,
		normalizer:     normalizer,
		collectTimeout: DefaultCollectTimeout,
		concurrency:    DefaultConcurrency,
		defaultProfile: DefaultProfile,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CanCollect reports whether Assess has a collector to fetch signals with.
func (o *Orchestrator) CanCollect() bool {
	return o.collector != nil
}

// Submit assesses already collected signals. A failed request returns a
// *FailureError.
func (o *Orchestrator) Submit(ctx context.Context, req Request, signals []signal.RawSignal) (*score.Assessment, error) {
	out := o.run(ctx, req, func(context.Context, Request) ([]signal.RawSignal, error) {
		return signals, nil
	})
	return out.Assessment, out.Err()
}

// SubmitOutcome is Submit returning the full outcome record.
func (o *Orchestrator) SubmitOutcome(ctx context.Context, req Request, signals []signal.RawSignal) *Outcome {
	return o.run(ctx, req, func(context.Context, Request) ([]signal.RawSignal, error) {
		return signals, nil
	})
}

// Assess collects signals through the configured Collector and assesses them.
func (o *Orchestrator) Assess(ctx context.Context, req Request) (*score.Assessment, error) {
	out := o.AssessOutcome(ctx, req)
	return out.Assessment, out.Err()
}

// AssessOutcome is Assess returning the full outcome record.
func (o *Orchestrator) AssessOutcome(ctx context.Context, req Request) *Outcome {
	return o.run(ctx, req, o.collect)
}

// Batch assesses every request independently. At most the configured
// number of requests run at once. The result has one outcome per request in
// input order; a failed request never stops the others.
func (o *Orchestrator) Batch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	// Plain group: one failure must not cancel the siblings.
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			metrics.BatchInFlight.Inc()
			defer metrics.BatchInFlight.Dec()
			outcomes[i] = *o.AssessOutcome(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type collectFunc func(ctx context.Context, req Request) ([]signal.RawSignal, error)

var errNoCollector = errors.New("no collector configured")

func (o *Orchestrator) collect(ctx context.Context, req Request) ([]signal.RawSignal, error) {
	if o.collector == nil {
		return nil, errNoCollector
	}
	cctx, cancel := context.WithTimeout(ctx, o.collectTimeout)
	defer cancel()
	return o.collector.Collect(cctx, req.Chain, req.Token)
}

// failedSources stands in for a collection that produced nothing: every
// provider-backed signal is reported as a failed fetch.
func failedSources() []signal.RawSignal {
	var out []signal.RawSignal
	for _, k := range signal.ProviderKinds() {
		out = append(out, signal.AbsentFor(k, string(k), signal.StatusFailed)...)
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, req Request, collect collectFunc) *Outcome {
	start := o.now()
	lc := newLifecycle(o.now)
	req = req.Canonical()

	if o.logger != nil {
		ctx = logging.WithLogger(ctx, o.logger)
	}
	ctx = logging.WithAssessment(ctx, req.ID, req.Chain, req.Token)
	ctx, span := traces.StartSpan(ctx, "assess.run",
		traces.AssessmentID(req.ID),
		traces.Token(req.Token),
		traces.Chain(req.Chain),
	)
	defer span.End()

	out := &Outcome{Request: req}
	a, ferr := o.pipeline(ctx, req, lc, collect)
	if ferr != nil {
		// Terminal states cannot move; only a live request is marked failed.
		if !lc.state.Terminal() {
			_ = lc.advance(StateFailed)
		}
		out.Failure = ferr
	} else {
		out.Assessment = a
		span.SetAttributes(traces.Tier(string(a.Tier)))
	}
	out.State = lc.state
	out.Transitions = lc.transitions
	out.CompletedAt = o.now()

	o.record(ctx, out, out.CompletedAt.Sub(start))
	return out
}

func (o *Orchestrator) pipeline(ctx context.Context, req Request, lc *lifecycle, collect collectFunc) (*score.Assessment, *FailureError) {
	if err := req.Validate(); err != nil {
		return nil, fail(ReasonInvalidRequest, err)
	}

	name := req.Profile
	if name == "" {
		name = o.defaultProfile
	}
	p, err := o.profiles.Get(name)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return nil, fail(ReasonUnknownProfile, err)
		}
		return nil, fail(ReasonInternal, err)
	}
	if err := p.Check(); err != nil {
		return nil, fail(ReasonProfileInvariant, err)
	}

	if err := lc.advance(StateCollecting); err != nil {
		return nil, fail(ReasonInvalidTransition, err)
	}
	signals, err := collect(ctx, req)
	if ctx.Err() != nil {
		return nil, fail(ReasonCanceled, ctx.Err())
	}
	switch {
	case errors.Is(err, errNoCollector):
		return nil, fail(ReasonInternal, err)
	case err != nil:
		logging.L(ctx).Warn("signal collection failed, scoring without provider data", "error", err)
		signals = failedSources()
	}
	canonical := make([]signal.RawSignal, 0, len(signals))
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return nil, fail(ReasonInvalidRequest, err)
		}
		canonical = append(canonical, s.Canonical())
	}
	signals = canonical

	if err := lc.advance(StateNormalizing); err != nil {
		return nil, fail(ReasonInvalidTransition, err)
	}
	scores := o.normalizer.NormalizeAll(signals)

	if err := lc.advance(StateScoring); err != nil {
		return nil, fail(ReasonInvalidTransition, err)
	}
	_, span := traces.StartSpan(ctx, "assess.score", traces.Profile(p.Name))
	in := redflag.NewInput(req.Chain, signals, scores)
	in.WellKnown = p.IsWellKnown(req.Chain, req.Token)
	flags := redflag.Evaluate(p.Rules, in, p.MaxBoost)
	a := score.Aggregate(score.Inputs{
		RequestID:     req.ID,
		Token:         req.Token,
		Chain:         req.Chain,
		Profile:       p.Name,
		Scores:        scores,
		Weights:       p.Weights,
		Flags:         flags,
		Bands:         p.Bands,
		MinConfidence: p.MinConfidence,
		AssessedAt:    o.now(),
	})
	span.End()

	for _, skip := range flags.Skipped {
		logging.L(ctx).Info("rule evaluation skipped",
			"rule", skip.ID,
			"missing", skip.Missing,
		)
		metrics.RuleSkipsTotal.WithLabelValues(skip.ID).Inc()
	}

	if err := lc.advance(StateFinalized); err != nil {
		return nil, fail(ReasonInvalidTransition, err)
	}
	return a, nil
}

func (o *Orchestrator) record(ctx context.Context, out *Outcome, elapsed time.Duration) {
	logger := logging.L(ctx)
	metrics.AssessmentDuration.Observe(elapsed.Seconds())

	profileName := out.Request.Profile
	if out.Assessment != nil {
		a := out.Assessment
		profileName = a.Profile
		metrics.AssessmentsTotal.WithLabelValues(string(out.State), a.Profile, string(a.Tier)).Inc()
		metrics.FinalScore.WithLabelValues(a.Profile).Observe(a.FinalScore)
		metrics.DataCompleteness.Observe(a.Completeness)
		for _, f := range a.Flags {
			metrics.FlagsTotal.WithLabelValues(f.ID).Inc()
		}
		logger.Info("assessment finalized",
			"profile", a.Profile,
			"final_score", a.FinalScore,
			"tier", a.Tier,
			"completeness", a.Completeness,
			"flags", len(a.Flags),
		)
	} else {
		metrics.AssessmentsTotal.WithLabelValues(string(out.State), profileName, "").Inc()
		metrics.AssessmentFailuresTotal.WithLabelValues(string(out.Failure.Reason)).Inc()
		logger.Info("assessment failed",
			"reason", out.Failure.Reason,
			"error", out.Failure.Message,
		)
	}

	if o.store != nil {
		// Persist even when the caller has gone away; the outcome already exists.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := o.store.Save(sctx, out); err != nil {
			logger.Warn("failed to save assessment", "error", err)
		}
		cancel()
	}
	for _, obs := range o.observers {
		obs.Publish(out)
	}
}

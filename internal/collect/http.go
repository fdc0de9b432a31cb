package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbd888/tokenrisk/internal/circuitbreaker"
	"github.com/mbd888/tokenrisk/internal/retry"
	"github.com/mbd888/tokenrisk/internal/signal"
	"github.com/mbd888/tokenrisk/internal/validation"
)

// maxBodyBytes bounds a provider response.
const maxBodyBytes = 1 << 20

// HTTPConfig describes a JSON provider endpoint.
//
// URL may contain the placeholders {chain}, {chain_id} and {token}.
type HTTPConfig struct {
	Name         string
	Kind         signal.ProviderKind
	URL          string
	APIKey       string
	APIKeyHeader string // defaults to X-API-Key
	Retry        retry.Policy
}

// HTTPProvider fetches a payload over HTTP with retries, a circuit breaker
// and an optional read-through cache.
type HTTPProvider struct {
	cfg      HTTPConfig
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	cache    Cache
	cacheTTL time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithBreaker shares a circuit breaker between providers.
func WithBreaker(b *circuitbreaker.Breaker) HTTPOption {
	return func(p *HTTPProvider) { p.breaker = b }
}

// WithCache enables read-through caching of successful payloads.
func WithCache(c Cache, ttl time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithRateLimit caps outgoing requests, retries included, at rps per
// second with the given burst.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(p *HTTPProvider) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewHTTPProvider creates a provider for cfg.
func NewHTTPProvider(cfg HTTPConfig, opts ...HTTPOption) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("provider %s: url is required", cfg.Name)
	}
	if _, err := signal.Decode(cfg.Kind, []byte("{}")); err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	p := &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *HTTPProvider) Name() string              { return p.cfg.Name }
func (p *HTTPProvider) Kind() signal.ProviderKind { return p.cfg.Kind }

// Fetch returns the provider payload for t.
func (p *HTTPProvider) Fetch(ctx context.Context, t Target) (signal.Envelope, error) {
	key := "payload/" + p.cfg.Name + "/" + t.Key()

	if p.cache != nil {
		if body, ok, err := p.cache.Get(ctx, key); err == nil && ok {
			return p.envelope(body), nil
		}
	}

	// Only transport errors, 5xx and 429 count against the breaker. A
	// permanent rejection concerns this token, not the provider's health.
	var (
		body     []byte
		rejected error
	)
	err := p.breaker.Execute(p.cfg.Name, func() error {
		return retry.Do(ctx, p.cfg.Retry, func(ctx context.Context) error {
			b, err := p.get(ctx, t)
			var pe *retry.PermanentError
			switch {
			case errors.As(err, &pe) && ctx.Err() == nil:
				rejected = pe.Err
				return nil
			case err != nil:
				return err
			}
			body = b
			return nil
		})
	})
	switch {
	case err == nil && rejected != nil:
		return signal.Envelope{}, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.cfg.Name, rejected)
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrOpen):
		return signal.Envelope{}, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.cfg.Name, err)
	case ctx.Err() != nil:
		return signal.Envelope{}, fmt.Errorf("%w: %s: %v", ErrProviderTimeout, p.cfg.Name, ctx.Err())
	default:
		return signal.Envelope{}, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.cfg.Name, err)
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, key, body, p.cacheTTL)
	}
	return p.envelope(body), nil
}

func (p *HTTPProvider) envelope(body []byte) signal.Envelope {
	return signal.Envelope{
		Provider:  p.cfg.Kind,
		Source:    p.cfg.Name,
		Status:    signal.StatusOK,
		Body:      body,
		FetchedAt: p.now(),
	}
}

func (p *HTTPProvider) get(ctx context.Context, t Target) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(t), nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set(p.cfg.APIKeyHeader, p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}

	// Reject bodies that do not decode as this provider's payload.
	if _, err := signal.Decode(p.cfg.Kind, body); err != nil {
		return nil, retry.Permanent(err)
	}
	return body, nil
}

func (p *HTTPProvider) url(t Target) string {
	chainID := ""
	if c, ok := validation.LookupChain(t.Chain); ok {
		chainID = strconv.FormatInt(c.ChainID, 10)
	}
	return strings.NewReplacer(
		"{chain}", t.Chain,
		"{chain_id}", chainID,
		"{token}", t.Token,
	).Replace(p.cfg.URL)
}

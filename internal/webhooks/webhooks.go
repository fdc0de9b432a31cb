// Package webhooks notifies external services about risky assessments.
//
// A Dispatcher is an assess.Observer. Finalized outcomes at or above the
// configured tier, and optionally failed outcomes, are queued and POSTed as
// JSON to every target. Bodies are signed with HMAC-SHA256 when a secret is
// configured.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/metrics"
	"github.com/mbd888/tokenrisk/internal/realtime"
	"github.com/mbd888/tokenrisk/internal/retry"
	"github.com/mbd888/tokenrisk/internal/score"
)

// Request headers set on every delivery.
const (
	HeaderEvent     = "X-Tokenrisk-Event"
	HeaderDelivery  = "X-Tokenrisk-Delivery"
	HeaderTimestamp = "X-Tokenrisk-Timestamp"
	HeaderSignature = "X-Tokenrisk-Signature"
)

const defaultQueueSize = 256

// Config selects targets and which outcomes reach them.
type Config struct {
	URLs     []string
	Secret   string
	MinTier  score.Tier
	Failures bool
}

// Dispatcher delivers outcome events to webhook targets.
type Dispatcher struct {
	cfg    Config
	queue  chan *realtime.Event
	client *http.Client
	policy retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRetryPolicy sets how often a delivery is attempted.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithQueueSize bounds the number of pending events.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan *realtime.Event, n)
		}
	}
}

// NewDispatcher validates the targets and returns an idle dispatcher. Call
// Run to start delivering.
func NewDispatcher(cfg Config, opts ...Option) (*Dispatcher, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("webhooks: at least one URL is required")
	}
	for _, raw := range cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("webhooks: %q is not an absolute http(s) URL", raw)
		}
	}
	if cfg.MinTier.Rank() == 0 {
		return nil, fmt.Errorf("webhooks: unknown minimum tier %q", cfg.MinTier)
	}

	d := &Dispatcher{
		cfg:    cfg,
		queue:  make(chan *realtime.Event, defaultQueueSize),
		client: &http.Client{Timeout: 10 * time.Second},
		policy: retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Wants reports whether out should be delivered.
func (d *Dispatcher) Wants(out *assess.Outcome) bool {
	if out.State == assess.StateFailed {
		return d.cfg.Failures
	}
	return out.Assessment != nil && out.Assessment.Tier.Rank() >= d.cfg.MinTier.Rank()
}

// Publish queues out for delivery. It never blocks; when the queue is full
// the event is dropped and counted.
func (d *Dispatcher) Publish(out *assess.Outcome) {
	if !d.Wants(out) {
		return
	}
	select {
	case d.queue <- realtime.EventFrom(out):
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("webhook queue full, dropping event", "id", out.Request.ID)
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			if err := d.Deliver(ctx, e); err != nil && ctx.Err() == nil {
				d.logger.Warn("webhook delivery failed", "id", e.ID, "error", err)
			}
		}
	}
}

// Deliver sends e to every target and returns the joined errors.
func (d *Dispatcher) Deliver(ctx context.Context, e *realtime.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	var errs []error
	for _, target := range d.cfg.URLs {
		err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
			return d.send(ctx, target, e, payload)
		})
		if err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, target string, e *realtime.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(e.Type))
	req.Header.Set(HeaderDelivery, e.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	if d.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, d.cfg.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

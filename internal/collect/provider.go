// Package collect fetches provider payloads for a token and turns them into
// raw signals. It is the only part of the assessment path that does I/O.
//
// A provider that errors, times out or sits behind an open circuit never
// fails collection: its declared signals come back absent with a failed or
// timeout status, so normalization sees the gap and lowers confidence.
package collect

import (
	"context"
	"errors"
	"strings"

	"github.com/mbd888/tokenrisk/internal/signal"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderTimeout     = errors.New("provider timeout")
)

// Target is the token a fetch is about.
type Target struct {
	Chain string
	Token string
}

// Key identifies the target in caches and file paths.
func (t Target) Key() string {
	return t.Chain + "/" + strings.ToLower(t.Token)
}

// Provider fetches one kind of payload for a token.
type Provider interface {
	Name() string
	Kind() signal.ProviderKind
	Fetch(ctx context.Context, t Target) (signal.Envelope, error)
}

// statusFor maps a fetch error to the status of the resulting absent signals.
func statusFor(err error) signal.Status {
	if errors.Is(err, ErrProviderTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return signal.StatusTimeout
	}
	return signal.StatusFailed
}

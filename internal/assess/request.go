package assess

import (
	"strings"
	"time"

	"github.com/mbd888/tokenrisk/internal/idgen"
	"github.com/mbd888/tokenrisk/internal/validation"
)

// Request identifies one token to assess under one profile. It is a value
// type and is never modified after NewRequest returns.
type Request struct {
	ID          string    `json:"id"`
	Token       string    `json:"token" validate:"required,token"`
	Chain       string    `json:"chain" validate:"required,chain"`
	Profile     string    `json:"profile" validate:"max=64"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NewRequest builds a request stamped with a fresh id and the current time,
// truncated to the microsecond precision stores keep.
// Chain and token are canonicalized when they are valid; invalid input is
// kept verbatim so the orchestrator can fail it with a reason.
func NewRequest(token, chain, profile string) Request {
	return NewRequestAt(token, chain, profile, time.Now().UTC().Truncate(time.Microsecond))
}

// NewRequestAt is NewRequest with an explicit timestamp.
func NewRequestAt(token, chain, profile string, at time.Time) Request {
	r := Request{
		ID:          idgen.WithPrefix("asm_"),
		Token:       strings.TrimSpace(token),
		Chain:       strings.TrimSpace(chain),
		Profile:     strings.ToLower(strings.TrimSpace(profile)),
		RequestedAt: at,
	}
	return r.Canonical()
}

// Canonical returns r with the chain alias resolved and the token in its
// canonical form. Invalid identifiers are left as they are.
func (r Request) Canonical() Request {
	if c, t, err := validation.NormalizeTarget(strings.TrimSpace(r.Chain), strings.TrimSpace(r.Token)); err == nil {
		r.Chain, r.Token = c, t
	}
	return r
}

// Validate checks the token and chain identifiers.
func (r Request) Validate() error {
	if errs := validation.Struct(r); len(errs) > 0 {
		return errs
	}
	return nil
}

package assess

import (
	"errors"
	"fmt"
)

// Reason is the code attached to a failed assessment.
type Reason string

const (
	ReasonInvalidRequest    Reason = "invalid_request"
	ReasonUnknownProfile    Reason = "unknown_profile"
	ReasonProfileInvariant  Reason = "profile_invariant_violation"
	ReasonCanceled          Reason = "canceled"
	ReasonInternal          Reason = "internal_error"
	ReasonInvalidTransition Reason = "invalid_transition"
)

// ErrNotFound is returned by stores for unknown assessment ids.
var ErrNotFound = errors.New("assessment not found")

// FailureError describes why a request ended in the failed state.
type FailureError struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *FailureError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *FailureError) Unwrap() error { return e.Err }

func fail(reason Reason, err error) *FailureError {
	return &FailureError{Reason: reason, Message: err.Error(), Err: err}
}

// ReasonOf extracts the failure reason from err, or "" when err is not a
// FailureError.
func ReasonOf(err error) Reason {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

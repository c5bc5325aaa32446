package service

import (
	"errors"
	"fmt"
)

// Authentication outcomes. Every failure is terminal for the request: the
// caller must not proceed to business logic.
var (
	// ErrMissingKey: no secret was presented in either accepted header.
	ErrMissingKey = errors.New("missing api key")

	// ErrInvalidKey: the secret does not resolve to any record. A well-formed
	// but unknown secret produces exactly this error, so the API is not an
	// oracle for enumerating valid secrets.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrDeactivatedKey: the secret resolves to a key that was explicitly
	// turned off. Distinct from ErrInvalidKey so legitimate holders know to
	// request a new key rather than retry.
	ErrDeactivatedKey = errors.New("api key deactivated")

	// ErrQuotaExceeded: the key is valid and active but its daily budget is
	// spent. Matched through QuotaError.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrStoreUnavailable: the durable store could not be reached or timed
	// out. Not the caller's fault and never conflated with an
	// authentication failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidCredentials: admin login failed. Covers unknown email,
	// wrong password, and disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidInput: a management request carried missing or malformed
	// fields (empty owner, unknown plan).
	ErrInvalidInput = errors.New("invalid input")
)

// QuotaError reports a spent daily budget. It carries the numeric limit so
// callers can back off intelligently.
type QuotaError struct {
	Limit int // the key's daily quota
	Used  int // calls counted against today's budget
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily quota exceeded: %d of %d calls used", e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

package flows

import (
	"context"
	"errors"
	"time"

	"github.com/couponali/authcore/internal/stores"
)

// OTPFailureKind classifies OTP flow failures for root-level mapping.
type OTPFailureKind int

const (
	OTPFailureNone OTPFailureKind = iota
	OTPFailureInvalidInput
	OTPFailureGenerate
	OTPFailureStore
	OTPFailureNotFound
	OTPFailureExpired
	OTPFailureAttemptsExceeded
	OTPFailureMismatch
)

type OTPChallengeStore interface {
	Save(ctx context.Context, challenge *stores.OTPChallenge, now time.Time) error
	Verify(ctx context.Context, identifier, purpose, codeHash string, now time.Time) (stores.OTPVerifyResult, error)
}

// OTPDeps captures OTP flow dependencies. Identifiers reaching the flow are
// already normalized.
type OTPDeps struct {
	Store       OTPChallengeStore
	Now         func() time.Time
	NewCode     func(digits int) (string, error)
	HashCode    func(identifier, purpose, code string) string
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// OTPRequestResult carries the raw code for out-of-band delivery.
type OTPRequestResult struct {
	Failure   OTPFailureKind
	Err       error
	Code      string
	ExpiresAt time.Time
}

// RunRequestOTP stores a fresh challenge for (identifier, purpose),
// superseding any previous one.
func RunRequestOTP(ctx context.Context, identifier, purpose string, deps OTPDeps) OTPRequestResult {
	if identifier == "" || purpose == "" {
		return OTPRequestResult{
			Failure: OTPFailureInvalidInput,
			Err:     errors.New("otp identifier and purpose are required"),
		}
	}

	code, err := deps.NewCode(deps.Digits)
	if err != nil {
		return OTPRequestResult{Failure: OTPFailureGenerate, Err: err}
	}

	now := nowOrDefault(deps.Now)
	expiresAt := now.Add(deps.TTL)
	err = deps.Store.Save(ctx, &stores.OTPChallenge{
		Identifier:  identifier,
		Purpose:     purpose,
		CodeHash:    deps.HashCode(identifier, purpose, code),
		Attempts:    0,
		MaxAttempts: deps.MaxAttempts,
		ExpiresAt:   expiresAt,
	}, now)
	if err != nil {
		return OTPRequestResult{Failure: OTPFailureStore, Err: err}
	}

	return OTPRequestResult{
		Failure:   OTPFailureNone,
		Code:      code,
		ExpiresAt: expiresAt,
	}
}

// OTPVerifyResult reports the outcome of one verification attempt.
type OTPVerifyResult struct {
	Failure OTPFailureKind
	Err     error

	// Remaining is meaningful for OTPFailureMismatch.
	Remaining int
}

// RunVerifyOTP checks code against the active challenge. A successful
// verification consumes the challenge.
func RunVerifyOTP(ctx context.Context, identifier, purpose, code string, deps OTPDeps) OTPVerifyResult {
	if identifier == "" || purpose == "" || code == "" {
		return OTPVerifyResult{
			Failure: OTPFailureInvalidInput,
			Err:     errors.New("otp identifier, purpose and code are required"),
		}
	}

	res, err := deps.Store.Verify(ctx, identifier, purpose, deps.HashCode(identifier, purpose, code), nowOrDefault(deps.Now))
	if err == nil {
		return OTPVerifyResult{Failure: OTPFailureNone}
	}

	switch {
	case errors.Is(err, stores.ErrOTPNotFound):
		return OTPVerifyResult{Failure: OTPFailureNotFound, Err: err}
	case errors.Is(err, stores.ErrOTPExpired):
		return OTPVerifyResult{Failure: OTPFailureExpired, Err: err}
	case errors.Is(err, stores.ErrOTPAttemptsExceeded):
		return OTPVerifyResult{Failure: OTPFailureAttemptsExceeded, Err: err}
	case errors.Is(err, stores.ErrOTPMismatch):
		return OTPVerifyResult{Failure: OTPFailureMismatch, Err: err, Remaining: res.Remaining()}
	default:
		return OTPVerifyResult{Failure: OTPFailureStore, Err: err}
	}
}

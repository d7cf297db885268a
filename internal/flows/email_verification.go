package flows

import (
	"context"
	"errors"
	"time"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/stores"
)

// EmailVerificationFailureKind classifies verification failures for
// root-level mapping.
type EmailVerificationFailureKind int

const (
	EmailVerificationFailureNone EmailVerificationFailureKind = iota
	EmailVerificationFailureUnknownUser
	EmailVerificationFailureAlreadyVerified
	EmailVerificationFailureLookup
	EmailVerificationFailureGenerate
	EmailVerificationFailureStore
	EmailVerificationFailureInvalid
	EmailVerificationFailureExpired
	EmailVerificationFailureUpdate
)

// Status sources.
const (
	VerificationSourceCache    = "cache"
	VerificationSourceProvider = "provider"
)

type EmailVerificationStore interface {
	Save(ctx context.Context, verificationID string, record *stores.EmailVerificationRecord, ttl time.Duration) error
	Consume(ctx context.Context, verificationID string, providedHash [32]byte, now time.Time) (*stores.EmailVerificationRecord, error)
	MarkVerified(ctx context.Context, email string, ttl time.Duration) error
	Verified(ctx context.Context, email string) (bool, error)
}

// VerificationUser is the part of a user record the verification flow reads.
type VerificationUser struct {
	UserID   string
	Email    string
	Verified bool
}

// EmailVerificationDeps captures verification flow dependencies.
type EmailVerificationDeps struct {
	Store        EmailVerificationStore
	Now          func() time.Time
	TTL          time.Duration
	StatusTTL    time.Duration
	LookupUser   func(ctx context.Context, email string) (VerificationUser, error)
	UserNotFound error
	MarkVerified func(ctx context.Context, userID string) error
}

// EmailVerificationResult carries the raw link token on request and the
// verified user on confirmation. MarkerErr reports a failed status marker
// write, which does not fail the confirmation.
type EmailVerificationResult struct {
	Failure   EmailVerificationFailureKind
	Err       error
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
	MarkerErr error
}

// RunRequestEmailVerification stores a single-use verification record for
// the account registered under email.
func RunRequestEmailVerification(ctx context.Context, email string, deps EmailVerificationDeps) EmailVerificationResult {
	user, err := deps.LookupUser(ctx, email)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return EmailVerificationResult{Failure: EmailVerificationFailureUnknownUser, Err: err}
		}
		return EmailVerificationResult{Failure: EmailVerificationFailureLookup, Err: err}
	}
	if user.Verified {
		return EmailVerificationResult{Failure: EmailVerificationFailureAlreadyVerified, UserID: user.UserID}
	}

	id, err := internal.NewResetID()
	if err != nil {
		return EmailVerificationResult{Failure: EmailVerificationFailureGenerate, Err: err, UserID: user.UserID}
	}
	secret, err := internal.NewResetSecret()
	if err != nil {
		return EmailVerificationResult{Failure: EmailVerificationFailureGenerate, Err: err, UserID: user.UserID}
	}

	expiresAt := nowOrDefault(deps.Now).Add(deps.TTL)
	err = deps.Store.Save(ctx, id.String(), &stores.EmailVerificationRecord{
		UserID:     user.UserID,
		Email:      email,
		SecretHash: internal.HashResetSecret(secret),
		ExpiresAt:  expiresAt.Unix(),
	}, deps.TTL)
	if err != nil {
		return EmailVerificationResult{Failure: EmailVerificationFailureStore, Err: err, UserID: user.UserID}
	}

	return EmailVerificationResult{
		Failure:   EmailVerificationFailureNone,
		UserID:    user.UserID,
		Email:     email,
		Token:     internal.EncodeResetToken(id, secret),
		ExpiresAt: expiresAt,
	}
}

// RunConfirmEmailVerification consumes token, marks the owner verified and
// writes the short-lived status marker for the address.
func RunConfirmEmailVerification(ctx context.Context, token string, deps EmailVerificationDeps) EmailVerificationResult {
	id, secret, err := internal.DecodeResetToken(token)
	if err != nil {
		return EmailVerificationResult{Failure: EmailVerificationFailureInvalid, Err: err}
	}

	record, err := deps.Store.Consume(ctx, id, internal.HashResetSecret(secret), nowOrDefault(deps.Now))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrVerificationExpired):
			return EmailVerificationResult{Failure: EmailVerificationFailureExpired, Err: err}
		case errors.Is(err, stores.ErrVerificationNotFound),
			errors.Is(err, stores.ErrVerificationSecretMismatch),
			errors.Is(err, stores.ErrVerificationUsed):
			return EmailVerificationResult{Failure: EmailVerificationFailureInvalid, Err: err}
		default:
			return EmailVerificationResult{Failure: EmailVerificationFailureStore, Err: err}
		}
	}

	if err := deps.MarkVerified(ctx, record.UserID); err != nil {
		return EmailVerificationResult{Failure: EmailVerificationFailureUpdate, Err: err, UserID: record.UserID, Email: record.Email}
	}

	return EmailVerificationResult{
		Failure:   EmailVerificationFailureNone,
		UserID:    record.UserID,
		Email:     record.Email,
		MarkerErr: deps.Store.MarkVerified(ctx, record.Email, deps.StatusTTL),
	}
}

// EmailVerificationStatusResult answers whether an address is verified.
// Exists is only meaningful when Source is VerificationSourceProvider.
// CacheErr reports a marker read that failed and was skipped.
type EmailVerificationStatusResult struct {
	Failure  EmailVerificationFailureKind
	Err      error
	Verified bool
	Exists   bool
	Source   string
	CacheErr error
}

// RunEmailVerificationStatus answers from the status marker when present
// and from the user store otherwise.
func RunEmailVerificationStatus(ctx context.Context, email string, deps EmailVerificationDeps) EmailVerificationStatusResult {
	ok, cacheErr := deps.Store.Verified(ctx, email)
	if cacheErr == nil && ok {
		return EmailVerificationStatusResult{Verified: true, Exists: true, Source: VerificationSourceCache}
	}

	user, err := deps.LookupUser(ctx, email)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return EmailVerificationStatusResult{Source: VerificationSourceProvider, CacheErr: cacheErr}
		}
		return EmailVerificationStatusResult{Failure: EmailVerificationFailureLookup, Err: err, CacheErr: cacheErr}
	}
	return EmailVerificationStatusResult{
		Verified: user.Verified,
		Exists:   true,
		Source:   VerificationSourceProvider,
		CacheErr: cacheErr,
	}
}

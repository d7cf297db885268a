package flows

import (
	"context"
	"errors"
	"time"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/stores"
)

// PasswordResetFailureKind classifies reset failures for root-level mapping.
type PasswordResetFailureKind int

const (
	PasswordResetFailureNone PasswordResetFailureKind = iota
	PasswordResetFailureUnknownUser
	PasswordResetFailureLookup
	PasswordResetFailureGenerate
	PasswordResetFailureStore
	PasswordResetFailureInvalid
	PasswordResetFailureExpired
	PasswordResetFailurePolicy
	PasswordResetFailureUpdate
	PasswordResetFailureRevoke
)

type PasswordResetStore interface {
	Save(ctx context.Context, resetID string, record *stores.PasswordResetRecord, ttl time.Duration) error
	Consume(ctx context.Context, resetID string, providedHash [32]byte, now time.Time) (*stores.PasswordResetRecord, error)
}

// PasswordResetDeps captures reset flow dependencies.
type PasswordResetDeps struct {
	Store              PasswordResetStore
	Now                func() time.Time
	TTL                time.Duration
	LookupUser         func(ctx context.Context, identifier string) (string, error)
	UserNotFound       error
	CheckPassword      func(string) error
	HashPassword       func(string) (string, error)
	UpdatePasswordHash func(ctx context.Context, userID, hash string) error
	RevokeAll          func(ctx context.Context, userID string) (int, error)
}

// PasswordResetResult carries the raw token on request and the affected
// user on confirmation.
type PasswordResetResult struct {
	Failure   PasswordResetFailureKind
	Err       error
	UserID    string
	Token     string
	ExpiresAt time.Time
	Revoked   int
}

// RunRequestPasswordReset stores a single-use reset record for the user
// behind identifier. Unknown identifiers report
// PasswordResetFailureUnknownUser so callers can answer identically.
func RunRequestPasswordReset(ctx context.Context, identifier string, deps PasswordResetDeps) PasswordResetResult {
	userID, err := deps.LookupUser(ctx, identifier)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return PasswordResetResult{Failure: PasswordResetFailureUnknownUser, Err: err}
		}
		return PasswordResetResult{Failure: PasswordResetFailureLookup, Err: err}
	}

	rid, err := internal.NewResetID()
	if err != nil {
		return PasswordResetResult{Failure: PasswordResetFailureGenerate, Err: err, UserID: userID}
	}
	secret, err := internal.NewResetSecret()
	if err != nil {
		return PasswordResetResult{Failure: PasswordResetFailureGenerate, Err: err, UserID: userID}
	}

	expiresAt := nowOrDefault(deps.Now).Add(deps.TTL)
	err = deps.Store.Save(ctx, rid.String(), &stores.PasswordResetRecord{
		UserID:     userID,
		SecretHash: internal.HashResetSecret(secret),
		ExpiresAt:  expiresAt.Unix(),
	}, deps.TTL)
	if err != nil {
		return PasswordResetResult{Failure: PasswordResetFailureStore, Err: err, UserID: userID}
	}

	return PasswordResetResult{
		Failure:   PasswordResetFailureNone,
		UserID:    userID,
		Token:     internal.EncodeResetToken(rid, secret),
		ExpiresAt: expiresAt,
	}
}

// RunConfirmPasswordReset consumes token and replaces the password. The
// new password is checked before the token is consumed so a rejected
// password does not burn the token. Every refresh token of the user is
// revoked afterwards.
func RunConfirmPasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) PasswordResetResult {
	resetID, secret, err := internal.DecodeResetToken(token)
	if err != nil {
		return PasswordResetResult{Failure: PasswordResetFailureInvalid, Err: err}
	}
	if err := deps.CheckPassword(newPassword); err != nil {
		return PasswordResetResult{Failure: PasswordResetFailurePolicy, Err: err}
	}
	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return PasswordResetResult{Failure: PasswordResetFailurePolicy, Err: err}
	}

	record, err := deps.Store.Consume(ctx, resetID, internal.HashResetSecret(secret), nowOrDefault(deps.Now))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrResetExpired):
			return PasswordResetResult{Failure: PasswordResetFailureExpired, Err: err}
		case errors.Is(err, stores.ErrResetNotFound),
			errors.Is(err, stores.ErrResetSecretMismatch),
			errors.Is(err, stores.ErrResetUsed):
			return PasswordResetResult{Failure: PasswordResetFailureInvalid, Err: err}
		default:
			return PasswordResetResult{Failure: PasswordResetFailureStore, Err: err}
		}
	}

	if err := deps.UpdatePasswordHash(ctx, record.UserID, hash); err != nil {
		return PasswordResetResult{Failure: PasswordResetFailureUpdate, Err: err, UserID: record.UserID}
	}

	revoked, err := deps.RevokeAll(ctx, record.UserID)
	if err != nil {
		return PasswordResetResult{Failure: PasswordResetFailureRevoke, Err: err, UserID: record.UserID}
	}

	return PasswordResetResult{
		Failure: PasswordResetFailureNone,
		UserID:  record.UserID,
		Revoked: revoked,
	}
}

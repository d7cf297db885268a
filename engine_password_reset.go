package authcore

import (
	"context"
	"fmt"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/flows"
	"github.com/couponali/authcore/password"
	"github.com/couponali/authcore/refresh"
)

// RequestPasswordReset creates a single-use reset token for the account
// behind identifier. For unknown identifiers it returns an empty challenge
// and a nil error, so callers answer both cases the same way.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (PasswordResetChallenge, error) {
	if e == nil {
		return PasswordResetChallenge{}, ErrEngineNotReady
	}
	if e.resetStore == nil {
		return PasswordResetChallenge{}, fmt.Errorf("%w: password reset disabled", ErrPasswordResetUnavailable)
	}

	identifier = internal.NormalizeIdentifier(identifier)
	if identifier == "" {
		return PasswordResetChallenge{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if err := e.enforceRateLimit(ctx, scopePasswordReset+identifier, e.config.RateLimit.PasswordReset); err != nil {
		return PasswordResetChallenge{}, err
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunRequestPasswordReset(opCtx, identifier, e.passwordResetDeps())
	e.metricInc(MetricPasswordResetRequest)

	var err error
	switch res.Failure {
	case flows.PasswordResetFailureNone:
	case flows.PasswordResetFailureUnknownUser:
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, auditSubject{Identifier: identifier}, ErrUserNotFound, nil)
		return PasswordResetChallenge{}, nil
	case flows.PasswordResetFailureLookup:
		err = fmt.Errorf("%w: %v", ErrUserProviderUnavailable, res.Err)
	default:
		err = fmt.Errorf("%w: %v", ErrPasswordResetUnavailable, res.Err)
	}
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, auditSubject{Identifier: identifier}, err, nil)
		return PasswordResetChallenge{}, err
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, auditSubject{UserID: res.UserID}, nil, nil)

	if e.notifier != nil {
		if err := e.notifier.SendPasswordReset(ctx, identifier, res.Token, res.ExpiresAt); err != nil {
			e.warn("authcore: password reset delivery failed", "user_id", res.UserID, "err", err)
		}
	}

	return PasswordResetChallenge{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	}, nil
}

// ConfirmPasswordReset consumes token, stores the new password hash and
// revokes every refresh token of the user with reason manual. A token works
// at most once.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.resetStore == nil {
		return fmt.Errorf("%w: password reset disabled", ErrPasswordResetUnavailable)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunConfirmPasswordReset(opCtx, token, newPassword, e.passwordResetDeps())

	var err error
	switch res.Failure {
	case flows.PasswordResetFailureNone:
		e.metricInc(MetricPasswordResetConfirmSuccess)
		e.metrics.Add(MetricFamilyRevoked, uint64(res.Revoked))
		e.emitAudit(ctx, auditEventPasswordResetConfirm, true, auditSubject{UserID: res.UserID}, nil, func() map[string]string {
			return map[string]string{"revoked": itoa(res.Revoked)}
		})
		return nil
	case flows.PasswordResetFailureInvalid:
		err = ErrPasswordResetInvalid
	case flows.PasswordResetFailureExpired:
		err = ErrPasswordResetExpired
	case flows.PasswordResetFailurePolicy:
		err = fmt.Errorf("%w: %v", ErrPasswordPolicy, res.Err)
	case flows.PasswordResetFailureUpdate:
		err = fmt.Errorf("%w: %v", ErrUserProviderUnavailable, res.Err)
	case flows.PasswordResetFailureRevoke:
		err = fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, res.Err)
	default:
		err = fmt.Errorf("%w: %v", ErrPasswordResetUnavailable, res.Err)
	}

	e.metricInc(MetricPasswordResetConfirmFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, auditSubject{UserID: res.UserID}, err, nil)
	return err
}

func (e *Engine) passwordResetDeps() flows.PasswordResetDeps {
	return flows.PasswordResetDeps{
		Store: e.resetStore,
		Now:   e.now,
		TTL:   e.config.PasswordReset.TTL,
		LookupUser: func(ctx context.Context, identifier string) (string, error) {
			user, err := e.users.GetUserByIdentifier(ctx, identifier)
			if err != nil {
				return "", err
			}
			return user.UserID, nil
		},
		UserNotFound:       ErrUserNotFound,
		CheckPassword:      password.CheckStrength,
		HashPassword:       e.hasher.Hash,
		UpdatePasswordHash: e.users.UpdatePasswordHash,
		RevokeAll: func(ctx context.Context, userID string) (int, error) {
			return e.tokens.RevokeOwner(ctx, userID, refresh.ReasonManual, e.now())
		},
	}
}

package authcore

import (
	"context"
	"fmt"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/flows"
)

// RequestEmailVerification creates a single-use verification token for the
// account registered under email and hands it to the Notifier. Unknown and
// already verified addresses get an empty challenge and a nil error, so
// callers answer every case the same way. Resends are throttled by the
// RateLimit.EmailVerification policy.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (EmailVerificationChallenge, error) {
	if e == nil {
		return EmailVerificationChallenge{}, ErrEngineNotReady
	}
	if e.verifyStore == nil {
		return EmailVerificationChallenge{}, fmt.Errorf("%w: email verification disabled", ErrEmailVerifyUnavailable)
	}

	email = internal.NormalizeIdentifier(email)
	if !internal.LooksLikeEmail(email) {
		return EmailVerificationChallenge{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if err := e.enforceRateLimit(ctx, scopeVerifyEmail+email, e.config.RateLimit.EmailVerification); err != nil {
		return EmailVerificationChallenge{}, err
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunRequestEmailVerification(opCtx, email, e.emailVerificationDeps())
	e.metricInc(MetricEmailVerificationRequest)

	var err error
	switch res.Failure {
	case flows.EmailVerificationFailureNone:
	case flows.EmailVerificationFailureUnknownUser:
		e.emitAudit(ctx, auditEventEmailVerifyRequest, false, auditSubject{Identifier: email}, ErrUserNotFound, nil)
		return EmailVerificationChallenge{}, nil
	case flows.EmailVerificationFailureAlreadyVerified:
		e.emitAudit(ctx, auditEventEmailVerifyRequest, true, auditSubject{UserID: res.UserID}, nil, func() map[string]string {
			return map[string]string{"noop": "already_verified"}
		})
		return EmailVerificationChallenge{}, nil
	case flows.EmailVerificationFailureLookup:
		err = fmt.Errorf("%w: %v", ErrUserProviderUnavailable, res.Err)
	default:
		err = fmt.Errorf("%w: %v", ErrEmailVerifyUnavailable, res.Err)
	}
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerifyRequest, false, auditSubject{Identifier: email}, err, nil)
		return EmailVerificationChallenge{}, err
	}

	e.emitAudit(ctx, auditEventEmailVerifyRequest, true, auditSubject{UserID: res.UserID}, nil, nil)

	if e.notifier != nil {
		if err := e.notifier.SendEmailVerification(ctx, email, res.Token, res.ExpiresAt); err != nil {
			e.warn("authcore: email verification delivery failed", "user_id", res.UserID, "err", err)
		}
	}

	return EmailVerificationChallenge{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	}, nil
}

// ConfirmEmailVerification consumes token and marks its owner verified
// through the UserProvider. A token works at most once.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.verifyStore == nil {
		return fmt.Errorf("%w: email verification disabled", ErrEmailVerifyUnavailable)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunConfirmEmailVerification(opCtx, token, e.emailVerificationDeps())

	var err error
	switch res.Failure {
	case flows.EmailVerificationFailureNone:
		if res.MarkerErr != nil {
			e.warn("authcore: verified marker write failed", "user_id", res.UserID, "err", res.MarkerErr)
		}
		e.metricInc(MetricEmailVerificationSuccess)
		e.emitAudit(ctx, auditEventEmailVerifyConfirm, true, auditSubject{UserID: res.UserID}, nil, nil)
		return nil
	case flows.EmailVerificationFailureInvalid:
		err = ErrEmailVerificationInvalid
	case flows.EmailVerificationFailureExpired:
		err = ErrEmailVerificationExpired
	case flows.EmailVerificationFailureUpdate:
		err = fmt.Errorf("%w: %v", ErrUserProviderUnavailable, res.Err)
	default:
		err = fmt.Errorf("%w: %v", ErrEmailVerifyUnavailable, res.Err)
	}

	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, auditEventEmailVerifyConfirm, false, auditSubject{UserID: res.UserID}, err, nil)
	return err
}

// VerificationStatus reports whether email is verified. A confirmation in
// the last EmailVerify.StatusTTL is answered from Redis; otherwise the
// UserProvider decides. An unreachable marker store falls back to the
// UserProvider.
func (e *Engine) VerificationStatus(ctx context.Context, email string) (EmailVerificationStatus, error) {
	if e == nil {
		return EmailVerificationStatus{}, ErrEngineNotReady
	}
	if e.verifyStore == nil {
		return EmailVerificationStatus{}, fmt.Errorf("%w: email verification disabled", ErrEmailVerifyUnavailable)
	}

	email = internal.NormalizeIdentifier(email)
	if !internal.LooksLikeEmail(email) {
		return EmailVerificationStatus{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunEmailVerificationStatus(opCtx, email, e.emailVerificationDeps())
	if res.CacheErr != nil {
		e.warn("authcore: verified marker read failed", "err", res.CacheErr)
	}
	if res.Failure != flows.EmailVerificationFailureNone {
		return EmailVerificationStatus{}, fmt.Errorf("%w: %v", ErrUserProviderUnavailable, res.Err)
	}

	return EmailVerificationStatus{
		Email:    email,
		Verified: res.Verified,
		Exists:   res.Exists,
		Source:   res.Source,
	}, nil
}

func (e *Engine) emailVerificationDeps() flows.EmailVerificationDeps {
	return flows.EmailVerificationDeps{
		Store:     e.verifyStore,
		Now:       e.now,
		TTL:       e.config.EmailVerify.TTL,
		StatusTTL: e.config.EmailVerify.StatusTTL,
		LookupUser: func(ctx context.Context, email string) (flows.VerificationUser, error) {
			user, err := e.users.GetUserByIdentifier(ctx, email)
			if err != nil {
				return flows.VerificationUser{}, err
			}
			return flows.VerificationUser{
				UserID:   user.UserID,
				Email:    user.Email,
				Verified: user.Verified,
			}, nil
		},
		UserNotFound: ErrUserNotFound,
		MarkVerified: e.users.MarkVerified,
	}
}

package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/flows"
	"github.com/couponali/authcore/internal/stores"
)

// RequestOTP issues a code for (identifier, purpose), replacing any earlier
// challenge for the pair. The raw code is returned for out-of-band delivery
// and, when a Notifier is configured, handed to it best-effort.
func (e *Engine) RequestOTP(ctx context.Context, identifier, purpose string) (OTPChallenge, error) {
	if e == nil || e.otpStore == nil {
		return OTPChallenge{}, ErrEngineNotReady
	}

	identifier = internal.NormalizeIdentifier(identifier)
	if identifier == "" || purpose == "" {
		return OTPChallenge{}, fmt.Errorf("%w: identifier and purpose are required", ErrInvalidInput)
	}
	if err := e.enforceRateLimit(ctx, scopeOTP+identifier, e.config.RateLimit.OTP); err != nil {
		return OTPChallenge{}, err
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunRequestOTP(opCtx, identifier, purpose, e.otpDeps())
	subject := auditSubject{Identifier: identifier}
	if res.Failure != flows.OTPFailureNone {
		var err error
		switch res.Failure {
		case flows.OTPFailureInvalidInput:
			err = fmt.Errorf("%w: %v", ErrInvalidInput, res.Err)
		default:
			// Generate and Store both mean no challenge was written.
			err = fmt.Errorf("%w: %v", ErrOTPUnavailable, res.Err)
		}
		e.emitAudit(ctx, auditEventOTPRequested, false, subject, err, nil)
		return OTPChallenge{}, err
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, subject, nil, func() map[string]string {
		return map[string]string{"purpose": purpose}
	})

	if e.notifier != nil {
		if err := e.notifier.SendOTP(ctx, identifier, purpose, res.Code, res.ExpiresAt); err != nil {
			e.warn("authcore: otp delivery failed", "purpose", purpose, "err", err)
		}
	}

	return OTPChallenge{
		Identifier: identifier,
		Purpose:    purpose,
		Code:       res.Code,
		ExpiresAt:  res.ExpiresAt,
	}, nil
}

// VerifyOTP checks code against the active challenge and consumes it on
// success. A wrong code returns *OTPMismatchError with the attempts left;
// once the cap is reached even the right code fails with
// ErrOTPAttemptsExceeded.
func (e *Engine) VerifyOTP(ctx context.Context, identifier, purpose, code string) error {
	if e == nil || e.otpStore == nil {
		return ErrEngineNotReady
	}

	identifier = internal.NormalizeIdentifier(identifier)

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunVerifyOTP(opCtx, identifier, purpose, code, e.otpDeps())
	subject := auditSubject{Identifier: identifier}

	var err error
	switch res.Failure {
	case flows.OTPFailureNone:
		e.metricInc(MetricOTPVerified)
		e.emitAudit(ctx, auditEventOTPVerified, true, subject, nil, func() map[string]string {
			return map[string]string{"purpose": purpose}
		})
		return nil
	case flows.OTPFailureInvalidInput:
		err = fmt.Errorf("%w: %v", ErrInvalidInput, res.Err)
	case flows.OTPFailureNotFound:
		err = ErrOTPNotFound
	case flows.OTPFailureExpired:
		err = ErrOTPExpired
	case flows.OTPFailureAttemptsExceeded:
		e.metricInc(MetricOTPAttemptsExceeded)
		err = ErrOTPAttemptsExceeded
	case flows.OTPFailureMismatch:
		err = &OTPMismatchError{Remaining: res.Remaining}
	default:
		err = fmt.Errorf("%w: %v", ErrOTPUnavailable, res.Err)
	}

	e.metricInc(MetricOTPFailure)
	e.emitAudit(ctx, auditEventOTPFailure, false, subject, err, func() map[string]string {
		return map[string]string{"purpose": purpose}
	})
	return err
}

// LoginWithOTP verifies a login-purpose code and signs the matching user in
// with a new token family.
func (e *Engine) LoginWithOTP(ctx context.Context, identifier, code string, device DeviceInfo) (TokenPair, error) {
	if err := e.VerifyOTP(ctx, identifier, OTPPurposeLogin, code); err != nil {
		return TokenPair{}, err
	}

	identifier = internal.NormalizeIdentifier(identifier)
	user, err := e.lookupUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			err = ErrInvalidCredentials
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditSubject{Identifier: identifier}, err, nil)
		return TokenPair{}, err
	}
	if !user.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditSubject{UserID: user.UserID}, ErrUserInactive, nil)
		return TokenPair{}, ErrUserInactive
	}

	return e.signIn(ctx, user, device, "otp")
}

// OTPStatus reports the attempt budget of the current challenge for
// (identifier, purpose) without touching it. Consumed and expired
// challenges are reported while their key is retained; after that the
// result is ErrOTPNotFound.
func (e *Engine) OTPStatus(ctx context.Context, identifier, purpose string) (OTPStatus, error) {
	if e == nil || e.otpStore == nil {
		return OTPStatus{}, ErrEngineNotReady
	}

	identifier = internal.NormalizeIdentifier(identifier)
	if identifier == "" || purpose == "" {
		return OTPStatus{}, fmt.Errorf("%w: identifier and purpose are required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	ch, err := e.otpStore.Get(opCtx, identifier, purpose)
	if err != nil {
		if errors.Is(err, stores.ErrOTPNotFound) {
			return OTPStatus{}, ErrOTPNotFound
		}
		return OTPStatus{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	remaining := ch.MaxAttempts - ch.Attempts
	if remaining < 0 || ch.Verified {
		remaining = 0
	}
	return OTPStatus{
		Identifier:        identifier,
		Purpose:           purpose,
		AttemptsRemaining: remaining,
		ExpiresAt:         ch.ExpiresAt,
		Expired:           !e.now().Before(ch.ExpiresAt),
		Consumed:          ch.Verified,
	}, nil
}

func (e *Engine) otpDeps() flows.OTPDeps {
	return flows.OTPDeps{
		Store:       e.otpStore,
		Now:         e.now,
		NewCode:     e.newOTP,
		HashCode:    internal.HashOTP,
		Digits:      e.config.OTP.Digits,
		TTL:         e.config.OTP.TTL,
		MaxAttempts: e.config.OTP.MaxAttempts,
	}
}

package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned for refresh tokens that were never issued
	// and for access tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenReused is returned when a revoked refresh token is presented.
	// Unless the reuse grace window applies, its whole family is revoked.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrTokenExpired is returned for expired refresh or access tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for access tokens on the denylist.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrUserInactive is returned when the token owner can no longer sign in.
	ErrUserInactive = errors.New("user inactive")
	// ErrRotationIncomplete means the presented refresh token was consumed but
	// its successor could not be stored. The client must sign in again.
	ErrRotationIncomplete = errors.New("refresh rotation incomplete, re-login required")

	ErrOTPNotFound         = errors.New("otp challenge not found")
	ErrOTPExpired          = errors.New("otp challenge expired")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPMismatch         = errors.New("otp code mismatch")

	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountExists        = errors.New("account already exists")
	ErrPasswordPolicy       = errors.New("password policy violation")
	ErrPasswordResetInvalid = errors.New("password reset token invalid")
	ErrPasswordResetExpired = errors.New("password reset token expired")

	ErrEmailVerificationInvalid = errors.New("email verification token invalid")
	ErrEmailVerificationExpired = errors.New("email verification token expired")
	ErrInvalidInput         = errors.New("invalid input")

	ErrTokenStoreUnavailable    = errors.New("refresh token store unavailable")
	ErrRateLimitUnavailable     = errors.New("rate limit backend unavailable")
	ErrOTPUnavailable           = errors.New("otp backend unavailable")
	ErrSessionCacheUnavailable  = errors.New("session cache unavailable")
	ErrPasswordResetUnavailable = errors.New("password reset backend unavailable")
	ErrEmailVerifyUnavailable   = errors.New("email verification backend unavailable")
	ErrUserProviderUnavailable  = errors.New("user provider unavailable")

	ErrEngineNotReady = errors.New("engine not initialized")
)

// OTPMismatchError reports a wrong OTP code and how many verify attempts are
// left on the challenge.
type OTPMismatchError struct {
	Remaining int
}

func (e *OTPMismatchError) Error() string {
	return fmt.Sprintf("otp code mismatch, %d attempts remaining", e.Remaining)
}

// Is makes errors.Is(err, ErrOTPMismatch) hold.
func (e *OTPMismatchError) Is(target error) bool {
	return target == ErrOTPMismatch
}

// RateLimitedError is returned when a scope exceeded its window budget.
type RateLimitedError struct {
	Scope   string
	ResetIn time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry in %ds", e.Scope, ceilSeconds(e.ResetIn))
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds is ResetIn rounded up to whole seconds.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return ceilSeconds(e.ResetIn)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

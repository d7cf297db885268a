package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/rate"
)

// Scope key prefixes of the named policies.
const (
	scopeLogin         = "login:"
	scopeOTP           = "otp:"
	scopeRefresh       = "refresh:"
	scopeRegister      = "register:"
	scopePasswordReset = "pwdreset:"
	scopeVerifyEmail   = "verify_email:"
)

// refreshScopeHashLen is how much of the token hash keys the refresh
// policy; the raw token never reaches the counter store.
const refreshScopeHashLen = 16

// CheckRateLimit counts one hit against scopeKey and reports whether it is
// within max hits per window. The hit is counted even when denied, so a
// denied caller stays denied until the window expires.
//
// An unreachable counter store yields ErrRateLimitUnavailable unless
// RateLimit.FailOpen is set, in which case the hit is allowed and a warning
// is logged.
func (e *Engine) CheckRateLimit(ctx context.Context, scopeKey string, max int, window time.Duration) (RateDecision, error) {
	if e == nil || e.limiter == nil {
		return RateDecision{}, ErrEngineNotReady
	}
	if scopeKey == "" {
		return RateDecision{}, fmt.Errorf("%w: empty rate limit scope", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	d, err := e.limiter.Check(opCtx, scopeKey, max, window)
	if err != nil {
		if errors.Is(err, rate.ErrInvalidPolicy) {
			return RateDecision{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		e.metricInc(MetricRateLimitUnavailable)
		if e.config.RateLimit.FailOpen {
			e.warn("authcore: rate limiter unavailable, failing open", "scope", scopeName(scopeKey), "err", err)
			return RateDecision{Allowed: true, Remaining: max}, nil
		}
		return RateDecision{}, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}

	return RateDecision{
		Allowed:   d.Allowed,
		Count:     d.Count,
		Remaining: d.Remaining,
		ResetIn:   d.ResetIn,
	}, nil
}

// enforceRateLimit applies a named policy. It is a no-op when rate limiting
// is disabled.
func (e *Engine) enforceRateLimit(ctx context.Context, scopeKey string, policy RatePolicy) error {
	if !e.config.RateLimit.Enabled {
		return nil
	}

	d, err := e.CheckRateLimit(ctx, scopeKey, policy.Max, policy.Window)
	if err != nil {
		e.emitAudit(ctx, auditEventRateLimitBackendFailure, false, auditSubject{}, err, func() map[string]string {
			return map[string]string{"scope": scopeName(scopeKey)}
		})
		return err
	}
	if !d.Allowed {
		e.emitRateLimit(ctx, scopeKey, d.ResetIn)
		return &RateLimitedError{Scope: scopeName(scopeKey), ResetIn: d.ResetIn}
	}
	return nil
}

// RateLimitStatus reports how much of a named policy's window subject has
// used, without counting a hit. policy is one of "login", "otp", "refresh",
// "register", "pwdreset" or "verify_email". subject is the identifier the
// policy is keyed by; for "refresh" it is the raw refresh token.
func (e *Engine) RateLimitStatus(ctx context.Context, policy, subject string) (RateDecision, error) {
	if e == nil || e.limiter == nil {
		return RateDecision{}, ErrEngineNotReady
	}

	scopeKey, rp, ok := e.namedScope(policy, subject)
	if !ok {
		return RateDecision{}, fmt.Errorf("%w: unknown rate limit policy %q", ErrInvalidInput, policy)
	}
	if subject == "" {
		return RateDecision{}, fmt.Errorf("%w: rate limit subject is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	d, err := e.limiter.Peek(opCtx, scopeKey, rp.Max)
	if err != nil {
		if errors.Is(err, rate.ErrInvalidPolicy) {
			return RateDecision{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return RateDecision{}, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}
	return RateDecision{
		Allowed:   d.Allowed,
		Count:     d.Count,
		Remaining: d.Remaining,
		ResetIn:   d.ResetIn,
	}, nil
}

func (e *Engine) namedScope(policy, subject string) (string, RatePolicy, bool) {
	rl := e.config.RateLimit
	switch policy {
	case "login":
		return scopeLogin + internal.NormalizeIdentifier(subject), rl.Login, true
	case "otp":
		return scopeOTP + internal.NormalizeIdentifier(subject), rl.OTP, true
	case "refresh":
		return refreshScope(internal.HashToken(subject)), rl.Refresh, true
	case "register":
		return scopeRegister + internal.NormalizeIdentifier(subject), rl.Register, true
	case "pwdreset":
		return scopePasswordReset + internal.NormalizeIdentifier(subject), rl.PasswordReset, true
	case "verify_email":
		return scopeVerifyEmail + internal.NormalizeIdentifier(subject), rl.EmailVerification, true
	default:
		return "", RatePolicy{}, false
	}
}

func refreshScope(tokenHash string) string {
	if len(tokenHash) > refreshScopeHashLen {
		tokenHash = tokenHash[:refreshScopeHashLen]
	}
	return scopeRefresh + tokenHash
}

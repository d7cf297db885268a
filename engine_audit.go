package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/couponali/authcore/internal/audit"
)

const (
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventRegisterSuccess         = "register_success"
	auditEventRegisterFailure         = "register_failure"
	auditEventRefreshIssued           = "refresh_issued"
	auditEventRefreshRotated          = "refresh_rotated"
	auditEventRefreshFailure          = "refresh_failure"
	auditEventRefreshReuseDetected    = "refresh_reuse_detected"
	auditEventRotationIncomplete      = "refresh_rotation_incomplete"
	auditEventFamilyRevoked           = "family_revoked"
	auditEventOTPRequested            = "otp_requested"
	auditEventOTPVerified             = "otp_verified"
	auditEventOTPFailure              = "otp_failure"
	auditEventLogout                  = "logout"
	auditEventPasswordResetRequest    = "password_reset_request"
	auditEventPasswordResetConfirm    = "password_reset_confirm"
	auditEventEmailVerifyRequest      = "email_verification_request"
	auditEventEmailVerifyConfirm      = "email_verification_confirm"
	auditEventRateLimitTriggered      = "rate_limit_triggered"
	auditEventRateLimitBackendFailure = "rate_limit_backend_failure"
)

// AuditErrorCode is the stable, low-cardinality error label put on audit
// events instead of raw error text.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrUserInactive       AuditErrorCode = "user_inactive"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrRotationIncomplete AuditErrorCode = "rotation_incomplete"
	auditErrOTPNotFound        AuditErrorCode = "otp_not_found"
	auditErrOTPExpired         AuditErrorCode = "otp_expired"
	auditErrOTPMismatch        AuditErrorCode = "otp_mismatch"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrResetInvalid       AuditErrorCode = "reset_invalid"
	auditErrResetExpired       AuditErrorCode = "reset_expired"
	auditErrVerifyInvalid      AuditErrorCode = "verification_invalid"
	auditErrVerifyExpired      AuditErrorCode = "verification_expired"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// auditSubject names who or what an event is about. Identifier is masked
// before it leaves the engine.
type auditSubject struct {
	UserID     string
	FamilyID   string
	Identifier string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		UserID:     subject.UserID,
		FamilyID:   subject.FamilyID,
		Identifier: maskIdentifier(subject.Identifier),
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, resetIn time.Duration) {
	e.metricInc(MetricRateLimitHit)
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, audit.Event{
		Timestamp: e.now().UTC(),
		EventType: auditEventRateLimitTriggered,
		Scope:     scopeName(scope),
		IP:        clientIPFromContext(ctx),
		Success:   false,
		Error:     string(auditErrRateLimited),
		Metadata: map[string]string{
			"reset_in_seconds": itoa(ceilSeconds(resetIn)),
		},
	})
}

// scopeName keeps the policy part of a scope key ("login:a@b.c" -> "login")
// so raw identifiers do not reach audit sinks.
func scopeName(scope string) string {
	if i := strings.IndexByte(scope, ':'); i >= 0 {
		return scope[:i]
	}
	return scope
}

// maskIdentifier keeps enough of an email or phone number to correlate
// events without recording it in full.
func maskIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}
	if at := strings.LastIndexByte(identifier, '@'); at > 0 {
		return identifier[:1] + "***" + identifier[at:]
	}
	if len(identifier) <= 4 {
		return "***"
	}
	return "***" + identifier[len(identifier)-4:]
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenReused):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrUserInactive):
		return auditErrUserInactive
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRotationIncomplete):
		return auditErrRotationIncomplete
	case errors.Is(err, ErrOTPNotFound):
		return auditErrOTPNotFound
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrOTPMismatch):
		return auditErrOTPMismatch
	case errors.Is(err, ErrOTPAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordResetInvalid):
		return auditErrResetInvalid
	case errors.Is(err, ErrPasswordResetExpired):
		return auditErrResetExpired
	case errors.Is(err, ErrEmailVerificationInvalid):
		return auditErrVerifyInvalid
	case errors.Is(err, ErrEmailVerificationExpired):
		return auditErrVerifyExpired
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrTokenStoreUnavailable),
		errors.Is(err, ErrRateLimitUnavailable),
		errors.Is(err, ErrOTPUnavailable),
		errors.Is(err, ErrSessionCacheUnavailable),
		errors.Is(err, ErrPasswordResetUnavailable),
		errors.Is(err, ErrEmailVerifyUnavailable),
		errors.Is(err, ErrUserProviderUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

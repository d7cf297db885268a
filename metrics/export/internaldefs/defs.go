package internaldefs

import (
	"github.com/couponali/authcore"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful sign-ins by password, OTP or registration."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed sign-in attempts."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Accounts created."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected because the account exists."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh token rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Replayed refresh tokens that revoked their family."},
	{ID: authcore.MetricRefreshReuseGrace, Name: "authcore_refresh_reuse_grace_total", Help: "Replayed refresh tokens tolerated by the grace window."},
	{ID: authcore.MetricRotationIncomplete, Name: "authcore_rotation_incomplete_total", Help: "Rotations whose successor could not be stored."},
	{ID: authcore.MetricFamilyRevoked, Name: "authcore_refresh_revoked_total", Help: "Refresh records revoked in bulk."},
	{ID: authcore.MetricOTPRequested, Name: "authcore_otp_requested_total", Help: "OTP challenges issued."},
	{ID: authcore.MetricOTPVerified, Name: "authcore_otp_verified_total", Help: "OTP challenges verified."},
	{ID: authcore.MetricOTPFailure, Name: "authcore_otp_failure_total", Help: "Failed OTP verifications."},
	{ID: authcore.MetricOTPAttemptsExceeded, Name: "authcore_otp_attempts_exceeded_total", Help: "OTP verifications refused after the attempt cap."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Requests denied by a rate limit."},
	{ID: authcore.MetricRateLimitUnavailable, Name: "authcore_rate_limit_unavailable_total", Help: "Rate limit checks that could not reach the counter store."},
	{ID: authcore.MetricSessionCacheHit, Name: "authcore_session_cache_hit_total", Help: "Session projection cache hits."},
	{ID: authcore.MetricSessionCacheMiss, Name: "authcore_session_cache_miss_total", Help: "Session projection cache misses."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Email verification link requests."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Confirmed email addresses."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Rejected email verification confirmations."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricRotateLatency, Name: "authcore_refresh_rotate_latency_seconds", Help: "Refresh token rotation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "authcore_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for everything above the last bound.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, including +Inf, for exporters that
// publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals. The last
// element is the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

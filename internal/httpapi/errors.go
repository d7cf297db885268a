package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/couponali/authcore"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order with errors.Is. More specific sentinels
// must come before the ones they wrap.
var errorTable = []errorMapping{
	{authcore.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{authcore.ErrPasswordPolicy, http.StatusBadRequest, "password_policy"},
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{authcore.ErrTokenReused, http.StatusUnauthorized, "token_reused"},
	{authcore.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{authcore.ErrTokenRevoked, http.StatusUnauthorized, "token_revoked"},
	{authcore.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{authcore.ErrRotationIncomplete, http.StatusUnauthorized, "rotation_incomplete"},
	{authcore.ErrOTPMismatch, http.StatusUnauthorized, "otp_mismatch"},
	{authcore.ErrOTPNotFound, http.StatusUnauthorized, "otp_not_found"},
	{authcore.ErrOTPExpired, http.StatusUnauthorized, "otp_expired"},
	{authcore.ErrOTPAttemptsExceeded, http.StatusUnauthorized, "otp_attempts_exceeded"},
	{authcore.ErrPasswordResetInvalid, http.StatusUnauthorized, "reset_invalid"},
	{authcore.ErrPasswordResetExpired, http.StatusUnauthorized, "reset_expired"},
	{authcore.ErrEmailVerificationInvalid, http.StatusBadRequest, "verification_invalid"},
	{authcore.ErrEmailVerificationExpired, http.StatusBadRequest, "verification_expired"},
	{authcore.ErrUserInactive, http.StatusForbidden, "user_inactive"},
	{authcore.ErrAccountExists, http.StatusConflict, "account_exists"},
	{authcore.ErrTokenStoreUnavailable, http.StatusServiceUnavailable, "token_store_unavailable"},
	{authcore.ErrRateLimitUnavailable, http.StatusServiceUnavailable, "rate_limit_unavailable"},
	{authcore.ErrOTPUnavailable, http.StatusServiceUnavailable, "otp_unavailable"},
	{authcore.ErrSessionCacheUnavailable, http.StatusServiceUnavailable, "session_cache_unavailable"},
	{authcore.ErrPasswordResetUnavailable, http.StatusServiceUnavailable, "password_reset_unavailable"},
	{authcore.ErrEmailVerifyUnavailable, http.StatusServiceUnavailable, "email_verification_unavailable"},
	{authcore.ErrUserProviderUnavailable, http.StatusServiceUnavailable, "user_provider_unavailable"},
	{authcore.ErrEngineNotReady, http.StatusServiceUnavailable, "engine_not_ready"},
}

type errorResponse struct {
	Error             string `json:"error"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// writeError translates engine errors to a status and a stable code. Rate
// limited responses carry Retry-After.
func writeError(w http.ResponseWriter, err error) {
	var limited *authcore.RateLimitedError
	if errors.As(err, &limited) {
		secs := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", RetryAfterSeconds: secs})
		return
	}

	resp := errorResponse{Error: "internal"}
	status := http.StatusInternalServerError
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			resp.Error = m.code
			status = m.status
			break
		}
	}

	var mismatch *authcore.OTPMismatchError
	if errors.As(err, &mismatch) {
		remaining := mismatch.Remaining
		resp.RemainingAttempts = &remaining
	}

	writeJSON(w, status, resp)
}

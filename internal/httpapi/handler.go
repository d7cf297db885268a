// Package httpapi is the JSON transport in front of authcore.Engine used by
// cmd/authcore-server.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/couponali/authcore"
	"github.com/couponali/authcore/middleware"
	"github.com/couponali/authcore/refresh"
)

// Engine is the subset of authcore.Engine the handlers call.
type Engine interface {
	Register(ctx context.Context, in authcore.RegisterInput, device authcore.DeviceInfo) (authcore.TokenPair, error)
	Login(ctx context.Context, identifier, pass string, device authcore.DeviceInfo) (authcore.TokenPair, error)
	RequestOTP(ctx context.Context, identifier, purpose string) (authcore.OTPChallenge, error)
	VerifyOTP(ctx context.Context, identifier, purpose, code string) error
	LoginWithOTP(ctx context.Context, identifier, code string, device authcore.DeviceInfo) (authcore.TokenPair, error)
	Refresh(ctx context.Context, raw string, device authcore.DeviceInfo) (authcore.TokenPair, error)
	Logout(ctx context.Context, accessToken string) (int, error)
	GetSession(ctx context.Context, accessToken string) (*authcore.Snapshot, bool, error)
	RequestPasswordReset(ctx context.Context, identifier string) (authcore.PasswordResetChallenge, error)
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	RequestEmailVerification(ctx context.Context, email string) (authcore.EmailVerificationChallenge, error)
	ConfirmEmailVerification(ctx context.Context, token string) error
	VerificationStatus(ctx context.Context, email string) (authcore.EmailVerificationStatus, error)
	RateLimitStatus(ctx context.Context, policy, subject string) (authcore.RateDecision, error)
	OTPStatus(ctx context.Context, identifier, purpose string) (authcore.OTPStatus, error)
	RevokeFamily(ctx context.Context, ownerID string, reason refresh.RevokeReason) (int, error)
	ListTokenFamily(ctx context.Context, familyID string) ([]*refresh.Record, error)
}

// Handler serves the auth endpoints.
type Handler struct {
	engine Engine
	logger *slog.Logger

	// echoSecrets returns OTP codes and reset tokens in responses. Only for
	// local development without a delivery channel.
	echoSecrets bool
}

func New(engine Engine, logger *slog.Logger, echoSecrets bool) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: engine, logger: logger, echoSecrets: echoSecrets}
}

// Register mounts the public routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/register", h.HandleRegister)
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/otp/request", h.HandleRequestOTP)
	r.Post("/auth/otp/verify", h.HandleVerifyOTP)
	r.Post("/auth/otp/login", h.HandleLoginWithOTP)
	r.Post("/auth/refresh", h.HandleRefresh)
	r.Post("/auth/password-reset/request", h.HandleRequestPasswordReset)
	r.Post("/auth/password-reset/confirm", h.HandleConfirmPasswordReset)
	r.Post("/auth/email/verify/request", h.HandleRequestEmailVerification)
	r.Post("/auth/email/verify/confirm", h.HandleConfirmEmailVerification)
	r.Post("/auth/email/verification-status", h.HandleVerificationStatus)
}

// RegisterProtected mounts routes that need a validated access token. The
// caller applies middleware.Guard.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Get("/auth/me", h.HandleMe)
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/families/{familyID}", h.HandleListFamily)
}

// RegisterAdmin mounts admin routes. The caller applies Guard and
// RequireRole.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/users/{userID}/revoke", h.HandleAdminRevoke)
	r.Post("/admin/rate-limits/status", h.HandleAdminRateLimitStatus)
	r.Get("/admin/otp/status", h.HandleAdminOTPStatus)
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	UserID           string    `json:"user_id"`
}

func newTokenResponse(pair authcore.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		UserID:           pair.UserID,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.engine.Register(r.Context(), authcore.RegisterInput{
		Email:    req.Email,
		Mobile:   req.Mobile,
		FullName: req.FullName,
		Password: req.Password,
	}, authcore.DeviceInfo{})
	if err != nil {
		h.fail(w, r, "register failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, newTokenResponse(pair))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.engine.Login(r.Context(), req.Identifier, req.Password, authcore.DeviceInfo{})
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

type otpRequest struct {
	Identifier string `json:"identifier"`
	Purpose    string `json:"purpose"`
	Code       string `json:"code,omitempty"`
}

type otpChallengeResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

func (h *Handler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Purpose == "" {
		req.Purpose = authcore.OTPPurposeLogin
	}

	ch, err := h.engine.RequestOTP(r.Context(), req.Identifier, req.Purpose)
	if err != nil {
		h.fail(w, r, "otp request failed", err)
		return
	}

	resp := otpChallengeResponse{ExpiresAt: ch.ExpiresAt}
	if h.echoSecrets {
		resp.Code = ch.Code
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.VerifyOTP(r.Context(), req.Identifier, req.Purpose, req.Code); err != nil {
		h.fail(w, r, "otp verify failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleLoginWithOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.engine.LoginWithOTP(r.Context(), req.Identifier, req.Code, authcore.DeviceInfo{})
	if err != nil {
		h.fail(w, r, "otp login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken, authcore.DeviceInfo{})
	if err != nil {
		h.fail(w, r, "refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

type resetRequest struct {
	Identifier  string `json:"identifier"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// HandleRequestPasswordReset answers 202 whether or not the account exists.
func (h *Handler) HandleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}

	ch, err := h.engine.RequestPasswordReset(r.Context(), req.Identifier)
	if err != nil {
		h.fail(w, r, "password reset request failed", err)
		return
	}

	resp := map[string]string{"status": "accepted"}
	if h.echoSecrets && ch.Token != "" {
		resp["token"] = ch.Token
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) HandleConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, r, "password reset confirm failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type emailVerificationRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// HandleRequestEmailVerification answers 202 whether or not the address
// belongs to an account.
func (h *Handler) HandleRequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req emailVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	ch, err := h.engine.RequestEmailVerification(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, "email verification request failed", err)
		return
	}

	resp := map[string]string{"status": "accepted"}
	if h.echoSecrets && ch.Token != "" {
		resp["token"] = ch.Token
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) HandleConfirmEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req emailVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.ConfirmEmailVerification(r.Context(), req.Token); err != nil {
		h.fail(w, r, "email verification confirm failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

type verificationStatusResponse struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Exists   bool   `json:"exists"`
	Source   string `json:"source"`
}

func (h *Handler) HandleVerificationStatus(w http.ResponseWriter, r *http.Request) {
	var req emailVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	st, err := h.engine.VerificationStatus(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, "verification status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, verificationStatusResponse{
		Email:    st.Email,
		Verified: st.Verified,
		Exists:   st.Exists,
		Source:   st.Source,
	})
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	FamilyID  string    `json:"family_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Email     string    `json:"email,omitempty"`
	Mobile    string    `json:"mobile,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	Verified  bool      `json:"verified"`
}

// HandleMe reports the validated token, enriched from the session cache
// when an entry exists. A cache failure is logged and ignored.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	access, ok := middleware.AccessFromContext(r.Context())
	if !ok {
		writeError(w, authcore.ErrInvalidToken)
		return
	}

	resp := meResponse{
		UserID:    access.UserID,
		Role:      access.Role,
		FamilyID:  access.FamilyID,
		ExpiresAt: access.ExpiresAt,
	}

	token, _ := middleware.BearerToken(r)
	snap, found, err := h.engine.GetSession(r.Context(), token)
	if err != nil {
		h.logger.WarnContext(r.Context(), "session cache lookup failed", "error", err)
	} else if found {
		resp.Email = snap.Email
		resp.Mobile = snap.Mobile
		resp.FullName = snap.FullName
		resp.Verified = snap.Verified
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)
	revoked, err := h.engine.Logout(r.Context(), token)
	if err != nil {
		h.fail(w, r, "logout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

type familyRecord struct {
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Revoked       bool      `json:"revoked"`
	RevokedReason string    `json:"revoked_reason,omitempty"`
	Device        string    `json:"device,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
}

// HandleListFamily lists a token family. Callers only see their own.
func (h *Handler) HandleListFamily(w http.ResponseWriter, r *http.Request) {
	access, ok := middleware.AccessFromContext(r.Context())
	if !ok {
		writeError(w, authcore.ErrInvalidToken)
		return
	}

	records, err := h.engine.ListTokenFamily(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		h.fail(w, r, "list family failed", err)
		return
	}

	out := make([]familyRecord, 0, len(records))
	for _, rec := range records {
		if rec.OwnerID != access.UserID {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
			return
		}
		out = append(out, familyRecord{
			IssuedAt:      rec.IssuedAt,
			ExpiresAt:     rec.ExpiresAt,
			Revoked:       rec.Revoked,
			RevokedReason: string(rec.RevokedReason),
			Device:        rec.DeviceInfo,
			IPAddress:     rec.IPAddress,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.engine.RevokeFamily(r.Context(), chi.URLParam(r, "userID"), refresh.ReasonManual)
	if err != nil {
		h.fail(w, r, "admin revoke failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

type rateLimitStatusRequest struct {
	Policy  string `json:"policy"`
	Subject string `json:"subject"`
}

type rateLimitStatusResponse struct {
	Allowed        bool  `json:"allowed"`
	Count          int64 `json:"count"`
	Remaining      int   `json:"remaining"`
	ResetInSeconds int   `json:"reset_in_seconds"`
}

// HandleAdminRateLimitStatus reads a policy counter without counting a hit.
// The subject travels in the body because the refresh policy is keyed by a
// raw refresh token.
func (h *Handler) HandleAdminRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	var req rateLimitStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.engine.RateLimitStatus(r.Context(), req.Policy, req.Subject)
	if err != nil {
		h.fail(w, r, "rate limit status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitStatusResponse{
		Allowed:        d.Allowed,
		Count:          d.Count,
		Remaining:      d.Remaining,
		ResetInSeconds: d.ResetInSeconds(),
	})
}

type otpStatusResponse struct {
	AttemptsRemaining int       `json:"attempts_remaining"`
	ExpiresAt         time.Time `json:"expires_at"`
	Expired           bool      `json:"expired"`
	Consumed          bool      `json:"consumed"`
}

func (h *Handler) HandleAdminOTPStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	purpose := q.Get("purpose")
	if purpose == "" {
		purpose = authcore.OTPPurposeLogin
	}

	st, err := h.engine.OTPStatus(r.Context(), q.Get("identifier"), purpose)
	if err != nil {
		h.fail(w, r, "otp status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, otpStatusResponse{
		AttemptsRemaining: st.AttemptsRemaining,
		ExpiresAt:         st.ExpiresAt,
		Expired:           st.Expired,
		Consumed:          st.Consumed,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request"})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.InfoContext(r.Context(), msg, "error", err, "path", r.URL.Path)
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/couponali/authcore/session"
)

// ErrUserNotFound is returned by UserProvider implementations when no user
// matches.
var ErrUserNotFound = errors.New("user not found")

// UserRecord is the projection of a business user the engine needs.
type UserRecord struct {
	UserID       string
	Email        string
	Mobile       string
	FullName     string
	Role         string
	PasswordHash string
	Active       bool
	Verified     bool
}

// CreateUserInput is passed to UserProvider.CreateUser on registration.
type CreateUserInput struct {
	Email        string
	Mobile       string
	FullName     string
	Role         string
	PasswordHash string
}

// UserProvider is the engine's view of the relational user store.
//
// GetUserByIdentifier receives a normalized email or phone number.
// CreateUser must return ErrAccountExists when the identifier is taken.
// MarkVerified sets Verified on the user and must be idempotent.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	MarkVerified(ctx context.Context, userID string) error
}

// Hasher hashes and verifies passwords. password.Argon2 satisfies it.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Notifier delivers out-of-band secrets. Calls are best-effort: failures are
// logged and never fail the operation that produced the secret.
type Notifier interface {
	SendOTP(ctx context.Context, identifier, purpose, code string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, identifier, token string, expiresAt time.Time) error
	SendEmailVerification(ctx context.Context, email, token string, expiresAt time.Time) error
}

// DeviceInfo describes the client a refresh token is issued to.
// When UserAgent is empty the engine falls back to WithUserAgent on ctx;
// the same holds for IPAddress and WithClientIP.
type DeviceInfo struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the result of a successful sign-in or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	FamilyID         string
}

// RotationResult is the result of RotateRefreshToken.
type RotationResult struct {
	OwnerID      string
	FamilyID     string
	RefreshToken string
	ExpiresAt    time.Time
}

// OTPChallenge carries the raw code for delivery by the caller.
type OTPChallenge struct {
	Identifier string
	Purpose    string
	Code       string
	ExpiresAt  time.Time
}

// OTPStatus is the read-only view of a stored OTP challenge.
type OTPStatus struct {
	Identifier        string
	Purpose           string
	AttemptsRemaining int
	ExpiresAt         time.Time
	Expired           bool
	Consumed          bool
}

// PasswordResetChallenge carries the raw reset token for delivery.
type PasswordResetChallenge struct {
	Token     string
	ExpiresAt time.Time
}

// EmailVerificationChallenge carries the raw verification token for
// delivery. Token is empty when there is nothing to verify.
type EmailVerificationChallenge struct {
	Token     string
	ExpiresAt time.Time
}

// EmailVerificationStatus answers whether an address is verified. Source is
// "cache" when a recent confirmation answered it and "provider" when the
// UserProvider did. Exists is false only for addresses no account uses.
type EmailVerificationStatus struct {
	Email    string
	Verified bool
	Exists   bool
	Source   string
}

// RateDecision is the outcome of CheckRateLimit.
type RateDecision struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetIn   time.Duration
}

// ResetInSeconds is ResetIn rounded up to whole seconds.
func (d RateDecision) ResetInSeconds() int {
	return ceilSeconds(d.ResetIn)
}

// AccessResult is what ValidateAccess returns for a usable access token.
type AccessResult struct {
	UserID    string
	Role      string
	FamilyID  string
	TokenID   string
	ExpiresAt time.Time
}

// Snapshot is the cached projection of a signed-in user.
type Snapshot = session.Snapshot

// OTP purposes used by the engine itself.
const (
	OTPPurposeLogin         = "login"
	OTPPurposeVerifyEmail   = "verify_email"
	OTPPurposeVerifyMobile  = "verify_mobile"
	OTPPurposePasswordReset = "password_reset"
)

package flows

import (
	"context"
	"time"

	"github.com/couponali/authcore/refresh"
)

// LogoutFailureKind classifies logout failures for root-level mapping.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureRevoke
	LogoutFailureDeny
)

// LogoutInput identifies the access token being retired.
type LogoutInput struct {
	AccessToken string
	UserID      string
	TokenID     string
	Remaining   time.Duration
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Store             refresh.Store
	Now               func() time.Time
	DenyToken         func(ctx context.Context, tokenID string, ttl time.Duration) error
	InvalidateSession func(ctx context.Context, accessToken string) error
	Warn              func(string, ...any)
}

// LogoutResult reports how many refresh records were revoked.
type LogoutResult struct {
	Failure LogoutFailureKind
	Err     error
	Revoked int
}

// RunLogout revokes every active refresh token of the user, denylists the
// access token for the rest of its lifetime and drops its cached session.
// Cache invalidation is best-effort; the denylist is not.
func RunLogout(ctx context.Context, in LogoutInput, deps LogoutDeps) LogoutResult {
	revoked, err := deps.Store.RevokeOwner(ctx, in.UserID, refresh.ReasonLogout, nowOrDefault(deps.Now))
	if err != nil {
		return LogoutResult{Failure: LogoutFailureRevoke, Err: err}
	}

	if in.Remaining > 0 && in.TokenID != "" && deps.DenyToken != nil {
		if err := deps.DenyToken(ctx, in.TokenID, in.Remaining); err != nil {
			return LogoutResult{Failure: LogoutFailureDeny, Err: err, Revoked: revoked}
		}
	}

	if deps.InvalidateSession != nil {
		if err := deps.InvalidateSession(ctx, in.AccessToken); err != nil && deps.Warn != nil {
			deps.Warn("authcore: session cache invalidation failed", "user_id", in.UserID, "err", err)
		}
	}

	return LogoutResult{Failure: LogoutFailureNone, Revoked: revoked}
}

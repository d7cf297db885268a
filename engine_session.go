package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couponali/authcore/jwt"
	"github.com/couponali/authcore/session"
)

// PutSession caches snapshot under accessToken for ttl. The key is derived
// from a SHA-256 of the token.
func (e *Engine) PutSession(ctx context.Context, accessToken string, snapshot *Snapshot, ttl time.Duration) error {
	if e == nil || e.sessions == nil {
		return nil
	}
	if accessToken == "" || snapshot == nil {
		return fmt.Errorf("%w: access token and snapshot are required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	if err := e.sessions.Put(opCtx, accessToken, snapshot, ttl); err != nil {
		return mapSessionError(err)
	}
	return nil
}

// GetSession returns the cached snapshot for accessToken. A miss is
// (nil, false, nil) and says nothing about whether the token is valid.
func (e *Engine) GetSession(ctx context.Context, accessToken string) (*Snapshot, bool, error) {
	if e == nil || e.sessions == nil || accessToken == "" {
		return nil, false, nil
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	s, ok, err := e.sessions.Get(opCtx, accessToken)
	if err != nil {
		return nil, false, mapSessionError(err)
	}
	if ok {
		e.metricInc(MetricSessionCacheHit)
	} else {
		e.metricInc(MetricSessionCacheMiss)
	}
	return s, ok, nil
}

// InvalidateSession drops the cached snapshot for accessToken, if any.
func (e *Engine) InvalidateSession(ctx context.Context, accessToken string) error {
	if e == nil || e.sessions == nil || accessToken == "" {
		return nil
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	if err := e.sessions.Invalidate(opCtx, accessToken); err != nil {
		return mapSessionError(err)
	}
	return nil
}

// ValidateAccess verifies the signature and claims of accessToken and checks
// the logout denylist. The session cache is never consulted.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (AccessResult, error) {
	if e == nil || e.jwtManager == nil {
		return AccessResult{}, ErrEngineNotReady
	}

	claims, err := e.parseAccess(accessToken)
	if err != nil {
		return AccessResult{}, err
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	denied, err := e.redis.Exists(opCtx, e.denylistKey(claims.ID)).Result()
	if err != nil {
		return AccessResult{}, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	if denied > 0 {
		return AccessResult{}, ErrTokenRevoked
	}

	result := AccessResult{
		UserID:   claims.UserID(),
		Role:     claims.Role,
		FamilyID: claims.FamilyID,
		TokenID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

func (e *Engine) parseAccess(accessToken string) (*jwt.AccessClaims, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (e *Engine) denylistKey(tokenID string) string {
	return e.config.JWT.DenylistPrefix + ":" + tokenID
}

func (e *Engine) denyAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := e.redis.Set(ctx, e.denylistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	return nil
}

// completeSignIn mints the access token for user and projects the session.
// A failed cache write is logged and does not fail the sign-in.
func (e *Engine) completeSignIn(
	ctx context.Context,
	user UserRecord,
	refreshToken string,
	refreshExpiresAt time.Time,
	familyID string,
) (TokenPair, error) {
	access, claims, err := e.jwtManager.CreateAccess(jwt.AccessParams{
		UserID:   user.UserID,
		Role:     user.Role,
		FamilyID: familyID,
	})
	if err != nil {
		return TokenPair{}, err
	}

	pair := TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: refreshExpiresAt,
		UserID:           user.UserID,
		FamilyID:         familyID,
	}

	snapshot := &session.Snapshot{
		SchemaVersion: session.CurrentSchemaVersion,
		UserID:        user.UserID,
		Email:         user.Email,
		Mobile:        user.Mobile,
		FullName:      user.FullName,
		Role:          user.Role,
		Verified:      user.Verified,
		LoginAt:       e.now().Unix(),
	}
	if err := e.PutSession(ctx, access, snapshot, e.jwtManager.TTL()); err != nil {
		e.warn("authcore: session cache write failed", "user_id", user.UserID, "err", err)
	}

	return pair, nil
}

func mapSessionError(err error) error {
	if errors.Is(err, session.ErrRedisUnavailable) {
		return fmt.Errorf("%w: %v", ErrSessionCacheUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

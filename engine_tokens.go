package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/flows"
	"github.com/couponali/authcore/refresh"
)

// IssueRefreshToken mints a refresh token for ownerID and returns its only
// cleartext copy. An empty familyID starts a new family.
func (e *Engine) IssueRefreshToken(ctx context.Context, ownerID string, device DeviceInfo, familyID string) (string, error) {
	res, err := e.issueRefresh(ctx, ownerID, device, familyID)
	if err != nil {
		return "", err
	}
	return res.RefreshToken, nil
}

func (e *Engine) issueRefresh(ctx context.Context, ownerID string, device DeviceInfo, familyID string) (flows.IssueResult, error) {
	if e == nil || e.tokens == nil {
		return flows.IssueResult{}, ErrEngineNotReady
	}
	if ownerID == "" {
		return flows.IssueResult{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res, err := flows.RunIssue(opCtx, ownerID, familyID, e.flowDevice(ctx, device), e.issueDeps())
	if err != nil {
		return flows.IssueResult{}, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventRefreshIssued, true, auditSubject{UserID: ownerID, FamilyID: res.Record.FamilyID}, nil, nil)
	return res, nil
}

// RotateRefreshToken consumes raw and issues its successor in the same
// family.
//
// Presenting a revoked token revokes the whole family and returns
// ErrTokenReused, except within Tokens.ReuseGraceWindow of a rotation. Of
// concurrent rotations of one token exactly one succeeds; the others take
// the reuse path, which also revokes the winner's successor.
func (e *Engine) RotateRefreshToken(ctx context.Context, raw string, device DeviceInfo) (RotationResult, error) {
	res, _, err := e.rotate(ctx, raw, device)
	if err != nil {
		return RotationResult{}, err
	}
	return RotationResult{
		OwnerID:      res.OwnerID,
		FamilyID:     res.FamilyID,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.Successor.ExpiresAt,
	}, nil
}

func (e *Engine) rotate(ctx context.Context, raw string, device DeviceInfo) (flows.RotateResult, UserRecord, error) {
	if e == nil || e.tokens == nil {
		return flows.RotateResult{}, UserRecord{}, ErrEngineNotReady
	}
	if raw == "" {
		return flows.RotateResult{}, UserRecord{}, ErrInvalidToken
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricRotateLatency, time.Since(start))
	}()

	var owner UserRecord
	deps := flows.RotateDeps{
		Issue: e.issueDeps(),
		OwnerActive: func(ctx context.Context, ownerID string) (bool, error) {
			user, err := e.users.GetUserByID(ctx, ownerID)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					return false, nil
				}
				return false, err
			}
			owner = user
			return user.Active, nil
		},
		ReuseGraceWindow: e.config.Tokens.ReuseGraceWindow,
		Warn:             e.warn,
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunRotate(opCtx, raw, e.flowDevice(ctx, device), deps)
	subject := auditSubject{UserID: res.OwnerID, FamilyID: res.FamilyID}

	var err error
	switch res.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshRotated, true, subject, nil, nil)
		return res, owner, nil
	case flows.RotateFailureUnknown:
		err = ErrInvalidToken
	case flows.RotateFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metrics.Add(MetricFamilyRevoked, uint64(res.FamilyRevoked))
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, subject, ErrTokenReused, func() map[string]string {
			return map[string]string{"revoked": itoa(res.FamilyRevoked)}
		})
		return res, UserRecord{}, ErrTokenReused
	case flows.RotateFailureReuseGrace:
		e.metricInc(MetricRefreshReuseGrace)
		err = ErrTokenReused
	case flows.RotateFailureExpired:
		err = ErrTokenExpired
	case flows.RotateFailureInactive:
		err = ErrUserInactive
	case flows.RotateFailureOwnerLookup:
		err = fmt.Errorf("%w: %v", ErrUserProviderUnavailable, res.Err)
	case flows.RotateFailureStore:
		err = fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, res.Err)
	case flows.RotateFailureIncomplete:
		e.metricInc(MetricRotationIncomplete)
		err = fmt.Errorf("%w: %v", ErrRotationIncomplete, res.Err)
		e.warn("authcore: refresh successor not stored", "family_id", res.FamilyID, "err", res.Err)
		e.emitAudit(ctx, auditEventRotationIncomplete, false, subject, err, nil)
		return res, UserRecord{}, err
	default:
		err = ErrInvalidToken
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshFailure, false, subject, err, nil)
	return res, UserRecord{}, err
}

// Refresh rate limits, rotates raw and mints a new access token for the
// same family. The session projection is refreshed as a side effect.
func (e *Engine) Refresh(ctx context.Context, raw string, device DeviceInfo) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	if raw == "" {
		return TokenPair{}, ErrInvalidToken
	}
	if err := e.enforceRateLimit(ctx, refreshScope(internal.HashToken(raw)), e.config.RateLimit.Refresh); err != nil {
		return TokenPair{}, err
	}

	res, owner, err := e.rotate(ctx, raw, device)
	if err != nil {
		return TokenPair{}, err
	}
	if owner.UserID == "" {
		owner.UserID = res.OwnerID
	}

	return e.completeSignIn(ctx, owner, res.RefreshToken, res.Successor.ExpiresAt, res.FamilyID)
}

// RevokeFamily revokes every active refresh token of ownerID and returns
// how many changed. Calling it again returns 0.
func (e *Engine) RevokeFamily(ctx context.Context, ownerID string, reason refresh.RevokeReason) (int, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if ownerID == "" || !reason.Valid() {
		return 0, fmt.Errorf("%w: owner id and a known reason are required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	n, err := e.tokens.RevokeOwner(opCtx, ownerID, reason, e.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}

	e.metrics.Add(MetricFamilyRevoked, uint64(n))
	e.emitAudit(ctx, auditEventFamilyRevoked, true, auditSubject{UserID: ownerID}, nil, func() map[string]string {
		return map[string]string{
			"reason":  string(reason),
			"revoked": itoa(n),
		}
	})
	return n, nil
}

// ListTokenFamily returns every record of one family, oldest first.
func (e *Engine) ListTokenFamily(ctx context.Context, familyID string) ([]*refresh.Record, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if familyID == "" {
		return nil, fmt.Errorf("%w: family id is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	records, err := e.tokens.ListFamily(opCtx, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	return records, nil
}

// Logout retires accessToken: every refresh token of its user is revoked
// with reason logout, the token id is denylisted for the rest of its
// lifetime and its cached session is dropped.
func (e *Engine) Logout(ctx context.Context, accessToken string) (int, error) {
	if e == nil || e.jwtManager == nil {
		return 0, ErrEngineNotReady
	}

	claims, err := e.parseAccess(accessToken)
	if err != nil {
		return 0, err
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := flows.RunLogout(opCtx, flows.LogoutInput{
		AccessToken: accessToken,
		UserID:      claims.UserID(),
		TokenID:     claims.ID,
		Remaining:   claims.Remaining(e.now()),
	}, flows.LogoutDeps{
		Store:             e.tokens,
		Now:               e.now,
		DenyToken:         e.denyAccessToken,
		InvalidateSession: e.InvalidateSession,
		Warn:              e.warn,
	})

	subject := auditSubject{UserID: claims.UserID(), FamilyID: claims.FamilyID}
	switch res.Failure {
	case flows.LogoutFailureNone:
	case flows.LogoutFailureRevoke:
		err = fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, res.Err)
	default:
		err = res.Err
	}
	if err != nil {
		e.emitAudit(ctx, auditEventLogout, false, subject, err, nil)
		return res.Revoked, err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subject, nil, func() map[string]string {
		return map[string]string{"revoked": itoa(res.Revoked)}
	})
	return res.Revoked, nil
}

// PurgeExpiredTokens deletes refresh records whose expiry is older than
// Tokens.RecordRetention.
func (e *Engine) PurgeExpiredTokens(ctx context.Context) (int, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.tokens.PurgeExpired(ctx, e.now().Add(-e.config.Tokens.RecordRetention))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
	return n, nil
}

func (e *Engine) issueDeps() flows.IssueDeps {
	return flows.IssueDeps{
		Store:           e.tokens,
		Now:             e.now,
		NewRefreshToken: internal.NewRefreshToken,
		HashToken:       internal.HashToken,
		NewFamilyID:     uuid.NewString,
		RefreshTTL:      e.config.Tokens.RefreshTTL,
	}
}

func (e *Engine) flowDevice(ctx context.Context, device DeviceInfo) flows.Device {
	device = deviceFromContext(ctx, device)
	return flows.Device{
		Description: internal.DescribeUserAgent(device.UserAgent),
		IPAddress:   device.IPAddress,
		UserAgent:   device.UserAgent,
	}
}

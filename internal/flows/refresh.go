package flows

import (
	"context"
	"errors"
	"time"

	"github.com/couponali/authcore/refresh"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureUnknown
	RotateFailureReuse
	RotateFailureReuseGrace
	RotateFailureExpired
	RotateFailureInactive
	RotateFailureOwnerLookup
	RotateFailureStore
	RotateFailureIncomplete
)

// RotateResult carries either the successor token or failure metadata.
type RotateResult struct {
	Failure      RotateFailureKind
	Err          error
	OwnerID      string
	FamilyID     string
	RefreshToken string
	Successor    *refresh.Record

	// FamilyRevoked is the number of records the reuse path revoked.
	FamilyRevoked int
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
	Issue IssueDeps

	// OwnerActive reports whether ownerID may still hold sessions.
	OwnerActive func(ctx context.Context, ownerID string) (bool, error)

	// ReuseGraceWindow, when > 0, treats a token rotated less than the window
	// ago as a benign retry: the presentation fails without a cascade.
	ReuseGraceWindow time.Duration

	Warn func(string, ...any)
}

// RunRotate consumes rawToken and issues its successor in the same family.
//
// The conditional revoke is the linearization point. A caller that loses it
// is treated exactly like a caller presenting an already revoked token, so
// two concurrent rotations of one token end with the family revoked.
func RunRotate(ctx context.Context, rawToken string, device Device, deps RotateDeps) RotateResult {
	store := deps.Issue.Store
	now := nowOrDefault(deps.Issue.Now)
	hash := deps.Issue.HashToken(rawToken)

	record, err := store.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return RotateResult{Failure: RotateFailureUnknown, Err: err}
		}
		return RotateResult{Failure: RotateFailureStore, Err: err}
	}

	if record.Revoked {
		return handleReuse(ctx, record, now, deps)
	}
	if record.Expired(now) {
		return RotateResult{
			Failure:  RotateFailureExpired,
			OwnerID:  record.OwnerID,
			FamilyID: record.FamilyID,
		}
	}

	if deps.OwnerActive != nil {
		active, err := deps.OwnerActive(ctx, record.OwnerID)
		if err != nil {
			return RotateResult{
				Failure:  RotateFailureOwnerLookup,
				Err:      err,
				OwnerID:  record.OwnerID,
				FamilyID: record.FamilyID,
			}
		}
		if !active {
			return RotateResult{
				Failure:  RotateFailureInactive,
				OwnerID:  record.OwnerID,
				FamilyID: record.FamilyID,
			}
		}
	}

	changed, err := store.RevokeIfActive(ctx, hash, refresh.ReasonRotated, now)
	if err != nil {
		return RotateResult{
			Failure:  RotateFailureStore,
			Err:      err,
			OwnerID:  record.OwnerID,
			FamilyID: record.FamilyID,
		}
	}
	if !changed {
		current, err := store.FindByHash(ctx, hash)
		if err != nil || !current.Revoked {
			current = record
			current.Revoked = true
			current.RevokedReason = refresh.ReasonRotated
			current.RevokedAt = now
		}
		return handleReuse(ctx, current, now, deps)
	}

	issued, err := RunIssue(ctx, record.OwnerID, record.FamilyID, device, deps.Issue)
	if err != nil {
		return RotateResult{
			Failure:  RotateFailureIncomplete,
			Err:      err,
			OwnerID:  record.OwnerID,
			FamilyID: record.FamilyID,
		}
	}

	return RotateResult{
		Failure:      RotateFailureNone,
		OwnerID:      record.OwnerID,
		FamilyID:     record.FamilyID,
		RefreshToken: issued.RefreshToken,
		Successor:    issued.Record,
	}
}

func handleReuse(ctx context.Context, record *refresh.Record, now time.Time, deps RotateDeps) RotateResult {
	if withinGrace(record, now, deps.ReuseGraceWindow) {
		return RotateResult{
			Failure:  RotateFailureReuseGrace,
			OwnerID:  record.OwnerID,
			FamilyID: record.FamilyID,
		}
	}

	revoked, err := deps.Issue.Store.RevokeFamily(ctx, record.FamilyID, refresh.ReasonFamilyRevoked, now)
	if err != nil {
		if deps.Warn != nil {
			deps.Warn("authcore: family revocation after reuse failed", "family_id", record.FamilyID, "err", err)
		}
		return RotateResult{
			Failure:  RotateFailureReuse,
			Err:      err,
			OwnerID:  record.OwnerID,
			FamilyID: record.FamilyID,
		}
	}

	return RotateResult{
		Failure:       RotateFailureReuse,
		OwnerID:       record.OwnerID,
		FamilyID:      record.FamilyID,
		FamilyRevoked: revoked,
	}
}

func withinGrace(record *refresh.Record, now time.Time, window time.Duration) bool {
	if window <= 0 || record.RevokedReason != refresh.ReasonRotated || record.RevokedAt.IsZero() {
		return false
	}
	return now.Sub(record.RevokedAt) < window
}

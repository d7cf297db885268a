package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the token hash.
	ErrNotFound = errors.New("refresh record not found")
	// ErrDuplicate is returned by Insert when the token hash already exists.
	ErrDuplicate = errors.New("refresh record already exists")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
)

// RevokeReason records why a token stopped being valid.
type RevokeReason string

const (
	ReasonRotated       RevokeReason = "rotated"
	ReasonLogout        RevokeReason = "logout"
	ReasonFamilyRevoked RevokeReason = "family_revoked"
	ReasonManual        RevokeReason = "manual"
)

// Valid reports whether r is one of the known reasons.
func (r RevokeReason) Valid() bool {
	switch r {
	case ReasonRotated, ReasonLogout, ReasonFamilyRevoked, ReasonManual:
		return true
	default:
		return false
	}
}

// Record is the persisted state of one issued refresh token.
type Record struct {
	TokenHash  string
	FamilyID   string
	OwnerID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	Revoked       bool
	RevokedAt     time.Time
	RevokedReason RevokeReason

	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Valid reports whether the record can still be presented.
func (r *Record) Valid(now time.Time) bool {
	return !r.Revoked && !r.Expired(now)
}

// Store persists refresh records. Implementations must make RevokeIfActive a
// single atomic compare-and-set: of N concurrent calls on the same active
// record exactly one returns true.
type Store interface {
	Insert(ctx context.Context, record *Record) error
	FindByHash(ctx context.Context, tokenHash string) (*Record, error)

	// RevokeIfActive revokes the record only if it exists and is not already
	// revoked, and reports whether it changed anything. Rotation also stamps
	// LastUsedAt.
	RevokeIfActive(ctx context.Context, tokenHash string, reason RevokeReason, now time.Time) (bool, error)

	// RevokeFamily and RevokeOwner revoke every non-revoked record in scope and
	// return how many changed. Already revoked records keep their reason.
	RevokeFamily(ctx context.Context, familyID string, reason RevokeReason, now time.Time) (int, error)
	RevokeOwner(ctx context.Context, ownerID string, reason RevokeReason, now time.Time) (int, error)

	ListFamily(ctx context.Context, familyID string) ([]*Record, error)

	// PurgeExpired deletes records that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

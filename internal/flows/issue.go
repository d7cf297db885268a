package flows

import (
	"context"
	"errors"
	"time"

	"github.com/couponali/authcore/refresh"
)

// IssueDeps captures refresh token issuance dependencies.
type IssueDeps struct {
	Store           refresh.Store
	Now             func() time.Time
	NewRefreshToken func() (string, error)
	HashToken       func(string) string
	NewFamilyID     func() string
	RefreshTTL      time.Duration
}

// IssueResult carries the raw token (its only cleartext copy) and the
// record that was persisted for it.
type IssueResult struct {
	RefreshToken string
	Record       *refresh.Record
}

// RunIssue mints a refresh token for ownerID. An empty familyID starts a
// new family.
func RunIssue(ctx context.Context, ownerID, familyID string, device Device, deps IssueDeps) (IssueResult, error) {
	if ownerID == "" {
		return IssueResult{}, errors.New("owner id is required")
	}
	if deps.RefreshTTL <= 0 {
		return IssueResult{}, errors.New("refresh ttl must be > 0")
	}

	raw, err := deps.NewRefreshToken()
	if err != nil {
		return IssueResult{}, err
	}
	if familyID == "" {
		familyID = deps.NewFamilyID()
	}

	now := nowOrDefault(deps.Now)
	record := &refresh.Record{
		TokenHash:  deps.HashToken(raw),
		FamilyID:   familyID,
		OwnerID:    ownerID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(deps.RefreshTTL),
		DeviceInfo: device.Description,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
	}
	if err := deps.Store.Insert(ctx, record); err != nil {
		return IssueResult{}, err
	}

	return IssueResult{
		RefreshToken: raw,
		Record:       record,
	}, nil
}

package flows

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/stores"
	"github.com/couponali/authcore/refresh"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

func newRotateDeps(t *testing.T, clock *fixedClock) RotateDeps {
	t.Helper()
	var families atomic.Int64
	return RotateDeps{
		Issue: IssueDeps{
			Store:           refresh.NewRedisStore(newTestRedis(t), "", time.Hour),
			Now:             clock.Now,
			NewRefreshToken: internal.NewRefreshToken,
			HashToken:       internal.HashToken,
			NewFamilyID: func() string {
				return "fam-" + strconv.FormatInt(families.Add(1), 10)
			},
			RefreshTTL: 24 * time.Hour,
		},
	}
}

func issueToken(t *testing.T, deps RotateDeps, owner string) IssueResult {
	t.Helper()
	res, err := RunIssue(context.Background(), owner, "", Device{Description: "Firefox 120.0 on Linux"}, deps.Issue)
	require.NoError(t, err)
	return res
}

func TestRunIssueStoresHashOnly(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)

	res := issueToken(t, deps, "u1")
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, internal.HashToken(res.RefreshToken), res.Record.TokenHash)
	assert.Equal(t, "fam-1", res.Record.FamilyID)
	assert.Equal(t, clock.Now().Add(24*time.Hour), res.Record.ExpiresAt)

	stored, err := deps.Issue.Store.FindByHash(context.Background(), res.Record.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, "Firefox 120.0 on Linux", stored.DeviceInfo)

	_, err = RunIssue(context.Background(), "", "", Device{}, deps.Issue)
	assert.Error(t, err)
}

func TestRunRotateIssuesSuccessorInSameFamily(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)
	ctx := context.Background()

	first := issueToken(t, deps, "u1")
	clock.Advance(time.Minute)

	res := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	require.Equal(t, RotateFailureNone, res.Failure, "err: %v", res.Err)
	assert.Equal(t, "u1", res.OwnerID)
	assert.Equal(t, first.Record.FamilyID, res.FamilyID)
	assert.NotEqual(t, first.RefreshToken, res.RefreshToken)

	old, err := deps.Issue.Store.FindByHash(ctx, first.Record.TokenHash)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	assert.Equal(t, refresh.ReasonRotated, old.RevokedReason)
	assert.False(t, old.LastUsedAt.IsZero())

	next := RunRotate(ctx, res.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureNone, next.Failure)
}

func TestRunRotateUnknownToken(t *testing.T) {
	deps := newRotateDeps(t, &fixedClock{now: time.Now()})

	res := RunRotate(context.Background(), "not-a-token", Device{}, deps)
	assert.Equal(t, RotateFailureUnknown, res.Failure)
}

func TestRunRotateReuseRevokesWholeFamily(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)
	ctx := context.Background()

	first := issueToken(t, deps, "u1")
	rotated := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	require.Equal(t, RotateFailureNone, rotated.Failure)

	reuse := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureReuse, reuse.Failure)
	assert.Equal(t, 1, reuse.FamilyRevoked)

	child, err := deps.Issue.Store.FindByHash(ctx, internal.HashToken(rotated.RefreshToken))
	require.NoError(t, err)
	assert.True(t, child.Revoked)
	assert.Equal(t, refresh.ReasonFamilyRevoked, child.RevokedReason)

	after := RunRotate(ctx, rotated.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureReuse, after.Failure)
}

func TestRunRotateGraceWindowSkipsCascade(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)
	deps.ReuseGraceWindow = 10 * time.Second
	ctx := context.Background()

	first := issueToken(t, deps, "u1")
	rotated := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	require.Equal(t, RotateFailureNone, rotated.Failure)

	clock.Advance(2 * time.Second)
	retry := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureReuseGrace, retry.Failure)

	child, err := deps.Issue.Store.FindByHash(ctx, internal.HashToken(rotated.RefreshToken))
	require.NoError(t, err)
	assert.False(t, child.Revoked)

	clock.Advance(time.Minute)
	late := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureReuse, late.Failure)
}

func TestRunRotateExpired(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)

	first := issueToken(t, deps, "u1")
	clock.Advance(25 * time.Hour)

	res := RunRotate(context.Background(), first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureExpired, res.Failure)
}

func TestRunRotateInactiveOwnerLeavesRecordUntouched(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)
	deps.OwnerActive = func(context.Context, string) (bool, error) { return false, nil }
	ctx := context.Background()

	first := issueToken(t, deps, "u1")
	res := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureInactive, res.Failure)

	rec, err := deps.Issue.Store.FindByHash(ctx, first.Record.TokenHash)
	require.NoError(t, err)
	assert.False(t, rec.Revoked)

	deps.OwnerActive = func(context.Context, string) (bool, error) { return false, errors.New("db down") }
	res = RunRotate(ctx, first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureOwnerLookup, res.Failure)
}

type failingInsertStore struct {
	refresh.Store
	inserts atomic.Int64
}

func (s *failingInsertStore) Insert(ctx context.Context, record *refresh.Record) error {
	if s.inserts.Add(1) > 1 {
		return refresh.ErrStoreUnavailable
	}
	return s.Store.Insert(ctx, record)
}

func TestRunRotateIncompleteWhenSuccessorInsertFails(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)
	store := &failingInsertStore{Store: deps.Issue.Store}
	deps.Issue.Store = store
	ctx := context.Background()

	first := issueToken(t, deps, "u1")
	res := RunRotate(ctx, first.RefreshToken, Device{}, deps)
	assert.Equal(t, RotateFailureIncomplete, res.Failure)
	assert.ErrorIs(t, res.Err, refresh.ErrStoreUnavailable)

	rec, err := store.FindByHash(ctx, first.Record.TokenHash)
	require.NoError(t, err)
	assert.True(t, rec.Revoked, "consumed token stays revoked")
}

func TestRunRotateConcurrentExactlyOneSucceeds(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newRotateDeps(t, clock)

	first := issueToken(t, deps, "u1")

	const workers = 20
	var (
		wg      sync.WaitGroup
		success atomic.Int64
		reused  atomic.Int64
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			switch RunRotate(context.Background(), first.RefreshToken, Device{}, deps).Failure {
			case RotateFailureNone:
				success.Add(1)
			case RotateFailureReuse:
				reused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, success.Load())
	assert.EqualValues(t, workers-1, reused.Load())
}

func newOTPDeps(t *testing.T, clock *fixedClock) OTPDeps {
	t.Helper()
	return OTPDeps{
		Store:       stores.NewOTPStore(newTestRedis(t), "", time.Minute),
		Now:         clock.Now,
		NewCode:     internal.NewOTP,
		HashCode:    internal.HashOTP,
		Digits:      6,
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
	}
}

func TestRunOTPRequestAndVerify(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newOTPDeps(t, clock)
	ctx := context.Background()

	req := RunRequestOTP(ctx, "a@example.com", "login", deps)
	require.Equal(t, OTPFailureNone, req.Failure, "err: %v", req.Err)
	assert.Len(t, req.Code, 6)
	assert.Equal(t, clock.Now().Add(5*time.Minute), req.ExpiresAt)

	wrong := "000000"
	if req.Code == wrong {
		wrong = "111111"
	}
	miss := RunVerifyOTP(ctx, "a@example.com", "login", wrong, deps)
	assert.Equal(t, OTPFailureMismatch, miss.Failure)
	assert.Equal(t, 2, miss.Remaining)

	ok := RunVerifyOTP(ctx, "a@example.com", "login", req.Code, deps)
	assert.Equal(t, OTPFailureNone, ok.Failure)

	again := RunVerifyOTP(ctx, "a@example.com", "login", req.Code, deps)
	assert.Equal(t, OTPFailureNotFound, again.Failure)
}

func TestRunOTPAttemptsAndExpiry(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	deps := newOTPDeps(t, clock)
	ctx := context.Background()

	req := RunRequestOTP(ctx, "+919876543210", "login", deps)
	require.Equal(t, OTPFailureNone, req.Failure)

	wrong := "000000"
	if req.Code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, OTPFailureMismatch, RunVerifyOTP(ctx, "+919876543210", "login", wrong, deps).Failure)
	}
	assert.Equal(t, OTPFailureAttemptsExceeded, RunVerifyOTP(ctx, "+919876543210", "login", req.Code, deps).Failure)

	req = RunRequestOTP(ctx, "+919876543210", "login", deps)
	require.Equal(t, OTPFailureNone, req.Failure)
	clock.Advance(6 * time.Minute)
	assert.Equal(t, OTPFailureExpired, RunVerifyOTP(ctx, "+919876543210", "login", req.Code, deps).Failure)

	assert.Equal(t, OTPFailureInvalidInput, RunVerifyOTP(ctx, "", "login", "1", deps).Failure)
	assert.Equal(t, OTPFailureInvalidInput, RunRequestOTP(ctx, "x", "", deps).Failure)
}

func TestRunLogoutRevokesAndDenylists(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	rotate := newRotateDeps(t, clock)
	issueToken(t, rotate, "u1")
	issueToken(t, rotate, "u1")

	var (
		deniedID  string
		deniedTTL time.Duration
		dropped   string
	)
	deps := LogoutDeps{
		Store: rotate.Issue.Store,
		Now:   clock.Now,
		DenyToken: func(_ context.Context, id string, ttl time.Duration) error {
			deniedID, deniedTTL = id, ttl
			return nil
		},
		InvalidateSession: func(_ context.Context, token string) error {
			dropped = token
			return errors.New("cache down")
		},
		Warn: func(string, ...any) {},
	}

	res := RunLogout(context.Background(), LogoutInput{
		AccessToken: "access",
		UserID:      "u1",
		TokenID:     "jti-1",
		Remaining:   time.Minute,
	}, deps)

	assert.Equal(t, LogoutFailureNone, res.Failure)
	assert.Equal(t, 2, res.Revoked)
	assert.Equal(t, "jti-1", deniedID)
	assert.Equal(t, time.Minute, deniedTTL)
	assert.Equal(t, "access", dropped)

	deps.DenyToken = func(context.Context, string, time.Duration) error { return errors.New("redis down") }
	res = RunLogout(context.Background(), LogoutInput{UserID: "u1", TokenID: "jti-2", Remaining: time.Minute}, deps)
	assert.Equal(t, LogoutFailureDeny, res.Failure)
}

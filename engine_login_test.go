package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/couponali/authcore/password"
)

func TestLoginIssuesUsablePair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, aliceEmail, alicePass)

	pair, err := env.engine.Login(ctx, "  Alice@Example.com ", alicePass, DeviceInfo{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.UserID != user.UserID || pair.FamilyID == "" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !pair.AccessExpiresAt.Equal(env.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(env.clock.Now().Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry %v", pair.RefreshExpiresAt)
	}

	access, err := env.engine.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if access.UserID != user.UserID || access.Role != "customer" || access.FamilyID != pair.FamilyID {
		t.Fatalf("unexpected access result: %+v", access)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected login success metric, got %d", snap.Counters[MetricLoginSuccess])
	}
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceEmail, alicePass)

	if _, err := env.engine.Login(ctx, aliceEmail, "wrong-pass-1", DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "nobody@example.com", alicePass, DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "", alicePass, DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty identifier, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != 2 {
		t.Fatalf("expected 2 login failures, got %d", got)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, aliceEmail, alicePass)
	env.users.setActive(user.UserID, false)

	if _, err := env.engine.Login(context.Background(), aliceEmail, alicePass, DeviceInfo{}); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), aliceEmail, "wrong-pass-1", DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong password on inactive user to stay ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.users.lookupErr = errors.New("db down")

	_, err := env.engine.Login(context.Background(), aliceEmail, alicePass, DeviceInfo{})
	if !errors.Is(err, ErrUserProviderUnavailable) {
		t.Fatalf("expected ErrUserProviderUnavailable, got %v", err)
	}
}

func TestLoginRateLimitDeniedCallerStaysDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceEmail, alicePass)

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Login(ctx, aliceEmail, "wrong-pass-1", DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(ctx, aliceEmail, alicePass, DeviceInfo{})
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError on 6th attempt, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected RateLimitedError to match ErrRateLimited")
	}
	if rl.ResetIn <= 0 || rl.ResetIn > 300*time.Second {
		t.Fatalf("unexpected ResetIn %v", rl.ResetIn)
	}
	if rl.RetryAfterSeconds() < 1 || rl.RetryAfterSeconds() > 300 {
		t.Fatalf("unexpected RetryAfterSeconds %d", rl.RetryAfterSeconds())
	}
	if rl.Scope != "login" || strings.Contains(err.Error(), aliceEmail) {
		t.Fatalf("expected identifier kept out of the error, got %q", err.Error())
	}

	if _, err := env.engine.Login(ctx, aliceEmail, alicePass, DeviceInfo{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected caller to stay denied, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "bob@example.com", "x", DeviceInfo{}); errors.Is(err, ErrRateLimited) {
		t.Fatal("expected other identifiers unaffected")
	}

	env.mr.FastForward(301 * time.Second)
	if _, err := env.engine.Login(ctx, aliceEmail, alicePass, DeviceInfo{}); err != nil {
		t.Fatalf("expected login after window reset, got %v", err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRateLimitHit]; got != 2 {
		t.Fatalf("expected 2 rate limit hits, got %d", got)
	}
}

func TestCheckRateLimitDecision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := env.engine.CheckRateLimit(ctx, "custom:k", 3, time.Minute)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
		if !d.Allowed || d.Count != int64(i) || d.Remaining != 3-i {
			t.Fatalf("hit %d: unexpected decision %+v", i, d)
		}
	}
	d, err := env.engine.CheckRateLimit(ctx, "custom:k", 3, time.Minute)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if d.Allowed || d.Remaining != 0 || d.ResetInSeconds() != 60 {
		t.Fatalf("expected denial with 60s reset, got %+v", d)
	}

	if _, err := env.engine.CheckRateLimit(ctx, "custom:k", 0, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero max, got %v", err)
	}
	if _, err := env.engine.CheckRateLimit(ctx, "", 1, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty scope, got %v", err)
	}
}

func TestRateLimitStatusDoesNotCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceEmail, alicePass)

	d, err := env.engine.RateLimitStatus(ctx, "login", "ALICE@example.com")
	if err != nil {
		t.Fatalf("RateLimitStatus failed: %v", err)
	}
	if !d.Allowed || d.Count != 0 || d.Remaining != 5 {
		t.Fatalf("unexpected idle status %+v", d)
	}

	for i := 0; i < 2; i++ {
		_, _ = env.engine.Login(ctx, aliceEmail, "wrong-pass-1", DeviceInfo{})
	}
	for i := 0; i < 3; i++ {
		d, err = env.engine.RateLimitStatus(ctx, "login", aliceEmail)
		if err != nil {
			t.Fatalf("RateLimitStatus failed: %v", err)
		}
		if d.Count != 2 || d.Remaining != 3 || !d.Allowed || d.ResetInSeconds() != 300 {
			t.Fatalf("read %d: unexpected status %+v", i, d)
		}
	}

	pair := env.login(t, aliceEmail, alicePass)
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	d, err = env.engine.RateLimitStatus(ctx, "refresh", pair.RefreshToken)
	if err != nil || d.Count != 1 || d.Remaining != 9 {
		t.Fatalf("unexpected refresh status %+v err=%v", d, err)
	}

	if _, err := env.engine.RateLimitStatus(ctx, "bogus", aliceEmail); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown policy, got %v", err)
	}
	if _, err := env.engine.RateLimitStatus(ctx, "otp", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty subject, got %v", err)
	}

	env.mr.Close()
	if _, err := env.engine.RateLimitStatus(ctx, "login", aliceEmail); !errors.Is(err, ErrRateLimitUnavailable) {
		t.Fatalf("expected ErrRateLimitUnavailable, got %v", err)
	}
}

func TestRateLimitBackendFailurePolicy(t *testing.T) {
	closed := newTestEnv(t)
	closed.mr.Close()

	if _, err := closed.engine.CheckRateLimit(context.Background(), "login:a", 5, time.Minute); !errors.Is(err, ErrRateLimitUnavailable) {
		t.Fatalf("expected fail-closed ErrRateLimitUnavailable, got %v", err)
	}
	if _, err := closed.engine.Login(context.Background(), aliceEmail, alicePass, DeviceInfo{}); !errors.Is(err, ErrRateLimitUnavailable) {
		t.Fatalf("expected login to fail closed, got %v", err)
	}
	if got := closed.engine.MetricsSnapshot().Counters[MetricRateLimitUnavailable]; got != 2 {
		t.Fatalf("expected 2 backend failures, got %d", got)
	}

	open := newTestEnv(t, func(cfg *Config) { cfg.RateLimit.FailOpen = true })
	open.mr.Close()

	d, err := open.engine.CheckRateLimit(context.Background(), "login:a", 5, time.Minute)
	if err != nil {
		t.Fatalf("expected fail-open to allow, got %v", err)
	}
	if !d.Allowed || d.Remaining != 5 {
		t.Fatalf("unexpected fail-open decision %+v", d)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.Login = RatePolicy{}
	})
	env.addUser(t, aliceEmail, alicePass)

	for i := 0; i < 8; i++ {
		if _, err := env.engine.Login(context.Background(), aliceEmail, "wrong-pass-1", DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
}

func TestRegisterCreatesAndSignsIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.engine.Register(ctx, RegisterInput{
		Email:    "Carol@Example.com",
		Mobile:   "9876543210",
		FullName: " Carol ",
		Password: "secret-pass-7",
	}, DeviceInfo{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	user, err := env.users.GetUserByID(ctx, pair.UserID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if user.Email != "carol@example.com" || user.Role != "customer" || user.FullName != "Carol" {
		t.Fatalf("unexpected stored user %+v", user)
	}
	if user.PasswordHash == "" || strings.Contains(user.PasswordHash, "secret-pass-7") {
		t.Fatal("expected hashed password")
	}

	if _, err := env.engine.Login(ctx, "9876543210", "secret-pass-7", DeviceInfo{}); err != nil {
		t.Fatalf("expected login by mobile, got %v", err)
	}

	_, err = env.engine.Register(ctx, RegisterInput{Email: "carol@example.com", Password: "secret-pass-7"}, DeviceInfo{})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRegisterSuccess] != 1 || snap.Counters[MetricRegisterDuplicate] != 1 {
		t.Fatalf("unexpected register metrics %+v", snap.Counters)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterInput{Password: "secret-pass-7"}, DeviceInfo{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without identifier, got %v", err)
	}
	for _, weak := range []string{"short1", "lettersonly", "1234567890"} {
		_, err := env.engine.Register(ctx, RegisterInput{Email: "dave@example.com", Password: weak}, DeviceInfo{})
		if !errors.Is(err, ErrPasswordPolicy) {
			t.Fatalf("expected ErrPasswordPolicy for %q, got %v", weak, err)
		}
	}
}

func TestRegisterKeepsExplicitRole(t *testing.T) {
	env := newTestEnv(t)
	pair, err := env.engine.Register(context.Background(), RegisterInput{
		Email:    "ops@example.com",
		Password: "secret-pass-7",
		Role:     "admin",
	}, DeviceInfo{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	access, err := env.engine.ValidateAccess(context.Background(), pair.AccessToken)
	if err != nil || access.Role != "admin" {
		t.Fatalf("expected admin role in token, got %+v err=%v", access, err)
	}
}

func TestLoginUpgradesWeakPasswordHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	weak, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	oldHash, err := weak.Hash(alicePass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user, err := env.users.CreateUser(ctx, CreateUserInput{Email: aliceEmail, Role: "customer", PasswordHash: oldHash})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.login(t, aliceEmail, alicePass)

	stored, _ := env.users.GetUserByID(ctx, user.UserID)
	if stored.PasswordHash == oldHash {
		t.Fatal("expected weak hash to be replaced on login")
	}
	ok, err := env.engine.hasher.Verify(alicePass, stored.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("upgraded hash does not verify: ok=%v err=%v", ok, err)
	}

	env.login(t, aliceEmail, alicePass)
	again, _ := env.users.GetUserByID(ctx, user.UserID)
	if again.PasswordHash != stored.PasswordHash {
		t.Fatal("current hash must not be rewritten")
	}
}

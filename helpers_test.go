package authcore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUserProvider struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string
	nextID       int
	lookupErr    error
}

func newMemUserProvider() *memUserProvider {
	return &memUserProvider{
		users:        map[string]UserRecord{},
		byIdentifier: map[string]string{},
	}
}

func (p *memUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return UserRecord{}, p.lookupErr
	}
	id, ok := p.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return p.users[id], nil
}

func (p *memUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return UserRecord{}, p.lookupErr
	}
	u, ok := p.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (p *memUserProvider) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ident := range []string{in.Email, in.Mobile} {
		if ident == "" {
			continue
		}
		if _, taken := p.byIdentifier[ident]; taken {
			return UserRecord{}, ErrAccountExists
		}
	}

	p.nextID++
	u := UserRecord{
		UserID:       "u-" + strconv.Itoa(p.nextID),
		Email:        in.Email,
		Mobile:       in.Mobile,
		FullName:     in.FullName,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		Active:       true,
	}
	p.users[u.UserID] = u
	for _, ident := range []string{in.Email, in.Mobile} {
		if ident != "" {
			p.byIdentifier[ident] = u.UserID
		}
	}
	return u, nil
}

func (p *memUserProvider) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	p.users[userID] = u
	return nil
}

func (p *memUserProvider) MarkVerified(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return p.lookupErr
	}
	u, ok := p.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Verified = true
	p.users[userID] = u
	return nil
}

func (p *memUserProvider) setActive(userID string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[userID]
	u.Active = active
	p.users[userID] = u
}

type recordingNotifier struct {
	mu       sync.Mutex
	otps     []string
	resets   []string
	verifies []string
}

func (n *recordingNotifier) SendOTP(_ context.Context, _, _, code string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.otps = append(n.otps, code)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, token)
	return nil
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, _, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifies = append(n.verifies, token)
	return nil
}

type testEnv struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	clock    *testClock
	users    *memUserProvider
	notifier *recordingNotifier
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSigningKey
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithSink(t, nil, mutate...)
}

func newTestEnvWithSink(t *testing.T, sink AuditSink, mutate ...func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		mr:       mr,
		rdb:      rdb,
		clock:    newTestClock(),
		users:    newMemUserProvider(),
		notifier: &recordingNotifier{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.users).
		WithNotifier(env.notifier).
		WithAuditSink(sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// addUser stores an active customer with the given password.
func (env *testEnv) addUser(t *testing.T, email, pass string) UserRecord {
	t.Helper()
	hash, err := env.engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u, err := env.users.CreateUser(context.Background(), CreateUserInput{
		Email:        email,
		Role:         "customer",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func (env *testEnv) login(t *testing.T, email, pass string) TokenPair {
	t.Helper()
	pair, err := env.engine.Login(context.Background(), email, pass, DeviceInfo{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return pair
}

package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/internal/audit"
	"github.com/couponali/authcore/internal/rate"
	"github.com/couponali/authcore/internal/stores"
	"github.com/couponali/authcore/jwt"
	"github.com/couponali/authcore/password"
	"github.com/couponali/authcore/refresh"
	"github.com/couponali/authcore/session"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	tokenStore   refresh.Store
	userProvider UserProvider
	hasher       Hasher
	notifier     Notifier
	auditSink    AuditSink
	logger       *slog.Logger
	clock        func() time.Time

	built bool
}

// New starts a Builder from DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for counters, challenges, the session
// cache and, unless WithTokenStore is used, refresh records.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenStore replaces the default Redis refresh record store, for
// example with refresh.PostgresStore.
func (b *Builder) WithTokenStore(store refresh.Store) *Builder {
	b.tokenStore = store
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithHasher replaces the default Argon2id hasher built from Config.Password.
func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every expiry decision the engine makes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		redis:    b.redis,
		users:    b.userProvider,
		notifier: b.notifier,
		logger:   logger,
		clock:    clock,
		newOTP:   internal.NewOTP,
	}

	// -------- STORES --------
	engine.tokens = b.tokenStore
	if engine.tokens == nil {
		engine.tokens = refresh.NewRedisStore(b.redis, cfg.Tokens.RedisPrefix, cfg.Tokens.RecordRetention)
	}
	engine.limiter = rate.New(b.redis, cfg.RateLimit.RedisPrefix)
	engine.otpStore = stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix, cfg.OTP.Retention)
	if cfg.PasswordReset.Enabled {
		engine.resetStore = stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix, cfg.PasswordReset.Retention)
	}
	if cfg.EmailVerify.Enabled {
		engine.verifyStore = stores.NewEmailVerificationStore(b.redis, cfg.EmailVerify.RedisPrefix, cfg.EmailVerify.Retention)
	}
	if cfg.SessionCache.Enabled {
		engine.sessions = session.NewCache(b.redis, cfg.SessionCache.RedisPrefix)
	}

	// -------- OBSERVABILITY --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- CRYPTO --------
	engine.hasher = b.hasher
	if engine.hasher == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
		})
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.hasher = ph
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cloneConfig(cfg).JWT.VerifyKeys,
		Now:           clock,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}

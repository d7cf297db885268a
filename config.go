package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	Tokens        TokensConfig
	JWT           JWTConfig
	OTP           OTPConfig
	PasswordReset PasswordResetConfig
	EmailVerify   EmailVerificationConfig
	RateLimit     RateLimitConfig
	SessionCache  SessionCacheConfig
	Password      PasswordConfig
	Audit         AuditConfig
	Metrics       MetricsConfig

	// OperationTimeout bounds every store round trip the engine makes.
	OperationTimeout time.Duration
}

/*
====================================
TOKENS CONFIG
====================================
*/

// TokensConfig controls refresh token issuance and rotation.
type TokensConfig struct {
	RefreshTTL time.Duration

	// ReuseGraceWindow, when > 0, lets a token rotated less than the window
	// ago fail with ErrTokenReused without revoking its family. Zero keeps
	// strict reuse detection.
	ReuseGraceWindow time.Duration

	// RecordRetention is how long a record outlives its expiry in the Redis
	// store, and the age past expiry PurgeExpiredTokens deletes at.
	RecordRetention time.Duration
	RedisPrefix     string
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// DenylistPrefix namespaces revoked access token ids in Redis.
	DenylistPrefix string
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int

	// Retention keeps an expired or consumed challenge long enough to report
	// it as such instead of not found.
	Retention   time.Duration
	RedisPrefix string
}

type PasswordResetConfig struct {
	Enabled     bool
	TTL         time.Duration
	Retention   time.Duration
	RedisPrefix string
}

// EmailVerificationConfig controls verification links. StatusTTL is how
// long a confirmed address is answered from Redis without asking the
// UserProvider.
type EmailVerificationConfig struct {
	Enabled     bool
	TTL         time.Duration
	Retention   time.Duration
	StatusTTL   time.Duration
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is a fixed-window budget: at most Max hits per Window.
type RatePolicy struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	Enabled bool

	// FailOpen allows requests through when the counter store is
	// unreachable. The default fails closed with ErrRateLimitUnavailable.
	FailOpen    bool
	RedisPrefix string

	Login         RatePolicy
	OTP           RatePolicy
	Refresh       RatePolicy
	Register      RatePolicy
	PasswordReset RatePolicy

	// EmailVerification throttles resends of the verification link.
	EmailVerification RatePolicy
}

type SessionCacheConfig struct {
	Enabled     bool
	RedisPrefix string
}

type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. JWT keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		Tokens: TokensConfig{
			RefreshTTL:       30 * 24 * time.Hour,
			ReuseGraceWindow: 0,
			RecordRetention:  7 * 24 * time.Hour,
			RedisPrefix:      "art",
		},
		JWT: JWTConfig{
			AccessTTL:      15 * time.Minute,
			SigningMethod:  "hs256",
			Leeway:         30 * time.Second,
			DenylistPrefix: "ard",
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			Retention:   10 * time.Minute,
			RedisPrefix: "aotp",
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			TTL:         15 * time.Minute,
			Retention:   time.Hour,
			RedisPrefix: "apr",
		},
		EmailVerify: EmailVerificationConfig{
			Enabled:     true,
			TTL:         24 * time.Hour,
			Retention:   time.Hour,
			StatusTTL:   300 * time.Second,
			RedisPrefix: "aev",
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			FailOpen:      false,
			RedisPrefix:   "arl",
			Login:         RatePolicy{Max: 5, Window: 300 * time.Second},
			OTP:           RatePolicy{Max: 5, Window: 300 * time.Second},
			Refresh:       RatePolicy{Max: 10, Window: 60 * time.Second},
			Register:      RatePolicy{Max: 5, Window: time.Hour},
			PasswordReset: RatePolicy{Max: 3, Window: 15 * time.Minute},

			EmailVerification: RatePolicy{Max: 1, Window: time.Minute},
		},
		SessionCache: SessionCacheConfig{
			Enabled:     true,
			RedisPrefix: "asc",
		},
		Password: PasswordConfig{
			Memory:           64 * 1024,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 128,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		OperationTimeout: 2 * time.Second,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate returns the first configuration violation, or nil.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.ReuseGraceWindow < 0 {
		return errors.New("Tokens ReuseGraceWindow must be >= 0")
	}
	if c.Tokens.ReuseGraceWindow > time.Minute {
		return errors.New("Tokens ReuseGraceWindow must be <= 1m")
	}
	if c.Tokens.RecordRetention < 0 {
		return errors.New("Tokens RecordRetention must be >= 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.Tokens.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than Tokens RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.Retention < 0 {
		return errors.New("OTP Retention must be >= 0")
	}

	// Password reset
	if c.PasswordReset.Enabled && c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}

	// Email verification
	if c.EmailVerify.Enabled {
		if c.EmailVerify.TTL <= 0 {
			return errors.New("EmailVerify TTL must be > 0")
		}
		if c.EmailVerify.Retention < 0 {
			return errors.New("EmailVerify Retention must be >= 0")
		}
		if c.EmailVerify.StatusTTL <= 0 {
			return errors.New("EmailVerify StatusTTL must be > 0")
		}
	}

	// Rate limits
	if c.RateLimit.Enabled {
		policies := []struct {
			name   string
			policy RatePolicy
		}{
			{"Login", c.RateLimit.Login},
			{"OTP", c.RateLimit.OTP},
			{"Refresh", c.RateLimit.Refresh},
			{"Register", c.RateLimit.Register},
			{"PasswordReset", c.RateLimit.PasswordReset},
			{"EmailVerification", c.RateLimit.EmailVerification},
		}
		for _, p := range policies {
			if p.policy.Max <= 0 || p.policy.Window <= 0 {
				return errors.New("RateLimit " + p.name + " policy must have Max > 0 and Window > 0")
			}
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if c.OperationTimeout <= 0 {
		return errors.New("OperationTimeout must be > 0")
	}

	return nil
}

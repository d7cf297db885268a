package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalid is returned for any token that fails signature or claim checks.
	ErrInvalid = errors.New("access token invalid")
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("access token expired")
)

// SigningMethod selects the JWS algorithm for access tokens.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Config configures a [Manager].
//
// For HS256 PrivateKey is the shared secret. For Ed25519 keys may be raw
// bytes or PEM. VerifyKeys enables key rotation by kid.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock for issuing and validating. Defaults to time.Now.
	Now func() time.Time
}

// Manager issues and verifies access tokens. Keys are decoded once in
// [NewManager]; a Manager is safe for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
	parser *jwt.Parser

	signKey   any
	verifyKey any
	byKID     map[string]any
}

// AccessClaims are the claims carried by an access token. Subject is the
// user ID and ID is a unique jti used for revocation.
type AccessClaims struct {
	Role     string `json:"role,omitempty"`
	FamilyID string `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *AccessClaims) UserID() string {
	return c.Subject
}

// Remaining returns how long the token stays valid after now.
func (c *AccessClaims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	left := c.ExpiresAt.Time.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// AccessParams is the input to [Manager.CreateAccess].
type AccessParams struct {
	UserID   string
	Role     string
	FamilyID string
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.AccessTTL <= 0:
		return nil, errors.New("access ttl must be > 0")
	case cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute:
		return nil, errors.New("leeway must be within [0, 2m]")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, byKID: make(map[string]any, len(cfg.VerifyKeys))}

	var decodeVerify func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
		decodeVerify = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}
		if m.verifyKey == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("ed25519 needs a public key or verify keys")
		}
		decodeVerify = func(b []byte) (any, error) { return parseEdPublicKey(b) }
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify keys contain an empty kid")
		}
		key, err := decodeVerify(raw)
		if err != nil {
			return nil, fmt.Errorf("verify key %q: %w", kid, err)
		}
		m.byKID[kid] = key
	}
	if cfg.KeyID != "" && len(m.byKID) > 0 {
		if _, ok := m.byKID[cfg.KeyID]; !ok {
			return nil, fmt.Errorf("key id %q missing from verify keys", cfg.KeyID)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// TTL returns the configured access token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.AccessTTL
}

// CreateAccess signs a new access token for p. Every token gets a fresh jti.
func (m *Manager) CreateAccess(p AccessParams) (string, *AccessClaims, error) {
	if p.UserID == "" {
		return "", nil, errors.New("access token requires a user id")
	}
	if m.signKey == nil {
		return "", nil, errors.New("manager has no signing key")
	}

	now := m.config.Now()
	claims := &AccessClaims{
		Role:     p.Role,
		FamilyID: p.FamilyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// ParseAccess checks signature, algorithm and registered claims. An iat in
// the future beyond Leeway is rejected. Errors wrap [ErrExpired] or
// [ErrInvalid].
func (m *Manager) ParseAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(raw, claims, m.lookupKey)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	case !token.Valid:
		return nil, ErrInvalid
	case claims.Subject == "" || claims.ID == "":
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalid)
	}
	return claims, nil
}

// lookupKey picks the verification key. With verify keys configured the kid
// header is mandatory.
func (m *Manager) lookupKey(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if len(m.byKID) > 0 {
		key, ok := m.byKID[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	if m.verifyKey == nil {
		return nil, errors.New("no verification key")
	}
	return m.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: wrong key type")
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: wrong key type")
	}
	return pub, nil
}

package password

import (
	"errors"
	"strings"
	"testing"
)

func cheapConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func mustHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := mustHasher(t, cheapConfig())

	encoded, err := h.Hash("winter-garden-42")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	ok, err := h.Verify("winter-garden-42", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("winter-garden-43", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}

	again, _ := h.Hash("winter-garden-42")
	if again == encoded {
		t.Fatal("expected a fresh salt per hash")
	}
}

func TestVerifyUsesStoredParameters(t *testing.T) {
	old := mustHasher(t, cheapConfig())
	encoded, err := old.Hash("winter-garden-42")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	stronger := cheapConfig()
	stronger.Time = 2
	stronger.KeyLength = 16
	ok, err := mustHasher(t, stronger).Verify("winter-garden-42", encoded)
	if err != nil || !ok {
		t.Fatalf("expected hash from older config to verify, ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	base := cheapConfig()
	encoded, err := mustHasher(t, base).Hash("winter-garden-42")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   bool
	}{
		{"same", func(*Config) {}, false},
		{"more memory", func(c *Config) { c.Memory *= 2 }, true},
		{"more time", func(c *Config) { c.Time++ }, true},
		{"more lanes", func(c *Config) { c.Parallelism++ }, true},
		{"different key length", func(c *Config) { c.KeyLength = 16 }, true},
		{"longer salt only", func(c *Config) { c.SaltLength = 32 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			got, err := mustHasher(t, cfg).NeedsUpgrade(encoded)
			if err != nil || got != tc.want {
				t.Fatalf("NeedsUpgrade = %v, %v; want %v", got, err, tc.want)
			}
		})
	}
}

func TestMalformedHashes(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	good, _ := h.Hash("winter-garden-42")
	parts := strings.Split(good, "$")

	with := func(i int, v string) string {
		cp := append([]string(nil), parts...)
		cp[i] = v
		return strings.Join(cp, "$")
	}

	bad := map[string]string{
		"empty":           "",
		"bcrypt":          "$2a$10$abcdefghijklmnopqrstuu",
		"wrong algorithm": with(1, "argon2i"),
		"wrong version":   with(2, "v=16"),
		"low memory":      with(3, "m=1024,t=1,p=1"),
		"zero time":       with(3, "m=8192,t=0,p=1"),
		"missing lanes":   with(3, "m=8192,t=1"),
		"repeated param":  with(3, "m=8192,m=8192,t=1"),
		"unknown param":   with(3, "m=8192,t=1,x=1"),
		"short salt":      with(4, "c2FsdA=="),
		"bad key base64":  with(5, "!!!"),
	}
	for name, encoded := range bad {
		t.Run(name, func(t *testing.T) {
			ok, err := h.Verify("winter-garden-42", encoded)
			if ok || !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("expected ErrMalformedHash, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestPasswordLengthBounds(t *testing.T) {
	cfg := cheapConfig()
	cfg.MaxPasswordBytes = 16
	h := mustHasher(t, cfg)

	for _, pw := range []string{"", "short7!", strings.Repeat("a", 17)} {
		if _, err := h.Hash(pw); !errors.Is(err, ErrPasswordLength) {
			t.Fatalf("Hash(%d bytes): expected ErrPasswordLength, got %v", len(pw), err)
		}
	}
	if _, err := h.Hash(strings.Repeat("a", 16)); err != nil {
		t.Fatalf("expected max length accepted, got %v", err)
	}

	encoded, _ := h.Hash("winter-garden-4")
	if _, err := h.Verify(strings.Repeat("a", 17), encoded); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("Verify: expected ErrPasswordLength, got %v", err)
	}
}

func TestDefaultMaxApplied(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	if _, err := h.Hash(strings.Repeat("a", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("expected %d bytes accepted, got %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := h.Hash(strings.Repeat("a", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("expected ErrPasswordLength, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	mutations := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
		"max bytes":   func(c *Config) { c.MaxPasswordBytes = 4 },
	}
	for name, mutate := range mutations {
		cfg := cheapConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := NewArgon2(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

const (
	refreshSecretBytes = 48
	resetIDBytes       = 16
	resetSecretBytes   = 32
)

var b64 = base64.RawURLEncoding

// ResetID locates a password reset record. It travels in the clear inside the
// reset token; only the secret half is hashed.
type ResetID [resetIDBytes]byte

func (r ResetID) String() string {
	return b64.EncodeToString(r[:])
}

func fill(dst []byte) error {
	if _, err := rand.Read(dst); err != nil {
		return fmt.Errorf("entropy source: %w", err)
	}
	return nil
}

func NewResetID() (ResetID, error) {
	var id ResetID
	return id, fill(id[:])
}

func NewResetSecret() ([resetSecretBytes]byte, error) {
	var secret [resetSecretBytes]byte
	return secret, fill(secret[:])
}

// NewRefreshToken returns an opaque refresh secret. Only its hash is stored.
func NewRefreshToken() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if err := fill(buf); err != nil {
		return "", err
	}
	return b64.EncodeToString(buf), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashOTP binds the code to its challenge so equal codes issued for
// different identifiers or purposes never share a hash.
func HashOTP(identifier, purpose, code string) string {
	sum := sha256.Sum256([]byte(purpose + "\x00" + identifier + "\x00" + code))
	return hex.EncodeToString(sum[:])
}

func HashResetSecret(secret [resetSecretBytes]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeResetToken packs id||secret into one URL-safe string.
func EncodeResetToken(id ResetID, secret [resetSecretBytes]byte) string {
	return b64.EncodeToString(append(id[:], secret[:]...))
}

// DecodeResetToken splits a token from EncodeResetToken back into the record
// key and the secret.
func DecodeResetToken(token string) (string, [resetSecretBytes]byte, error) {
	var (
		id     ResetID
		secret [resetSecretBytes]byte
	)
	raw, err := b64.DecodeString(token)
	if err != nil {
		return "", secret, fmt.Errorf("reset token encoding: %w", err)
	}
	if len(raw) != resetIDBytes+resetSecretBytes {
		return "", secret, errors.New("reset token has wrong length")
	}
	copy(id[:], raw[:resetIDBytes])
	copy(secret[:], raw[resetIDBytes:])
	return id.String(), secret, nil
}

// NewOTP returns a uniformly distributed numeric code of the given length,
// left-padded with zeros.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("otp length %d out of range", digits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("entropy source: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

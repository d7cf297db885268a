package password

import (
	"errors"
	"unicode"
)

// MinPasswordBytes is the shortest password accepted by Hash and
// CheckStrength.
const MinPasswordBytes = 8

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 128 characters")
	ErrPasswordNoLetter = errors.New("password must contain at least one letter")
	ErrPasswordNoDigit  = errors.New("password must contain at least one digit")
)

// CheckStrength applies the account password policy: 8 to 128 bytes with at
// least one letter and one digit.
func CheckStrength(password string) error {
	if len(password) < MinPasswordBytes {
		return ErrPasswordTooShort
	}
	if len(password) > DefaultMaxPasswordBytes {
		return ErrPasswordTooLong
	}

	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter {
		return ErrPasswordNoLetter
	}
	if !digit {
		return ErrPasswordNoDigit
	}
	return nil
}

// Package memusers is an in-process authcore.UserProvider for the demo
// server, the load generator and tests outside the root package.
package memusers

import (
	"context"
	"strconv"
	"sync"

	"github.com/couponali/authcore"
)

// Store keeps users in memory. Identifiers are matched exactly, so callers
// must pass the normalized email or phone the engine hands them.
type Store struct {
	mu           sync.RWMutex
	users        map[string]authcore.UserRecord
	byIdentifier map[string]string
	nextID       int
}

func New() *Store {
	return &Store{
		users:        map[string]authcore.UserRecord{},
		byIdentifier: map[string]string{},
	}
}

func (s *Store) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdentifier[identifier]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

// CreateUser stores an active user and indexes it by email and mobile.
func (s *Store) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range []string{in.Email, in.Mobile} {
		if ident == "" {
			continue
		}
		if _, taken := s.byIdentifier[ident]; taken {
			return authcore.UserRecord{}, authcore.ErrAccountExists
		}
	}

	s.nextID++
	u := authcore.UserRecord{
		UserID:       "usr_" + strconv.Itoa(s.nextID),
		Email:        in.Email,
		Mobile:       in.Mobile,
		FullName:     in.FullName,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		Active:       true,
	}
	s.users[u.UserID] = u
	if u.Email != "" {
		s.byIdentifier[u.Email] = u.UserID
	}
	if u.Mobile != "" {
		s.byIdentifier[u.Mobile] = u.UserID
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

// MarkVerified sets Verified on userID. Marking twice is not an error.
func (s *Store) MarkVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.Verified = true
	s.users[userID] = u
	return nil
}

// SetActive toggles whether userID may sign in.
func (s *Store) SetActive(userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.Active = active
	s.users[userID] = u
	return nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

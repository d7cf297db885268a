package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/couponali/authcore/internal"
	"github.com/couponali/authcore/password"
)

const defaultRole = "customer"

// RegisterInput is the data needed to create an account. At least one of
// Email and Mobile is required; Email is the primary identifier when both
// are set.
type RegisterInput struct {
	Email    string
	Mobile   string
	FullName string
	Password string
	Role     string
}

// Login verifies identifier and password and starts a new token family.
// Unknown identifiers and wrong passwords both return
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, identifier, pass string, device DeviceInfo) (TokenPair, error) {
	if e == nil || e.hasher == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	identifier = internal.NormalizeIdentifier(identifier)
	if identifier == "" || pass == "" {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err := e.enforceRateLimit(ctx, scopeLogin+identifier, e.config.RateLimit.Login); err != nil {
		return TokenPair{}, err
	}

	fail := func(subject auditSubject, err error) (TokenPair, error) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, subject, err, nil)
		return TokenPair{}, err
	}

	user, err := e.lookupUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fail(auditSubject{Identifier: identifier}, ErrInvalidCredentials)
		}
		return fail(auditSubject{Identifier: identifier}, err)
	}

	subject := auditSubject{UserID: user.UserID, Identifier: identifier}
	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return fail(subject, ErrInvalidCredentials)
	}
	if !user.Active {
		return fail(subject, ErrUserInactive)
	}
	e.rehashIfWeak(ctx, user, pass)

	return e.signIn(ctx, user, device, "password")
}

type upgradeChecker interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// rehashIfWeak re-encodes a verified password whose stored hash predates the
// current cost parameters. Failures are logged; sign-in proceeds either way.
func (e *Engine) rehashIfWeak(ctx context.Context, user UserRecord, pass string) {
	checker, ok := e.hasher.(upgradeChecker)
	if !ok {
		return
	}
	weak, err := checker.NeedsUpgrade(user.PasswordHash)
	if err != nil || !weak {
		return
	}

	hash, err := e.hasher.Hash(pass)
	if err != nil {
		e.warn("authcore: password rehash failed", "err", err)
		return
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.users.UpdatePasswordHash(opCtx, user.UserID, hash); err != nil {
		e.warn("authcore: storing upgraded password hash failed", "err", err)
	}
}

// Register creates an account through the UserProvider and signs it in.
func (e *Engine) Register(ctx context.Context, in RegisterInput, device DeviceInfo) (TokenPair, error) {
	if e == nil || e.hasher == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	email := internal.NormalizeIdentifier(in.Email)
	mobile := internal.NormalizeIdentifier(in.Mobile)
	identifier := email
	if identifier == "" {
		identifier = mobile
	}
	if identifier == "" {
		return TokenPair{}, fmt.Errorf("%w: email or mobile is required", ErrInvalidInput)
	}
	if err := e.enforceRateLimit(ctx, scopeRegister+identifier, e.config.RateLimit.Register); err != nil {
		return TokenPair{}, err
	}

	fail := func(err error) (TokenPair, error) {
		e.emitAudit(ctx, auditEventRegisterFailure, false, auditSubject{Identifier: identifier}, err, nil)
		return TokenPair{}, err
	}

	if err := password.CheckStrength(in.Password); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrPasswordPolicy, err))
	}
	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrPasswordPolicy, err))
	}

	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = defaultRole
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	user, err := e.users.CreateUser(opCtx, CreateUserInput{
		Email:        email,
		Mobile:       mobile,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			return fail(ErrAccountExists)
		}
		return fail(fmt.Errorf("%w: %v", ErrUserProviderUnavailable, err))
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, auditSubject{UserID: user.UserID}, nil, nil)

	return e.signIn(ctx, user, device, "register")
}

// signIn starts a new token family for user.
func (e *Engine) signIn(ctx context.Context, user UserRecord, device DeviceInfo, method string) (TokenPair, error) {
	issued, err := e.issueRefresh(ctx, user.UserID, device, "")
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return TokenPair{}, err
	}

	pair, err := e.completeSignIn(ctx, user, issued.RefreshToken, issued.Record.ExpiresAt, issued.Record.FamilyID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return TokenPair{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditSubject{UserID: user.UserID, FamilyID: pair.FamilyID}, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return pair, nil
}

func (e *Engine) lookupUser(ctx context.Context, identifier string) (UserRecord, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	user, err := e.users.GetUserByIdentifier(opCtx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrUserProviderUnavailable, err)
	}
	return user, nil
}

package app

import (
	"errors"
	"fmt"

	"docchat/internal/util"
	"docchat/pkg/auth"
	"docchat/pkg/domain"
	"docchat/pkg/policy"
	"docchat/pkg/store"
)

// Register creates a plain user account.
func (a *App) Register(email, password string) (domain.User, error) {
	return a.createUser(email, password, domain.RoleUser)
}

// Login checks credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByEmail(auth.NormalizeEmail(email))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Authenticate validates a session token.
func (a *App) Authenticate(token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, ErrUnauthenticated
	}
	sess, err := a.sessions.Validate(token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSession) {
			return domain.Session{}, ErrUnauthenticated
		}
		return domain.Session{}, fmt.Errorf("validate session: %w", err)
	}
	return sess, nil
}

// Logout discards a session. Without server-side revocation this only
// matters to the client, which drops its cookie.
func (a *App) Logout(token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.Revoke(token)
}

// ProvisionAdmin creates an admin account; only the root admin may do so.
func (a *App) ProvisionAdmin(actor policy.Actor, email, password string) (domain.User, error) {
	if !a.policy.Authorize(actor, policy.ActionProvisionAdmin, policy.Target{}) {
		return domain.User{}, ErrForbidden
	}
	return a.createUser(email, password, domain.RoleAdmin)
}

// SeedRootAdmin makes sure the root admin account exists. It reports whether
// an account was created; an existing non-admin account under the root email
// is a configuration error.
func (a *App) SeedRootAdmin() (bool, error) {
	email := a.policy.RootAdminEmail()
	existing, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return false, fmt.Errorf("fetch root admin: %w", err)
	}
	if ok {
		if existing.Role != domain.RoleAdmin {
			return false, fmt.Errorf("root admin email %q belongs to a %s account", email, existing.Role)
		}
		return false, nil
	}
	if _, err := a.createUser(email, a.rootPassword, domain.RoleAdmin); err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			// Another instance seeded it first.
			return false, nil
		}
		return false, fmt.Errorf("seed root admin: %w", err)
	}
	return true, nil
}

func (a *App) createUser(email, password string, role domain.UserRole) (domain.User, error) {
	email = auth.NormalizeEmail(email)
	if err := auth.ValidateEmail(email); err != nil {
		return domain.User{}, invalidInput("a valid email is required")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, invalidInput("password must be at least %d characters", auth.MinPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    a.timestamp(),
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailAlreadyExists
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

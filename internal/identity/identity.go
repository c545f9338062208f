// Package identity implements authentication, token issuance, and user
// management. It composes pkg/security's password and token primitives over
// pkg/storage, and is the only component that enforces the role rules.
package identity

import (
	"context"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/ratelimit"
	"github.com/ampguard/telemetry-core/pkg/security"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuthResult is returned from a successful authentication.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	User         types.User
}

// Service implements §4.2's identity and access operations.
type Service struct {
	store       storage.Store
	tokens      *security.TokenIssuer
	bcryptCost  int
	loginLimiter *ratelimit.Keyed
	logger      zerolog.Logger
}

// New builds an identity Service. loginPerMinute bounds authentication
// attempts per login name, independent of which caller is making them.
func New(store storage.Store, tokens *security.TokenIssuer, bcryptCost int, loginPerMinute int) *Service {
	return &Service{
		store:        store,
		tokens:       tokens,
		bcryptCost:   bcryptCost,
		loginLimiter: ratelimit.NewKeyed(loginPerMinute, loginPerMinute),
		logger:       log.WithComponent("identity"),
	}
}

// Authenticate verifies credentials and mints a token pair. Attempts are
// rate-limited per login name to blunt credential-stuffing against a single
// account without requiring a separate IP-based layer.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*AuthResult, error) {
	if !s.loginLimiter.Allow(login) {
		return nil, apperr.New(apperr.RateLimited, "too many login attempts, try again shortly")
	}

	user, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, apperr.New(apperr.Unauthorized, "invalid credentials")
		}
		return nil, err
	}

	if !security.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.New(apperr.Unauthorized, "invalid credentials")
	}
	if !user.Active {
		return nil, apperr.New(apperr.Unauthorized, "account is inactive")
	}

	return s.issueTokenPair(ctx, user)
}

func (s *Service) issueTokenPair(ctx context.Context, user *types.User) (*AuthResult, error) {
	access, _, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshExpiry, err := s.tokens.IssueRefreshToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      types.TokenRefresh,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: refreshExpiry,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	redacted := *user
	redacted.PasswordHash = ""

	return &AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		User:         redacted,
	}, nil
}

// Refresh mints a new access token from a still-valid refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int, error) {
	claims, err := s.tokens.ParseKind(refreshToken, types.TokenRefresh)
	if err != nil {
		return "", 0, err
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return "", 0, apperr.New(apperr.Unauthorized, "invalid refresh token")
		}
		return "", 0, err
	}
	if !user.Active {
		return "", 0, apperr.New(apperr.Unauthorized, "account is inactive")
	}

	access, _, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return "", 0, err
	}
	return access, int(s.tokens.AccessTTL().Seconds()), nil
}

// Resolved is the identity attached to an authenticated request.
type Resolved struct {
	UserID string
	Role   types.Role
}

// Resolve validates an access token and returns the caller's identity; it is
// invoked as middleware before every protected operation.
func (s *Service) Resolve(ctx context.Context, accessToken string) (*Resolved, error) {
	claims, err := s.tokens.ParseKind(accessToken, types.TokenAccess)
	if err != nil {
		return nil, err
	}
	return &Resolved{UserID: claims.Subject, Role: claims.Role}, nil
}

// CreateUser creates a new account. Admin-only; enforced by the API layer.
func (s *Service) CreateUser(ctx context.Context, login, email, password string, role types.Role) (*types.User, error) {
	hash, err := security.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &types.User{
		ID:           uuid.NewString(),
		Login:        login,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	redacted := *user
	redacted.PasswordHash = ""
	return &redacted, nil
}

// ListUsers returns a page of users with password hashes stripped.
func (s *Service) ListUsers(ctx context.Context, filter storage.UserFilter) ([]types.User, error) {
	users, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

// PatchUser fields; pass nil pointers for fields that should not change.
type PatchUser struct {
	Email  *string
	Role   *types.Role
	Active *bool
}

// UpdateUser applies a partial update to a user's email/role/active flag.
func (s *Service) UpdateUser(ctx context.Context, id string, patch PatchUser) (*types.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.Role != nil {
		user.Role = *patch.Role
	}
	if patch.Active != nil {
		user.Active = *patch.Active
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// DeleteUser removes a user account. Self-deletion (requesterID equal to id)
// is rejected here with a Validation error.
func (s *Service) DeleteUser(ctx context.Context, requesterID, id string) error {
	if requesterID == id {
		return apperr.New(apperr.Validation, "cannot delete your own account")
	}
	return s.store.DeleteUser(ctx, id)
}

// ChangePassword verifies the current password and rehashes the new one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < security.MinPasswordLength {
		return apperr.New(apperr.Validation, "password must be at least 8 characters")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !security.CheckPassword(user.PasswordHash, oldPassword) {
		return apperr.New(apperr.Unauthorized, "current password is incorrect")
	}

	hash, err := security.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return s.store.UpdateUser(ctx, user)
}

// CanMutateMasterData reports whether role may create/mutate sites, systems,
// strings, and batteries.
func CanMutateMasterData(role types.Role) bool {
	return role == types.RoleAdmin
}

// CanMutateUsers reports whether role may manage other user accounts.
func CanMutateUsers(role types.Role) bool {
	return role == types.RoleAdmin
}

// CanActOnAlerts reports whether role may acknowledge/resolve alerts and
// open live subscriptions.
func CanActOnAlerts(role types.Role) bool {
	return role == types.RoleEngineer || role == types.RoleAdmin
}

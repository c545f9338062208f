package api

import (
	"net/http"

	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/go-chi/chi/v5"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userDTO struct {
	ID     string `json:"id"`
	Login  string `json:"login"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

func toUserDTO(u types.User) userDTO {
	return userDTO{ID: u.ID, Login: u.Login, Email: u.Email, Role: string(u.Role), Active: u.Active}
}

type loginResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int     `json:"expires_in"`
	User         userDTO `json:"user"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(r, s.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.deps.Identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    result.ExpiresIn,
		User:         toUserDTO(result.User),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(r, s.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	access, expiresIn, err := s.deps.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access, TokenType: "bearer", ExpiresIn: expiresIn})
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleLogout is idempotent: access tokens are stateless JWTs honored
// until natural expiry (no revocation list in scope), so there is nothing
// server-side to invalidate beyond acknowledging the client's intent.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	resolved, _ := identityFrom(r.Context())
	user, err := s.deps.Store.GetUser(r.Context(), resolved.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	resolved, _ := identityFrom(r.Context())

	var req changePasswordRequest
	if err := decodeAndValidate(r, s.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.deps.Identity.ChangePassword(r.Context(), resolved.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "password changed"})
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r, 50, 1000)
	users, err := s.deps.Identity.ListUsers(r.Context(), storage.UserFilter{Skip: skip, Limit: limit})
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]userDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Login    string `json:"login" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin engineer viewer"`
}

func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeAndValidate(r, s.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.deps.Identity.CreateUser(r.Context(), req.Login, req.Email, req.Password, types.Role(req.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

type patchUserRequest struct {
	Email  *string `json:"email"`
	Role   *string `json:"role" validate:"omitempty,oneof=admin engineer viewer"`
	Active *bool   `json:"active"`
}

func (s *server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchUserRequest
	if err := decodeAndValidate(r, s.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	patch := identity.PatchUser{Email: req.Email, Active: req.Active}
	if req.Role != nil {
		role := types.Role(*req.Role)
		patch.Role = &role
	}

	user, err := s.deps.Identity.UpdateUser(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resolved, _ := identityFrom(r.Context())

	if err := s.deps.Identity.DeleteUser(r.Context(), resolved.UserID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

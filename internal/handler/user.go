package handler

import (
	"net/http"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/service"
)

// UserHandler serves the authenticated account's own profile.
type UserHandler struct {
	auth *service.AuthService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(auth *service.AuthService) *UserHandler {
	return &UserHandler{auth: auth}
}

// Me handles GET /api/auth/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	profile, err := h.auth.GetProfile(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, profile)
}

// ChangePassword handles POST /api/auth/change-password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.ChangePasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	if err := h.auth.ChangePassword(r.Context(), id, &req); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

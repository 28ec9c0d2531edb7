package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/service"
)

type AdminHandler struct {
	authSvc  *service.AuthService
	adminSvc *service.AdminService
}

func NewAdminHandler(authSvc *service.AuthService, adminSvc *service.AdminService) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, adminSvc: adminSvc}
}

// ListAccounts returns all accounts.
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.authSvc.ListAccounts(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, accounts)
}

// Grant credits tokens to an account. The request key makes retries safe.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	adminID, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.GrantRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.adminSvc.Grant(r.Context(), adminID, chi.URLParam(r, "id"), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

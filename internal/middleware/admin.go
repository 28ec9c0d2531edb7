package middleware

import (
	"net/http"

	"github.com/seoforge/backend/internal/contextkeys"
	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/handler"
)

// AdminOnly middleware ensures the caller has the admin role.
// Must be used AFTER Auth middleware, which puts the caller's role in the context.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contextkeys.Role(r.Context()) != domain.RoleAdmin {
			handler.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden: admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

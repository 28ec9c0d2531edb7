// Package contextkeys carries the authenticated caller through request contexts.
package contextkeys

import "context"

type contextKey string

const (
	accountIDKey    contextKey = "accountID"
	accountEmailKey contextKey = "accountEmail"
	accountRoleKey  contextKey = "accountRole"
)

// WithAccount returns a context that identifies the calling account.
func WithAccount(ctx context.Context, id, email, role string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, id)
	ctx = context.WithValue(ctx, accountEmailKey, email)
	return context.WithValue(ctx, accountRoleKey, role)
}

// AccountID returns the caller's account id, if the request was authenticated.
func AccountID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

// AccountEmail returns the caller's email.
func AccountEmail(ctx context.Context) string {
	email, _ := ctx.Value(accountEmailKey).(string)
	return email
}

// Role returns the caller's role, or "" when unauthenticated.
func Role(ctx context.Context) string {
	role, _ := ctx.Value(accountRoleKey).(string)
	return role
}

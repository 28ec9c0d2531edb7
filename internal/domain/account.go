package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// SubscriptionStatus is the lifecycle state of an account's recurring plan.
type SubscriptionStatus string

const (
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is embedded in Account; it is not a separate aggregate.
type Subscription struct {
	Status                  SubscriptionStatus `json:"status"`
	PlanID                  string             `json:"planId,omitempty"`
	PeriodEnd               *time.Time         `json:"periodEnd,omitempty"`
	ExternalSubscriptionRef string             `json:"-"`
}

// Account is a registered user together with its token balance and
// subscription state. Balance and Subscription are only mutated through the
// ledger engine.
type Account struct {
	ID                 string       `json:"id"`
	Email              string       `json:"email"`
	CredentialHash     string       `json:"-"` // bcrypt hash, never serialized
	Role               string       `json:"role"`
	Balance            int64        `json:"tokens"`
	PaymentCustomerRef string       `json:"-"`
	Subscription       Subscription `json:"subscription"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (a *Account) Clone() *Account {
	c := *a
	if a.Subscription.PeriodEnd != nil {
		t := *a.Subscription.PeriodEnd
		c.Subscription.PeriodEnd = &t
	}
	return &c
}

// NewAccountID generates a new UUID for an account.
func NewAccountID() string {
	return uuid.New().String()
}

// RegisterRequest is the validated input for creating an account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginRequest is the validated input for logging in.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// LoginResponse is the API response after successful login.
type LoginResponse struct {
	Token  string    `json:"token"`
	Tokens int64     `json:"tokens"`
	User   LoginUser `json:"user"`
}

// LoginUser is the user info returned after login.
type LoginUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ChangePasswordRequest is the validated input for rotating a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

// JWTClaims represents the JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ProfileResponse is the safe API response for an account.
type ProfileResponse struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Role         string       `json:"role"`
	Tokens       int64        `json:"tokens"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// ToProfile strips credential and payment references.
func (a *Account) ToProfile() *ProfileResponse {
	return &ProfileResponse{
		ID:           a.ID,
		Email:        a.Email,
		Role:         a.Role,
		Tokens:       a.Balance,
		Subscription: a.Subscription,
		CreatedAt:    a.CreatedAt,
	}
}

// GrantRequest is the admin input for a manual balance adjustment.
type GrantRequest struct {
	Amount int64  `json:"amount" validate:"required,min=1,max=100000"`
	Key    string `json:"key" validate:"required,min=8,max=128"`
	Reason string `json:"reason" validate:"max=500"`
}

// GrantResponse reports the balance after a manual grant. Applied is false
// when the key was used before and nothing changed.
type GrantResponse struct {
	AccountID string `json:"accountId"`
	Applied   bool   `json:"applied"`
	Tokens    int64  `json:"tokens"`
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
)

// AuthConfig configures the credential service.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminEmail    string
	AdminPassword string
	// SignupGrant is the balance a new account starts with.
	SignupGrant int64
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
}

// AuthService handles registration, login, JWT and account profiles.
type AuthService struct {
	cfg      AuthConfig
	accounts repository.AccountStore
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg AuthConfig, accounts repository.AccountStore) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &AuthService{cfg: cfg, accounts: accounts}
}

// SeedAdmin creates the default admin account if it doesn't exist.
func (s *AuthService) SeedAdmin(ctx context.Context) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		log.Info().Msg("Admin seed skipped, no admin credentials configured")
		return nil
	}
	email := normalizeEmail(s.cfg.AdminEmail)

	_, err := s.accounts.FindByEmail(ctx, email)
	if err == nil {
		log.Info().Str("email", email).Msg("Admin account already exists")
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}

	admin, err := s.newAccount(email, s.cfg.AdminPassword, domain.RoleAdmin, 0)
	if err != nil {
		return err
	}
	if err := s.accounts.Create(ctx, admin); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	log.Info().Str("email", email).Msg("Admin account created")
	return nil
}

// Register creates an account with the starting grant and logs it in.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.LoginResponse, error) {
	acc, err := s.newAccount(normalizeEmail(req.Email), req.Password, domain.RoleUser, s.cfg.SignupGrant)
	if err != nil {
		return nil, domain.ErrInternal("failed to hash password", err)
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrConflict("email already registered")
		}
		return nil, domain.ErrInternal("failed to create account", err)
	}

	log.Info().Str("accountID", acc.ID).Int64("grant", acc.Balance).Msg("Account registered")
	return s.issue(acc)
}

// Login validates credentials and returns a JWT token with the current balance.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.LoginResponse, error) {
	acc, err := s.accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUnauthorized("invalid credentials")
		}
		return nil, domain.ErrInternal("failed to find account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.CredentialHash), []byte(password)); err != nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}
	return s.issue(acc)
}

// VerifyToken validates a JWT token and returns the claims.
func (s *AuthService) VerifyToken(tokenStr string) (*domain.JWTClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}

	out := &domain.JWTClaims{
		Sub:   getClaimString(claims, "sub"),
		Email: getClaimString(claims, "email"),
		Role:  getClaimString(claims, "role"),
	}
	if out.Sub == "" {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}
	return out, nil
}

// GetProfile returns the account profile without credential data.
func (s *AuthService) GetProfile(ctx context.Context, id string) (*domain.ProfileResponse, error) {
	acc, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound("account not found")
		}
		return nil, domain.ErrInternal("failed to find account", err)
	}
	return acc.ToProfile(), nil
}

// ChangePassword rotates the credential after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, id string, req *domain.ChangePasswordRequest) error {
	acc, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrNotFound("account not found")
		}
		return domain.ErrInternal("failed to find account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.CredentialHash), []byte(req.CurrentPassword)); err != nil {
		return domain.ErrUnauthorized("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cfg.HashCost)
	if err != nil {
		return domain.ErrInternal("failed to hash password", err)
	}
	if err := s.accounts.UpdateCredentialHash(ctx, id, string(hash)); err != nil {
		return domain.ErrInternal("failed to update password", err)
	}
	return nil
}

// ListAccounts returns all accounts (admin only).
func (s *AuthService) ListAccounts(ctx context.Context) ([]*domain.ProfileResponse, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to list accounts", err)
	}

	out := make([]*domain.ProfileResponse, len(accounts))
	for i, a := range accounts {
		out[i] = a.ToProfile()
	}
	return out, nil
}

func (s *AuthService) newAccount(email, password, role string, balance int64) (*domain.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now().UTC()
	return &domain.Account{
		ID:             domain.NewAccountID(),
		Email:          email,
		CredentialHash: string(hash),
		Role:           role,
		Balance:        balance,
		Subscription:   domain.Subscription{Status: domain.SubscriptionInactive},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *AuthService) issue(acc *domain.Account) (*domain.LoginResponse, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   acc.ID,
		"email": acc.Email,
		"role":  acc.Role,
		"exp":   now.Add(s.cfg.TokenTTL).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, domain.ErrInternal("failed to sign token", err)
	}

	return &domain.LoginResponse{
		Token:  signed,
		Tokens: acc.Balance,
		User: domain.LoginUser{
			ID:    acc.ID,
			Email: acc.Email,
		},
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

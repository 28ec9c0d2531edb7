package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/ledger"
)

// AdminService performs operator actions that go through the ledger.
type AdminService struct {
	ledger *ledger.Engine
}

func NewAdminService(engine *ledger.Engine) *AdminService {
	return &AdminService{ledger: engine}
}

// Grant credits an account for manual reconciliation. Repeating a key is a
// no-op that reports the current balance.
func (s *AdminService) Grant(ctx context.Context, adminID, accountID string, req *domain.GrantRequest) (*domain.GrantResponse, error) {
	acc, err := s.ledger.Grant(ctx, accountID, req.Amount, req.Key)
	switch {
	case err == nil:
		log.Info().
			Str("adminID", adminID).
			Str("accountID", accountID).
			Int64("amount", req.Amount).
			Str("key", req.Key).
			Str("reason", req.Reason).
			Msg("Manual grant applied")
		return &domain.GrantResponse{AccountID: acc.ID, Applied: true, Tokens: acc.Balance}, nil

	case errors.Is(err, ledger.ErrAlreadyApplied):
		balance, err := s.ledger.Balance(ctx, accountID)
		if err != nil {
			return nil, ledgerError(err)
		}
		return &domain.GrantResponse{AccountID: accountID, Applied: false, Tokens: balance}, nil
	}
	return nil, ledgerError(err)
}

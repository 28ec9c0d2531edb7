package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/ledger"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/internal/repository/memstore"
	"github.com/seoforge/backend/pkg/payment"
)

const (
	testWebhookSecret = "whsec_service_test"
	priceBasic        = "price_basic"
	pricePro          = "price_pro"
	priceEnterprise   = "price_enterprise"
)

type testEnv struct {
	accounts *memstore.AccountStore
	articles *memstore.ArticleStore
	engine   *ledger.Engine
	payments *payment.MockGateway
	plans    *domain.PlanCatalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	accounts := memstore.NewAccountStore()
	return &testEnv{
		accounts: accounts,
		articles: memstore.NewArticleStore(),
		engine:   ledger.NewEngine(accounts),
		payments: payment.NewMockGateway(),
		plans:    domain.NewPlanCatalog(domain.DefaultPlans(priceBasic, pricePro, priceEnterprise)),
	}
}

func (e *testEnv) newAccount(t *testing.T, balance int64) string {
	t.Helper()
	now := time.Now().UTC()
	acc := &domain.Account{
		ID:           domain.NewAccountID(),
		Email:        domain.NewAccountID() + "@example.com",
		Role:         domain.RoleUser,
		Balance:      balance,
		Subscription: domain.Subscription{Status: domain.SubscriptionInactive},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.accounts.Create(context.Background(), acc))
	return acc.ID
}

func (e *testEnv) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := e.engine.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (e *testEnv) authService() *AuthService {
	return NewAuthService(AuthConfig{
		JWTSecret:     "test-secret",
		AdminEmail:    "admin@example.com",
		AdminPassword: "admin-password",
		SignupGrant:   5,
		HashCost:      bcrypt.MinCost,
	}, e.accounts)
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, code, appErr.Code, appErr.Error())
}

type stubExtractor struct {
	calls atomic.Int64
	err   error
}

func (s *stubExtractor) Extract(_ context.Context, url string) (*domain.HeadingTree, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.HeadingTree{
		Title: "Page title for " + url,
		H1:    "Main heading",
		H2s:   []string{"First section", "Second section"},
		H3s:   []string{"Detail"},
	}, nil
}

type stubGenerator struct {
	calls atomic.Int64
	err   error
	delay time.Duration

	mu    sync.Mutex
	trees []*domain.HeadingTree
}

func (s *stubGenerator) Generate(_ context.Context, tree *domain.HeadingTree) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	s.trees = append(s.trees, tree)
	s.mu.Unlock()
	return "# " + tree.H1 + "\n\n## " + strings.Join(tree.H2s, "\n\n## "), nil
}

// flakyArticles fails every Create.
type flakyArticles struct {
	*memstore.ArticleStore
	err error
}

func (f *flakyArticles) Create(context.Context, *domain.Article) error { return f.err }

// stuckReleases makes every compensating release fail.
type stuckReleases struct {
	*memstore.AccountStore
}

func (s *stuckReleases) Mutate(ctx context.Context, sel repository.Selector, eventID string, fn repository.MutateFunc) (*domain.Account, error) {
	if strings.HasPrefix(eventID, "release:") {
		return nil, context.DeadlineExceeded
	}
	return s.AccountStore.Mutate(ctx, sel, eventID, fn)
}

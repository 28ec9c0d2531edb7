package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/seoforge/backend/internal/config"
	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/handler"
	"github.com/seoforge/backend/internal/ledger"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/internal/repository/memstore"
	"github.com/seoforge/backend/internal/repository/mongostore"
	"github.com/seoforge/backend/internal/service"
	"github.com/seoforge/backend/pkg/llm"
	"github.com/seoforge/backend/pkg/payment"
	"github.com/seoforge/backend/pkg/scraper"
)

// stores bundles the persistence backend selected by STORE_DRIVER.
type stores struct {
	accounts repository.AccountStore
	articles repository.ArticleStore
	health   handler.Pinger
	migrate  func(ctx context.Context) error
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &stores{
			accounts: repository.NewAccountRepository(pool),
			articles: repository.NewArticleRepository(pool),
			health:   pool,
			migrate: func(ctx context.Context) error {
				return repository.RunMigrations(ctx, pool)
			},
			close: pool.Close,
		}, nil

	case config.DriverMongo:
		db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return &stores{
			accounts: db.Accounts(),
			articles: db.Articles(),
			health:   db,
			migrate:  db.Migrate,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := db.Close(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to disconnect from MongoDB")
				}
			},
		}, nil

	case config.DriverMemory:
		accounts := memstore.NewAccountStore()
		return &stores{
			accounts: accounts,
			articles: memstore.NewArticleStore(),
			health:   accounts,
			migrate:  func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

var _ handler.Pinger = (*pgxpool.Pool)(nil)

// payments picks the live processor when a secret key is configured and the
// in-process mock otherwise. Webhooks are always verified with the signing
// secret.
func newPayments(cfg *config.Config) (payment.Gateway, payment.EventVerifier) {
	stripeGW := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	if cfg.StripeWebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, payment webhooks will be rejected")
	}
	if cfg.PaymentsEnabled() {
		return stripeGW, stripeGW
	}
	log.Warn().Msg("STRIPE_SECRET_KEY not set, using mock payment gateway")
	return payment.NewMockGateway(), stripeGW
}

func newGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
		gen, err := llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMTimeout,
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
		return llm.NewAnthropicGenerator(llm.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMTimeout,
		}), nil
	}
}

// app holds the services behind the HTTP surface.
type app struct {
	cfg      *config.Config
	plans    *domain.PlanCatalog
	auth     *service.AuthService
	gen      *service.GenerationService
	billing  *service.BillingService
	webhooks *service.WebhookGateway
	admin    *service.AdminService
	health   map[string]handler.Pinger
}

// deps are the collaborators an app is assembled from.
type deps struct {
	accounts  repository.AccountStore
	articles  repository.ArticleStore
	extractor service.HeadingExtractor
	generator llm.Generator
	gateway   payment.Gateway
	verifier  payment.EventVerifier
	health    map[string]handler.Pinger
}

func newApp(cfg *config.Config, d deps) *app {
	plans := domain.NewPlanCatalog(domain.DefaultPlans(cfg.StripePriceBasic, cfg.StripePricePro, cfg.StripePriceEnt))
	engine := ledger.NewEngine(d.accounts)

	return &app{
		cfg:   cfg,
		plans: plans,
		auth: service.NewAuthService(service.AuthConfig{
			JWTSecret:     cfg.JWTSecret,
			TokenTTL:      cfg.JWTTTL,
			AdminEmail:    cfg.AdminEmail,
			AdminPassword: cfg.AdminPassword,
			SignupGrant:   cfg.SignupGrant,
		}, d.accounts),
		gen: service.NewGenerationService(engine, d.articles, d.extractor, d.generator),
		billing: service.NewBillingService(service.BillingConfig{
			FrontendURL:         cfg.FrontendURL,
			TokenUnitPriceCents: cfg.TokenUnitPriceCents,
			TokenMinPurchase:    cfg.TokenMinPurchase,
		}, engine, d.accounts, plans, d.gateway),
		webhooks: service.NewWebhookGateway(d.verifier, d.gateway, engine, plans, cfg.TokenUnitPriceCents),
		admin:    service.NewAdminService(engine),
		health:   d.health,
	}
}

func newScraper(cfg *config.Config) *scraper.Scraper {
	return scraper.New(scraper.Options{
		Timeout:   cfg.ScraperTimeout,
		UserAgent: cfg.ScraperUserAgent,
	})
}

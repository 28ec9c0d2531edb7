package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the account, ledger event and article tables.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id                      TEXT PRIMARY KEY,
			email                   TEXT NOT NULL UNIQUE,
			credential_hash         TEXT NOT NULL,
			role                    TEXT NOT NULL DEFAULT 'user',
			balance                 BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			payment_customer_ref    TEXT UNIQUE,
			subscription_status     TEXT NOT NULL DEFAULT 'inactive',
			subscription_plan       TEXT,
			subscription_period_end TIMESTAMPTZ,
			subscription_ref        TEXT,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_subscription_ref
			ON accounts(subscription_ref) WHERE subscription_ref IS NOT NULL;

		CREATE TABLE IF NOT EXISTS ledger_events (
			event_id   TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_events_account_id ON ledger_events(account_id);

		CREATE TABLE IF NOT EXISTS articles (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL REFERENCES accounts(id),
			title           TEXT NOT NULL,
			content         TEXT NOT NULL,
			source_url      TEXT NOT NULL,
			idempotency_key TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_articles_owner_created ON articles(owner_id, created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_owner_idempotency
			ON articles(owner_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

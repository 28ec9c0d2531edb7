package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seoforge/backend/internal/domain"
)

const accountColumns = `id, email, credential_hash, role, balance, payment_customer_ref,
	subscription_status, subscription_plan, subscription_period_end, subscription_ref,
	created_at, updated_at`

// AccountRepository is the PostgreSQL AccountStore.
type AccountRepository struct {
	db *pgxpool.Pool
}

var _ AccountStore = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, credential_hash, role, balance, subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.Email, a.CredentialHash, a.Role, a.Balance, string(a.Subscription.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindByEmail returns an account by email address.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// FindByID returns an account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// List returns all accounts ordered by creation date.
func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateCredentialHash replaces the stored password hash.
func (r *AccountRepository) UpdateCredentialHash(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET credential_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Mutate locks the selected row for the duration of one transaction, so
// concurrent mutations of the same account are serialized by Postgres.
func (r *AccountRepository) Mutate(ctx context.Context, sel Selector, eventID string, fn MutateFunc) (*domain.Account, error) {
	where, arg, err := selectorClause(sel)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where+` FOR UPDATE`, arg))
	if err != nil {
		return nil, err
	}

	if eventID != "" {
		var applied bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ledger_events WHERE event_id = $1)`, eventID).Scan(&applied); err != nil {
			return nil, fmt.Errorf("failed to check ledger event: %w", err)
		}
		if applied {
			return nil, ErrEventApplied
		}
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET
			balance = $1,
			subscription_status = $2,
			subscription_plan = $3,
			subscription_period_end = $4,
			subscription_ref = $5,
			updated_at = $6
		WHERE id = $7
	`,
		next.Balance,
		string(next.Subscription.Status),
		nullString(next.Subscription.PlanID),
		next.Subscription.PeriodEnd,
		nullString(next.Subscription.ExternalSubscriptionRef),
		next.UpdatedAt,
		next.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if eventID != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_events (event_id, account_id, applied_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (event_id) DO NOTHING
		`, eventID, next.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to record ledger event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrEventApplied
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit account update: %w", err)
	}
	return next, nil
}

// SetPaymentCustomerIfAbsent performs a conditional update so only the first
// writer's ref is kept.
func (r *AccountRepository) SetPaymentCustomerIfAbsent(ctx context.Context, id, ref string) (string, error) {
	var stored string
	err := r.db.QueryRow(ctx, `
		UPDATE accounts SET payment_customer_ref = $1, updated_at = NOW()
		WHERE id = $2 AND payment_customer_ref IS NULL
		RETURNING payment_customer_ref
	`, ref, id).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to set payment customer: %w", err)
	}

	var existing *string
	err = r.db.QueryRow(ctx, `SELECT payment_customer_ref FROM accounts WHERE id = $1`, id).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read payment customer: %w", err)
	}
	if existing == nil {
		return "", ErrConflict
	}
	return *existing, nil
}

func selectorClause(sel Selector) (string, string, error) {
	switch {
	case sel.AccountID != "":
		return "id = $1", sel.AccountID, nil
	case sel.CustomerRef != "":
		return "payment_customer_ref = $1", sel.CustomerRef, nil
	case sel.SubscriptionRef != "":
		return "subscription_ref = $1", sel.SubscriptionRef, nil
	}
	return "", "", fmt.Errorf("empty account selector")
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a           domain.Account
		status      string
		customerRef *string
		planID      *string
		periodEnd   *time.Time
		subRef      *string
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.CredentialHash, &a.Role, &a.Balance, &customerRef,
		&status, &planID, &periodEnd, &subRef,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Subscription.Status = domain.SubscriptionStatus(status)
	a.Subscription.PeriodEnd = periodEnd
	if customerRef != nil {
		a.PaymentCustomerRef = *customerRef
	}
	if planID != nil {
		a.Subscription.PlanID = *planID
	}
	if subRef != nil {
		a.Subscription.ExternalSubscriptionRef = *subRef
	}
	return &a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

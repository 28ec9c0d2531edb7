// Package ledger is the single authority for mutating account balances and
// subscription state. Every operation is one atomic per-account update in
// the underlying store; operations that carry an event id are idempotent.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
)

// Event id namespaces for operations that are not driven by processor events.
const (
	reservePrefix = "reserve:"
	releasePrefix = "release:"
	grantPrefix   = "grant:"
)

// Activation describes a subscription that just completed checkout.
type Activation struct {
	Account         repository.Selector
	SubscriptionRef string
	PlanID          string
	PeriodEnd       time.Time
	// Allotment is credited once, for the first paid period.
	Allotment int64
}

// Renewal describes a paid invoice for an existing subscription.
type Renewal struct {
	SubscriptionRef string
	PlanID          string
	PeriodEnd       time.Time
	Amount          int64
}

// PlanChange describes a subscription whose price was swapped at the processor.
type PlanChange struct {
	SubscriptionRef string
	PlanID          string
	PeriodEnd       time.Time
}

// CustomerFactory creates an external payment customer for acc and returns its ref.
type CustomerFactory func(ctx context.Context, acc *domain.Account) (string, error)

type Engine struct {
	store     repository.AccountStore
	customers singleflight.Group
}

func NewEngine(store repository.AccountStore) *Engine {
	return &Engine{store: store}
}

// Balance returns the current balance of an account.
func (e *Engine) Balance(ctx context.Context, accountID string) (int64, error) {
	acc, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return acc.Balance, nil
}

// ReserveAndConsume debits one unit if the balance is positive. The check and
// the decrement are a single atomic store update. Reusing a reservation id
// returns ErrAlreadyApplied.
func (e *Engine) ReserveAndConsume(ctx context.Context, accountID, reservationID string) (int64, error) {
	if reservationID == "" {
		return 0, fmt.Errorf("ledger: empty reservation id")
	}
	acc, err := e.mutate(ctx, repository.ByAccountID(accountID), reservePrefix+reservationID, func(a *domain.Account) error {
		if a.Balance <= 0 {
			return ErrInsufficientBalance
		}
		a.Balance--
		return nil
	})
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Release returns a unit taken by ReserveAndConsume. It is keyed by the same
// reservation id, so it applies at most once.
func (e *Engine) Release(ctx context.Context, accountID, reservationID string) (int64, error) {
	if reservationID == "" {
		return 0, fmt.Errorf("ledger: empty reservation id")
	}
	acc, err := e.mutate(ctx, repository.ByAccountID(accountID), releasePrefix+reservationID, func(a *domain.Account) error {
		a.Balance++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// CreditPurchase adds purchased units.
func (e *Engine) CreditPurchase(ctx context.Context, sel repository.Selector, amount int64, eventID string) (*domain.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return e.mutate(ctx, sel, eventID, func(a *domain.Account) error {
		a.Balance += amount
		return nil
	})
}

// Grant is a manual credit issued by an operator, idempotent per account and key.
func (e *Engine) Grant(ctx context.Context, accountID string, amount int64, key string) (*domain.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if key == "" {
		return nil, fmt.Errorf("ledger: empty grant key")
	}
	return e.mutate(ctx, repository.ByAccountID(accountID), grantPrefix+accountID+":"+key, func(a *domain.Account) error {
		a.Balance += amount
		return nil
	})
}

// ActivateSubscription moves an account to active after a completed
// subscription checkout and credits the first period's allotment.
// Re-activating the current subscription updates the period without
// crediting again. A past due account cannot switch to a new subscription.
func (e *Engine) ActivateSubscription(ctx context.Context, act Activation, eventID string) (*domain.Account, error) {
	if act.SubscriptionRef == "" {
		return nil, fmt.Errorf("%w: activation without subscription ref", ErrInvalidTransition)
	}
	if act.Allotment < 0 {
		return nil, ErrInvalidAmount
	}
	return e.mutate(ctx, act.Account, eventID, func(a *domain.Account) error {
		sub := &a.Subscription
		credit := act.Allotment

		switch sub.Status {
		case domain.SubscriptionActive:
			if sub.ExternalSubscriptionRef != act.SubscriptionRef {
				return fmt.Errorf("%w: account already has an active subscription", ErrInvalidTransition)
			}
			credit = 0
		case domain.SubscriptionPastDue:
			if sub.ExternalSubscriptionRef != act.SubscriptionRef {
				return fmt.Errorf("%w: account has a past due subscription", ErrInvalidTransition)
			}
			credit = 0
		case domain.SubscriptionInactive, domain.SubscriptionCanceled, "":
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, sub.Status)
		}

		sub.Status = domain.SubscriptionActive
		sub.ExternalSubscriptionRef = act.SubscriptionRef
		if act.PlanID != "" {
			sub.PlanID = act.PlanID
		}
		setPeriodEnd(sub, act.PeriodEnd)
		a.Balance += credit
		return nil
	})
}

// CreditSubscriptionRenewal applies a paid invoice: the subscription becomes
// active, plan and period are updated and the allotment is added to the
// existing balance.
func (e *Engine) CreditSubscriptionRenewal(ctx context.Context, r Renewal, eventID string) (*domain.Account, error) {
	if r.SubscriptionRef == "" {
		return nil, fmt.Errorf("%w: renewal without subscription ref", ErrInvalidTransition)
	}
	if r.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	return e.mutate(ctx, repository.BySubscriptionRef(r.SubscriptionRef), eventID, func(a *domain.Account) error {
		sub := &a.Subscription
		if sub.Status != domain.SubscriptionActive && sub.Status != domain.SubscriptionPastDue {
			return fmt.Errorf("%w: renewal from %s", ErrInvalidTransition, sub.Status)
		}
		sub.Status = domain.SubscriptionActive
		if r.PlanID != "" {
			sub.PlanID = r.PlanID
		}
		setPeriodEnd(sub, r.PeriodEnd)
		a.Balance += r.Amount
		return nil
	})
}

// ChangePlan records the plan the processor now bills the subscription at.
// The balance is not touched; the new allotment arrives with the next paid invoice.
func (e *Engine) ChangePlan(ctx context.Context, c PlanChange, eventID string) (*domain.Account, error) {
	if c.SubscriptionRef == "" || c.PlanID == "" {
		return nil, fmt.Errorf("%w: plan change without subscription or plan", ErrInvalidTransition)
	}
	return e.mutate(ctx, repository.BySubscriptionRef(c.SubscriptionRef), eventID, func(a *domain.Account) error {
		sub := &a.Subscription
		switch sub.Status {
		case domain.SubscriptionActive, domain.SubscriptionPastDue:
		default:
			return fmt.Errorf("%w: plan change from %s", ErrInvalidTransition, sub.Status)
		}
		sub.PlanID = c.PlanID
		setPeriodEnd(sub, c.PeriodEnd)
		return nil
	})
}

// MarkPastDue records a failed invoice. The balance is not touched.
func (e *Engine) MarkPastDue(ctx context.Context, sel repository.Selector, eventID string) (*domain.Account, error) {
	return e.mutate(ctx, sel, eventID, func(a *domain.Account) error {
		switch a.Subscription.Status {
		case domain.SubscriptionActive, domain.SubscriptionPastDue:
			a.Subscription.Status = domain.SubscriptionPastDue
			return nil
		}
		return fmt.Errorf("%w: past_due from %s", ErrInvalidTransition, a.Subscription.Status)
	})
}

// CancelSubscription ends the subscription and clears its external ref.
// Granted units stay on the balance.
func (e *Engine) CancelSubscription(ctx context.Context, sel repository.Selector, eventID string) (*domain.Account, error) {
	return e.mutate(ctx, sel, eventID, func(a *domain.Account) error {
		switch a.Subscription.Status {
		case domain.SubscriptionActive, domain.SubscriptionPastDue:
			a.Subscription.Status = domain.SubscriptionCanceled
			a.Subscription.ExternalSubscriptionRef = ""
			return nil
		}
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, a.Subscription.Status)
	})
}

// EnsurePaymentCustomer returns the account's payment customer ref, calling
// create at most once per concurrent burst. If another instance stored a ref
// first, the freshly created one is discarded and the stored ref returned.
// The shared call does not inherit the first caller's cancellation.
func (e *Engine) EnsurePaymentCustomer(ctx context.Context, accountID string, create CustomerFactory) (string, error) {
	acc, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		return "", mapStoreErr(err)
	}
	if acc.PaymentCustomerRef != "" {
		return acc.PaymentCustomerRef, nil
	}

	work := context.WithoutCancel(ctx)
	ch := e.customers.DoChan(accountID, func() (any, error) {
		acc, err := e.store.FindByID(work, accountID)
		if err != nil {
			return "", mapStoreErr(err)
		}
		if acc.PaymentCustomerRef != "" {
			return acc.PaymentCustomerRef, nil
		}

		created, err := create(work, acc)
		if err != nil {
			return "", err
		}
		stored, err := e.store.SetPaymentCustomerIfAbsent(work, accountID, created)
		if err != nil {
			return "", mapStoreErr(err)
		}
		if stored != created {
			log.Warn().
				Str("accountID", accountID).
				Str("kept", stored).
				Str("discarded", created).
				Msg("Concurrent payment customer creation, keeping stored ref")
		}
		return stored, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) mutate(ctx context.Context, sel repository.Selector, eventID string, fn repository.MutateFunc) (*domain.Account, error) {
	if sel.IsZero() {
		return nil, ErrAccountNotFound
	}
	acc, err := e.store.Mutate(ctx, sel, eventID, fn)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return acc, nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrEventApplied):
		return ErrAlreadyApplied
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: subscription ref bound to another account", ErrInvalidTransition)
	}
	return err
}

func setPeriodEnd(sub *domain.Subscription, end time.Time) {
	if end.IsZero() {
		return
	}
	t := end.UTC()
	sub.PeriodEnd = &t
}

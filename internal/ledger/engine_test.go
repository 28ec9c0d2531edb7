package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/internal/repository/memstore"
)

func newEngine(t *testing.T, balance int64) (*Engine, *memstore.AccountStore, string) {
	t.Helper()
	store := memstore.NewAccountStore()
	acc := &domain.Account{
		ID:           domain.NewAccountID(),
		Email:        "user@example.com",
		Role:         domain.RoleUser,
		Balance:      balance,
		Subscription: domain.Subscription{Status: domain.SubscriptionInactive},
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), acc))
	return NewEngine(store), store, acc.ID
}

func activate(t *testing.T, e *Engine, id, ref string) {
	t.Helper()
	_, err := e.ActivateSubscription(context.Background(), Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: ref,
		PlanID:          "pro",
		PeriodEnd:       time.Now().Add(30 * 24 * time.Hour),
		Allotment:       500,
	}, "evt_activate_"+ref)
	require.NoError(t, err)
}

func TestReserveAndConsume(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 2)

	bal, err := e.ReserveAndConsume(ctx, id, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)

	_, err = e.ReserveAndConsume(ctx, id, "r1")
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	bal, err = e.ReserveAndConsume(ctx, id, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestReserveAndConsumeZeroBalance(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	for i := 0; i < 3; i++ {
		_, err := e.ReserveAndConsume(ctx, id, fmt.Sprintf("r%d", i))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	}
	bal, err := e.Balance(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestReserveAndConsumeUnknownAccount(t *testing.T) {
	e, _, _ := newEngine(t, 1)
	_, err := e.ReserveAndConsume(context.Background(), "missing", "r1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestReserveAndConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	const start, callers = 10, 50
	e, _, id := newEngine(t, start)

	var ok, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.ReserveAndConsume(ctx, id, fmt.Sprintf("r%d", i))
			switch err {
			case nil:
				ok.Add(1)
			case ErrInsufficientBalance:
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(start), ok.Load())
	assert.Equal(t, int64(callers-start), insufficient.Load())
	bal, err := e.Balance(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 1)

	_, err := e.ReserveAndConsume(ctx, id, "r1")
	require.NoError(t, err)

	bal, err := e.Release(ctx, id, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)

	_, err = e.Release(ctx, id, "r1")
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	bal, _ = e.Balance(ctx, id)
	assert.Equal(t, int64(1), bal)
}

func TestCreditPurchaseIdempotent(t *testing.T) {
	ctx := context.Background()
	e, store, id := newEngine(t, 3)

	acc, err := e.CreditPurchase(ctx, repository.ByAccountID(id), 25, "evt_E1")
	require.NoError(t, err)
	assert.Equal(t, int64(28), acc.Balance)

	_, err = e.CreditPurchase(ctx, repository.ByAccountID(id), 25, "evt_E1")
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	bal, _ := e.Balance(ctx, id)
	assert.Equal(t, int64(28), bal)
	assert.True(t, store.EventApplied("evt_E1"))
}

func TestCreditPurchaseConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	var applied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.CreditPurchase(ctx, repository.ByAccountID(id), 25, "evt_dup"); err == nil {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), applied.Load())
	bal, _ := e.Balance(ctx, id)
	assert.Equal(t, int64(25), bal)
}

func TestCreditPurchaseValidation(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	_, err := e.CreditPurchase(ctx, repository.ByAccountID(id), 0, "evt_zero")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.CreditPurchase(ctx, repository.ByAccountID("nobody"), 5, "evt_x")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = e.CreditPurchase(ctx, repository.Selector{}, 5, "evt_y")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGrantIdempotentByKey(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	acc, err := e.Grant(ctx, id, 10, "support-1234")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)

	_, err = e.Grant(ctx, id, 10, "support-1234")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestGrantKeyIsScopedToAccount(t *testing.T) {
	ctx := context.Background()
	e, store, first := newEngine(t, 0)
	second := &domain.Account{
		ID:           domain.NewAccountID(),
		Email:        "other@example.com",
		Role:         domain.RoleUser,
		Subscription: domain.Subscription{Status: domain.SubscriptionInactive},
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.Create(ctx, second))

	_, err := e.Grant(ctx, first, 10, "campaign-2026")
	require.NoError(t, err)
	acc, err := e.Grant(ctx, second.ID, 10, "campaign-2026")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 5)

	activate(t, e, id, "sub_1")
	acc, err := e.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, acc.Subscription.Status)
	assert.Equal(t, "sub_1", acc.Subscription.ExternalSubscriptionRef)
	assert.Equal(t, int64(505), acc.Balance)

	acc, err = e.MarkPastDue(ctx, repository.BySubscriptionRef("sub_1"), "evt_fail")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPastDue, acc.Subscription.Status)
	assert.Equal(t, int64(505), acc.Balance)

	end := time.Now().Add(60 * 24 * time.Hour)
	acc, err = e.CreditSubscriptionRenewal(ctx, Renewal{
		SubscriptionRef: "sub_1",
		PlanID:          "pro",
		PeriodEnd:       end,
		Amount:          500,
	}, "evt_paid")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, acc.Subscription.Status)
	assert.Equal(t, int64(1005), acc.Balance)
	require.NotNil(t, acc.Subscription.PeriodEnd)
	assert.WithinDuration(t, end, *acc.Subscription.PeriodEnd, time.Second)

	acc, err = e.CancelSubscription(ctx, repository.BySubscriptionRef("sub_1"), "evt_deleted")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, acc.Subscription.Status)
	assert.Empty(t, acc.Subscription.ExternalSubscriptionRef)
	assert.Equal(t, int64(1005), acc.Balance)
}

func TestStaleRefDoesNotResurrectCanceled(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	activate(t, e, id, "sub_old")
	_, err := e.CancelSubscription(ctx, repository.BySubscriptionRef("sub_old"), "evt_cancel")
	require.NoError(t, err)

	_, err = e.MarkPastDue(ctx, repository.BySubscriptionRef("sub_old"), "evt_late_fail")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = e.CreditSubscriptionRenewal(ctx, Renewal{SubscriptionRef: "sub_old", Amount: 500}, "evt_late_paid")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	acc, err := e.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, acc.Subscription.Status)
	assert.Equal(t, int64(500), acc.Balance)
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	_, err := e.MarkPastDue(ctx, repository.ByAccountID(id), "evt_1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.CancelSubscription(ctx, repository.ByAccountID(id), "evt_2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	activate(t, e, id, "sub_a")
	_, err = e.ActivateSubscription(ctx, Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_b",
		Allotment:       100,
	}, "evt_3")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.CancelSubscription(ctx, repository.ByAccountID(id), "evt_4")
	require.NoError(t, err)
	_, err = e.CancelSubscription(ctx, repository.ByAccountID(id), "evt_5")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	bal, _ := e.Balance(ctx, id)
	assert.Equal(t, int64(500), bal)
}

func TestReactivateAfterCancel(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	activate(t, e, id, "sub_1")
	_, err := e.CancelSubscription(ctx, repository.ByAccountID(id), "evt_cancel")
	require.NoError(t, err)
	activate(t, e, id, "sub_2")

	acc, err := e.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, acc.Subscription.Status)
	assert.Equal(t, "sub_2", acc.Subscription.ExternalSubscriptionRef)
	assert.Equal(t, int64(1000), acc.Balance)
}

func TestReactivateSameRefDoesNotCreditTwice(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	activate(t, e, id, "sub_1")
	_, err := e.ActivateSubscription(ctx, Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_1",
		Allotment:       500,
	}, "evt_second_checkout")
	require.NoError(t, err)

	bal, _ := e.Balance(ctx, id)
	assert.Equal(t, int64(500), bal)
}

func TestPastDueCannotSwitchSubscription(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 100)

	activate(t, e, id, "sub_A")
	_, err := e.MarkPastDue(ctx, repository.BySubscriptionRef("sub_A"), "evt_fail")
	require.NoError(t, err)

	_, err = e.ActivateSubscription(ctx, Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_B",
		PlanID:          "enterprise",
		Allotment:       2000,
	}, "evt_activate_sub_B")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	acc, err := e.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPastDue, acc.Subscription.Status)
	assert.Equal(t, "sub_A", acc.Subscription.ExternalSubscriptionRef)
	assert.Equal(t, int64(600), acc.Balance)

	// The retried invoice on the original subscription still lands.
	acc, err = e.CreditSubscriptionRenewal(ctx, Renewal{SubscriptionRef: "sub_A", PlanID: "pro", Amount: 500}, "evt_paid_retry")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, acc.Subscription.Status)
	assert.Equal(t, int64(1100), acc.Balance)
}

func TestPastDueReactivateSameRef(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	activate(t, e, id, "sub_A")
	_, err := e.MarkPastDue(ctx, repository.ByAccountID(id), "evt_fail")
	require.NoError(t, err)

	acc, err := e.ActivateSubscription(ctx, Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_A",
		Allotment:       500,
	}, "evt_late_checkout")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, acc.Subscription.Status)
	assert.Equal(t, int64(500), acc.Balance)
}

func TestChangePlan(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	activate(t, e, id, "sub_1")
	acc, err := e.ChangePlan(ctx, PlanChange{SubscriptionRef: "sub_1", PlanID: "enterprise"}, "evt_updated")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", acc.Subscription.PlanID)
	assert.Equal(t, int64(500), acc.Balance)

	_, err = e.ChangePlan(ctx, PlanChange{SubscriptionRef: "sub_1", PlanID: "basic"}, "evt_updated")
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	_, err = e.CancelSubscription(ctx, repository.ByAccountID(id), "evt_cancel")
	require.NoError(t, err)
	_, err = e.ChangePlan(ctx, PlanChange{SubscriptionRef: "sub_1", PlanID: "pro"}, "evt_late_update")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSubscriptionRefUniqueAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	e, store, id := newEngine(t, 0)
	other := &domain.Account{ID: domain.NewAccountID(), Email: "other@example.com", Subscription: domain.Subscription{Status: domain.SubscriptionInactive}}
	require.NoError(t, store.Create(ctx, other))

	activate(t, e, id, "sub_shared")
	_, err := e.ActivateSubscription(ctx, Activation{
		Account:         repository.ByAccountID(other.ID),
		SubscriptionRef: "sub_shared",
	}, "evt_other")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEnsurePaymentCustomerConcurrent(t *testing.T) {
	ctx := context.Background()
	e, _, id := newEngine(t, 0)

	var calls atomic.Int64
	create := func(ctx context.Context, acc *domain.Account) (string, error) {
		n := calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return fmt.Sprintf("cus_%d", n), nil
	}

	refs := make([]string, 10)
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := e.EnsurePaymentCustomer(ctx, id, create)
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, ref := range refs {
		assert.Equal(t, "cus_1", ref)
	}

	ref, err := e.EnsurePaymentCustomer(ctx, id, create)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", ref)
	assert.Equal(t, int64(1), calls.Load())
}

func TestEnsurePaymentCustomerKeepsStoredRef(t *testing.T) {
	ctx := context.Background()
	e, store, id := newEngine(t, 0)

	create := func(ctx context.Context, acc *domain.Account) (string, error) {
		// Another instance wins the race while this one talks to the processor.
		_, err := store.SetPaymentCustomerIfAbsent(ctx, acc.ID, "cus_winner")
		require.NoError(t, err)
		return "cus_loser", nil
	}

	ref, err := e.EnsurePaymentCustomer(ctx, id, create)
	require.NoError(t, err)
	assert.Equal(t, "cus_winner", ref)
}

func TestEnsurePaymentCustomerSurvivesFirstCallerCancel(t *testing.T) {
	e, _, id := newEngine(t, 0)

	started := make(chan struct{})
	proceed := make(chan struct{})
	createErr := make(chan error, 1)
	create := func(ctx context.Context, acc *domain.Account) (string, error) {
		close(started)
		<-proceed
		createErr <- ctx.Err()
		return "cus_shared", nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := e.EnsurePaymentCustomer(firstCtx, id, create)
		firstDone <- err
	}()
	<-started

	type result struct {
		ref string
		err error
	}
	secondDone := make(chan result, 1)
	go func() {
		ref, err := e.EnsurePaymentCustomer(context.Background(), id, create)
		secondDone <- result{ref, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	close(proceed)
	assert.NoError(t, <-createErr)
	second := <-secondDone
	require.NoError(t, second.err)
	assert.Equal(t, "cus_shared", second.ref)

	acc, err := e.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "cus_shared", acc.PaymentCustomerRef)
}

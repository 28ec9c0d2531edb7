package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoforge/backend/internal/ledger"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/pkg/payment"
)

func newBilling(env *testEnv) *BillingService {
	return NewBillingService(BillingConfig{
		FrontendURL:         "https://app.example.com/",
		TokenUnitPriceCents: 20,
		TokenMinPurchase:    25,
	}, env.engine, env.accounts, env.plans, env.payments)
}

func TestCreateCheckoutSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)

	resp, err := svc.CreateCheckoutSession(ctx, id, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/success?session_id="+resp.SessionID, resp.URL)

	_, err = svc.CreateCheckoutSession(ctx, id, "gold")
	requireCode(t, err, http.StatusBadRequest)

	acc, err := env.accounts.FindByID(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, acc.PaymentCustomerRef)
	assert.Equal(t, 1, env.payments.Customers())
}

func TestCreateCheckoutSessionRejectsActiveSubscriber(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)

	_, err := env.engine.ActivateSubscription(ctx, ledger.Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_1",
		PlanID:          "basic",
	}, "evt_1")
	require.NoError(t, err)

	_, err = svc.CreateCheckoutSession(ctx, id, "pro")
	requireCode(t, err, http.StatusConflict)
}

func TestConcurrentCheckoutsCreateOneCustomer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateTokenPurchaseSession(ctx, id, 50)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.payments.Customers())
	assert.Len(t, env.payments.Checkouts(), 8)
}

func TestCreateTokenPurchaseSessionMinimum(t *testing.T) {
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)

	_, err := svc.CreateTokenPurchaseSession(context.Background(), id, 24)
	requireCode(t, err, http.StatusUnprocessableEntity)
	assert.Zero(t, env.payments.Customers())
}

func TestCheckoutProcessorFailure(t *testing.T) {
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)
	env.payments.Err = errors.New("stripe down")

	_, err := svc.CreateTokenPurchaseSession(context.Background(), id, 30)
	requireCode(t, err, http.StatusBadGateway)
}

func TestGetSubscriptionStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 7)

	status, err := svc.GetSubscriptionStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "inactive", string(status.Status))
	assert.Equal(t, int64(7), status.Tokens)

	remote := payment.MockSubscription("sub_1", priceBasic, 10*24*time.Hour)
	env.payments.PutSubscription(remote)
	_, err = env.engine.ActivateSubscription(ctx, ledger.Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_1",
		PlanID:          "basic",
		PeriodEnd:       time.Now().Add(24 * time.Hour),
		Allotment:       100,
	}, "evt_1")
	require.NoError(t, err)

	status, err = svc.CancelSubscription(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.CancelAtPeriodEnd)
	assert.Equal(t, "active", string(status.Status))

	status, err = svc.GetSubscriptionStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "basic", status.Plan)
	assert.True(t, status.CancelAtPeriodEnd)
	require.NotNil(t, status.CurrentPeriodEnd)
	assert.Equal(t, remote.CurrentPeriodEnd, *status.CurrentPeriodEnd)
	assert.Equal(t, int64(107), status.Tokens)

	// Processor outage falls back to local state.
	env.payments.Err = errors.New("timeout")
	status, err = svc.GetSubscriptionStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, status.CancelAtPeriodEnd)
	assert.Equal(t, "active", string(status.Status))
}

func TestCancelSubscriptionWithoutSubscription(t *testing.T) {
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)

	_, err := svc.CancelSubscription(context.Background(), id)
	requireCode(t, err, http.StatusBadRequest)
}

func TestCreateCheckoutSessionRejectsPastDueSubscriber(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)
	id := env.newAccount(t, 0)

	_, err := env.engine.ActivateSubscription(ctx, ledger.Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_1",
		PlanID:          "basic",
	}, "evt_1")
	require.NoError(t, err)
	_, err = env.engine.MarkPastDue(ctx, repository.BySubscriptionRef("sub_1"), "evt_2")
	require.NoError(t, err)

	_, err = svc.CreateCheckoutSession(ctx, id, "pro")
	requireCode(t, err, http.StatusConflict)
	assert.Empty(t, env.payments.Checkouts())
}

func activeSubscriber(t *testing.T, env *testEnv, planID, priceRef string) string {
	t.Helper()
	id := env.newAccount(t, 0)
	env.payments.PutSubscription(payment.MockSubscription("sub_"+id, priceRef, 30*24*time.Hour))
	_, err := env.engine.ActivateSubscription(context.Background(), ledger.Activation{
		Account:         repository.ByAccountID(id),
		SubscriptionRef: "sub_" + id,
		PlanID:          planID,
		Allotment:       100,
	}, "evt_activate_"+id)
	require.NoError(t, err)
	return id
}

func TestUpgradeSubscription(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)
	id := activeSubscriber(t, env, "basic", priceBasic)

	status, err := svc.UpgradeSubscription(ctx, id, "pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", status.Plan)
	assert.Equal(t, "active", string(status.Status))

	remote, err := env.payments.GetSubscription(ctx, "sub_"+id)
	require.NoError(t, err)
	assert.Equal(t, pricePro, remote.PriceRef)

	// Local plan and balance only move through webhooks.
	acc, err := env.accounts.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "basic", acc.Subscription.PlanID)
	assert.Equal(t, int64(100), acc.Balance)
}

func TestUpgradeSubscriptionRejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newBilling(env)

	none := env.newAccount(t, 0)
	_, err := svc.UpgradeSubscription(ctx, none, "pro")
	requireCode(t, err, http.StatusBadRequest)

	pro := activeSubscriber(t, env, "pro", pricePro)
	_, err = svc.UpgradeSubscription(ctx, pro, "pro")
	requireCode(t, err, http.StatusBadRequest)
	_, err = svc.UpgradeSubscription(ctx, pro, "basic")
	requireCode(t, err, http.StatusBadRequest)
	_, err = svc.UpgradeSubscription(ctx, pro, "gold")
	requireCode(t, err, http.StatusBadRequest)

	pastDue := activeSubscriber(t, env, "basic", priceBasic)
	_, err = env.engine.MarkPastDue(ctx, repository.ByAccountID(pastDue), "evt_fail_"+pastDue)
	require.NoError(t, err)
	_, err = svc.UpgradeSubscription(ctx, pastDue, "enterprise")
	requireCode(t, err, http.StatusConflict)

	env.payments.Err = errors.New("processor down")
	_, err = svc.UpgradeSubscription(ctx, pro, "enterprise")
	requireCode(t, err, http.StatusBadGateway)
}

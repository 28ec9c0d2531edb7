package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
)

func TestCASBackoffBounds(t *testing.T) {
	for n := 1; n <= maxCASAttempts; n++ {
		d := casBackoff(n)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, casMaxDelay, "attempt %d", n)
	}
	assert.LessOrEqual(t, casBackoff(1), casBaseDelay)
	assert.GreaterOrEqual(t, casBackoff(maxCASAttempts), casMaxDelay/2)
}

func TestSleepCtxHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Minute), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), time.Microsecond))
}

func TestSelectorFilter(t *testing.T) {
	f, err := selectorFilter(repository.BySubscriptionRef("sub_1"))
	require.NoError(t, err)
	assert.Equal(t, "sub_1", f["subscription.ref"])

	_, err = selectorFilter(repository.Selector{})
	assert.Error(t, err)
}

// testDB connects to MONGODB_TEST_URI, skipping when it is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, uri, fmt.Sprintf("seoforge_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() {
		_ = db.db.Drop(context.Background())
		_ = db.Close(context.Background())
	})
	return db
}

func TestMutateSerializesHotAccount(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := db.Accounts()

	acc := &domain.Account{
		ID:           domain.NewAccountID(),
		Email:        "hot@example.com",
		Role:         domain.RoleUser,
		Balance:      20,
		Subscription: domain.Subscription{Status: domain.SubscriptionInactive},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, acc))

	errInsufficient := errors.New("insufficient")
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		debited  int
		rejected int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Mutate(ctx, repository.ByAccountID(acc.ID), fmt.Sprintf("reserve:%d", i), func(a *domain.Account) error {
				if a.Balance <= 0 {
					return errInsufficient
				}
				a.Balance--
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				debited++
			case errors.Is(err, errInsufficient):
				rejected++
			default:
				t.Errorf("unexpected mutate error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, debited)
	assert.Equal(t, 10, rejected)
	got, err := store.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)

	_, err = store.Mutate(ctx, repository.ByAccountID(acc.ID), "reserve:0", func(a *domain.Account) error { return nil })
	assert.ErrorIs(t, err, repository.ErrEventApplied)
}

package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/ledger"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/testutil"
)

type fakeStore struct {
	fetchErr       error
	purchaseErr    error
	syncErr        error
	updates        chan model.Transaction
	purchaseResult model.PurchaseResult
	products       []model.Product
	entitlements   []model.Transaction
	unfinished     []model.Transaction
	finished       []string
	syncCalls      int
	mu             sync.Mutex
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		updates: make(chan model.Transaction, 8),
		products: []model.Product{
			{ID: "fitcheck.credits.100", DisplayName: "100 Credits", DisplayPrice: "$14.99"},
			{ID: "fitcheck.credits.10", DisplayName: "10 Credits", DisplayPrice: "$2.99"},
			{ID: "fitcheck.credits.30", DisplayName: "30 Credits", DisplayPrice: "$6.99"},
		},
	}
}

func (f *fakeStore) FetchProducts(_ context.Context, _ []string) ([]model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.Product(nil), f.products...), nil
}

func (f *fakeStore) Purchase(_ context.Context, _ string) (model.PurchaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purchaseResult, f.purchaseErr
}

func (f *fakeStore) CurrentEntitlements(_ context.Context) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Transaction(nil), f.entitlements...), nil
}

func (f *fakeStore) TransactionUpdates(ctx context.Context) (<-chan model.Transaction, error) {
	out := make(chan model.Transaction)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case txn := <-f.updates:
				select {
				case out <- txn:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeStore) Unfinished(_ context.Context) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Transaction(nil), f.unfinished...), nil
}

func (f *fakeStore) Finish(_ context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, transactionID)
	return nil
}

func (f *fakeStore) Sync(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return f.syncErr
}

func (f *fakeStore) finishedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finished...)
}

func verifiedTxn(id, productID string) model.Transaction {
	return model.Transaction{
		ID:           id,
		OriginalID:   id,
		ProductID:    productID,
		Verification: model.Verified,
		PurchasedAt:  time.Now(),
	}
}

func setup(t *testing.T, freeCredits int) (*Coordinator, *fakeStore, *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()

	db := testutil.SetupTestDB(t)

	l, err := ledger.Open(ctx, db, ledger.Config{FreeCredits: freeCredits}, nil)
	require.NoError(t, err)

	products, err := NewProductMap(DefaultProducts)
	require.NoError(t, err)

	store := newFakeStore()
	c, err := NewCoordinator(store, l, products, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, store, l
}

func TestLoadCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("sorts ascending by credits", func(t *testing.T) {
		c, _, _ := setup(t, 0)

		products, err := c.LoadCatalog(ctx)
		require.NoError(t, err)
		require.Len(t, products, 3)
		assert.Equal(t, []int{10, 30, 100}, []int{products[0].Credits, products[1].Credits, products[2].Credits})
		assert.True(t, products[1].Popular)
		assert.True(t, products[2].BestValue)
		assert.Equal(t, CatalogReady, c.CatalogState())
	})

	t.Run("failure keeps previous catalog", func(t *testing.T) {
		c, store, _ := setup(t, 0)

		_, err := c.LoadCatalog(ctx)
		require.NoError(t, err)

		store.fetchErr = common.ErrNetwork
		_, err = c.LoadCatalog(ctx)
		require.ErrorIs(t, err, common.ErrCatalogUnavailable)
		require.ErrorIs(t, err, common.ErrNetwork)
		assert.True(t, common.IsRetryable(err))

		assert.Len(t, c.Catalog(), 3)
		assert.Equal(t, CatalogReady, c.CatalogState())
	})

	t.Run("failure with no previous catalog goes back to idle", func(t *testing.T) {
		c, store, _ := setup(t, 0)
		store.fetchErr = errors.New("boom")

		_, err := c.LoadCatalog(ctx)
		require.ErrorIs(t, err, common.ErrCatalogUnavailable)
		assert.Empty(t, c.Catalog())
		assert.Equal(t, CatalogIdle, c.CatalogState())
	})

	t.Run("unknown products are dropped", func(t *testing.T) {
		c, store, _ := setup(t, 0)
		store.products = append(store.products, model.Product{ID: "someone.else"})

		products, err := c.LoadCatalog(ctx)
		require.NoError(t, err)
		assert.Len(t, products, 3)
	})
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()

	t.Run("verified purchase credits once and finishes", func(t *testing.T) {
		c, store, l := setup(t, 3)
		store.purchaseResult = model.PurchaseResult{
			Status:      model.PurchaseSucceeded,
			Transaction: ptr(verifiedTxn("tx-1", "fitcheck.credits.10")),
		}

		outcome, err := c.Purchase(ctx, "fitcheck.credits.10")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCredited, outcome.Kind)
		assert.Equal(t, 10, outcome.Credits)
		assert.False(t, outcome.AlreadyGranted)
		assert.Equal(t, 13, l.Remaining())
		assert.Equal(t, []string{"tx-1"}, store.finishedIDs())
		assert.True(t, c.Entitlements().Contains("fitcheck.credits.10"))
		assert.Equal(t, PurchaseIdle, c.PurchaseState())
	})

	t.Run("unverified purchase fails without credit", func(t *testing.T) {
		c, store, l := setup(t, 3)
		txn := verifiedTxn("tx-2", "fitcheck.credits.10")
		txn.Verification = model.Unverified
		txn.UnverifiedReason = "bad signature"
		store.purchaseResult = model.PurchaseResult{Status: model.PurchaseSucceeded, Transaction: &txn}

		outcome, err := c.Purchase(ctx, "fitcheck.credits.10")
		require.ErrorIs(t, err, common.ErrPurchaseFailed)
		require.ErrorIs(t, err, common.ErrVerification)
		assert.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, ReasonVerification, outcome.Reason)
		assert.Equal(t, 3, l.Remaining())
		assert.Empty(t, store.finishedIDs())
	})

	t.Run("cancelled and pending do not touch the ledger", func(t *testing.T) {
		c, store, l := setup(t, 3)

		store.purchaseResult = model.PurchaseResult{Status: model.PurchaseUserCancelled}
		outcome, err := c.Purchase(ctx, "fitcheck.credits.30")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, outcome.Kind)

		store.purchaseResult = model.PurchaseResult{Status: model.PurchasePending}
		outcome, err = c.Purchase(ctx, "fitcheck.credits.30")
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome.Kind)

		assert.Equal(t, 3, l.Remaining())
		assert.Empty(t, store.finishedIDs())
	})

	t.Run("provider errors are classified", func(t *testing.T) {
		tests := []struct {
			err    error
			name   string
			reason FailureReason
		}{
			{name: "network", err: common.ErrNetwork, reason: ReasonNetwork},
			{name: "deadline", err: context.DeadlineExceeded, reason: ReasonNetwork},
			{name: "not found", err: common.ErrProductNotFound, reason: ReasonNotFound},
			{name: "verification", err: common.ErrVerification, reason: ReasonVerification},
			{name: "unknown", err: errors.New("store exploded"), reason: ReasonUnknown},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c, store, l := setup(t, 1)
				store.purchaseErr = tt.err

				outcome, err := c.Purchase(ctx, "fitcheck.credits.10")
				require.ErrorIs(t, err, common.ErrPurchaseFailed)
				assert.Equal(t, OutcomeFailed, outcome.Kind)
				assert.Equal(t, tt.reason, outcome.Reason)
				assert.Equal(t, 1, l.Remaining())
			})
		}
	})

	t.Run("unknown product never reaches the store", func(t *testing.T) {
		c, store, _ := setup(t, 0)
		store.purchaseErr = errors.New("should not be called")

		outcome, err := c.Purchase(ctx, "fitcheck.credits.9000")
		require.ErrorIs(t, err, common.ErrProductNotFound)
		assert.Equal(t, ReasonNotFound, outcome.Reason)
	})
}

func TestPurchaseAndListenerCreditOnce(t *testing.T) {
	ctx := context.Background()
	c, store, l := setup(t, 0)

	changes, unsubscribe := c.Subscribe()
	defer unsubscribe()

	txn := verifiedTxn("tx-dup", "fitcheck.credits.10")
	store.purchaseResult = model.PurchaseResult{Status: model.PurchaseSucceeded, Transaction: &txn}

	require.NoError(t, c.Start(ctx))

	outcome, err := c.Purchase(ctx, "fitcheck.credits.10")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome.Kind)

	// The same transaction arrives again through the update stream.
	store.updates <- txn
	// A second, different transaction proves the first was processed.
	store.updates <- verifiedTxn("tx-next", "fitcheck.credits.30")

	require.Eventually(t, func() bool {
		return l.Remaining() == 40
	}, 2*time.Second, 10*time.Millisecond)

	waitForOutcome(t, changes, "tx-next")
	assert.Equal(t, 40, l.Remaining())
	assert.ElementsMatch(t, []string{"tx-dup", "tx-dup", "tx-next"}, store.finishedIDs())
}

func TestListener(t *testing.T) {
	ctx := context.Background()

	t.Run("unverified updates are discarded", func(t *testing.T) {
		c, store, l := setup(t, 0)
		require.NoError(t, c.Start(ctx))

		bad := verifiedTxn("tx-bad", "fitcheck.credits.100")
		bad.Verification = model.Unverified
		store.updates <- bad
		store.updates <- verifiedTxn("tx-good", "fitcheck.credits.10")

		require.Eventually(t, func() bool {
			return len(store.finishedIDs()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 10, l.Remaining())
		assert.Equal(t, []string{"tx-good"}, store.finishedIDs())
		assert.False(t, c.Entitlements().Contains("fitcheck.credits.100"))
	})

	t.Run("revocations remove the entitlement", func(t *testing.T) {
		c, store, l := setup(t, 0)
		require.NoError(t, c.Start(ctx))

		store.updates <- verifiedTxn("tx-1", "fitcheck.credits.30")
		require.Eventually(t, func() bool {
			return c.Entitlements().Contains("fitcheck.credits.30")
		}, 2*time.Second, 10*time.Millisecond)

		revoked := verifiedTxn("tx-1", "fitcheck.credits.30")
		now := time.Now()
		revoked.RevokedAt = &now
		store.updates <- revoked

		require.Eventually(t, func() bool {
			return !c.Entitlements().Contains("fitcheck.credits.30")
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 30, l.Remaining())
	})

	t.Run("unfinished transactions are credited before start returns", func(t *testing.T) {
		c, store, l := setup(t, 0)
		store.unfinished = []model.Transaction{
			verifiedTxn("tx-offline", "fitcheck.credits.30"),
			verifiedTxn("tx-offline", "fitcheck.credits.30"),
		}

		require.NoError(t, c.Start(ctx))
		assert.Equal(t, 30, l.Remaining())
		assert.True(t, c.Entitlements().Contains("fitcheck.credits.30"))
		assert.Equal(t, []string{"tx-offline", "tx-offline"}, store.finishedIDs())
	})

	t.Run("starts exactly once and stops on close", func(t *testing.T) {
		c, _, _ := setup(t, 0)

		require.NoError(t, c.Start(ctx))
		require.ErrorIs(t, c.Start(ctx), ErrListenerRunning)

		done := make(chan struct{})
		go func() {
			c.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
		}
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("reinstall restores entitlements without crediting", func(t *testing.T) {
		c, store, l := setup(t, 0)
		store.entitlements = []model.Transaction{
			verifiedTxn("tx-1", "fitcheck.credits.10"),
			verifiedTxn("tx-2", "fitcheck.credits.30"),
			verifiedTxn("tx-3", "fitcheck.credits.100"),
		}

		summary, err := c.Restore(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, store.syncCalls)
		assert.Equal(t, 3, c.Entitlements().Len())
		assert.Len(t, summary.Products, 3)
		assert.Equal(t, 140, summary.TotalCredits)
		assert.Equal(t, 0, l.Remaining())
	})

	t.Run("does not duplicate credits granted by the original purchase", func(t *testing.T) {
		c, store, l := setup(t, 0)
		txn := verifiedTxn("tx-1", "fitcheck.credits.10")
		store.purchaseResult = model.PurchaseResult{Status: model.PurchaseSucceeded, Transaction: &txn}

		_, err := c.Purchase(ctx, "fitcheck.credits.10")
		require.NoError(t, err)
		require.Equal(t, 10, l.Remaining())

		store.entitlements = []model.Transaction{txn}
		summary, err := c.Restore(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Entitlements().Len())
		assert.Equal(t, 10, summary.TotalCredits)
		assert.Equal(t, 10, l.Remaining())
	})

	t.Run("unverified and revoked entitlements are skipped", func(t *testing.T) {
		c, store, _ := setup(t, 0)
		unverified := verifiedTxn("tx-u", "fitcheck.credits.10")
		unverified.Verification = model.Unverified
		revoked := verifiedTxn("tx-r", "fitcheck.credits.30")
		now := time.Now()
		revoked.RevokedAt = &now
		store.entitlements = []model.Transaction{unverified, revoked, verifiedTxn("tx-ok", "fitcheck.credits.100")}

		summary, err := c.Restore(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Unverified)
		assert.Equal(t, []string{"fitcheck.credits.100"}, summary.Products)
	})

	t.Run("sync failure surfaces", func(t *testing.T) {
		c, store, _ := setup(t, 0)
		store.syncErr = common.ErrNetwork

		_, err := c.Restore(ctx)
		require.ErrorIs(t, err, common.ErrPurchaseFailed)
		require.ErrorIs(t, err, common.ErrNetwork)
	})
}

func TestCreditBalanceWalkthrough(t *testing.T) {
	ctx := context.Background()
	c, store, l := setup(t, 3)

	require.NoError(t, l.Debit(ctx, 1, "session"))
	assert.Equal(t, 2, l.Remaining())

	require.NoError(t, l.Refund(ctx, 1, "session"))
	assert.Equal(t, 3, l.Remaining())

	store.purchaseResult = model.PurchaseResult{
		Status:      model.PurchaseSucceeded,
		Transaction: ptr(verifiedTxn("tx-10", "fitcheck.credits.10")),
	}
	_, err := c.Purchase(ctx, "fitcheck.credits.10")
	require.NoError(t, err)
	assert.Equal(t, 13, l.Remaining())
}

func TestNewProductMap(t *testing.T) {
	tests := []struct {
		name    string
		specs   []ProductSpec
		wantErr bool
	}{
		{name: "defaults", specs: DefaultProducts},
		{name: "empty", specs: nil, wantErr: true},
		{name: "missing id", specs: []ProductSpec{{Credits: 5}}, wantErr: true},
		{name: "zero credits", specs: []ProductSpec{{ID: "a"}}, wantErr: true},
		{name: "duplicate", specs: []ProductSpec{{ID: "a", Credits: 1}, {ID: "a", Credits: 2}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewProductMap(tt.specs)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"fitcheck.credits.10", "fitcheck.credits.30", "fitcheck.credits.100"}, m.IDs())
		})
	}
}

func waitForOutcome(t *testing.T, events <-chan Event, transactionID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Outcome != nil && ev.Outcome.TransactionID == transactionID {
				return
			}
		case <-deadline:
			t.Fatalf("no outcome event for %s", transactionID)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

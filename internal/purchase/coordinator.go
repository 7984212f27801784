// Package purchase sells credit packs through a store provider and converts
// verified store transactions into ledger credits exactly once.
//
// Crediting has one path: Coordinator.grant, used by both the synchronous
// purchase result and the background transaction listener. Restore never
// credits; it only rebuilds the entitlement set.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/events"
	"github.com/Veraticus/fitcheck/internal/metrics"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
)

// ErrListenerRunning is returned when Start is called twice.
var ErrListenerRunning = errors.New("transaction listener already running")

// Ledger is the part of the credit ledger the coordinator writes to.
type Ledger interface {
	CreditTransaction(ctx context.Context, transactionID string, amount int) (bool, error)
}

// CatalogState tracks product catalog loading.
type CatalogState string

// Catalog states.
const (
	CatalogIdle    CatalogState = "idle"
	CatalogLoading CatalogState = "loading-catalog"
	CatalogReady   CatalogState = "catalog-ready"
)

// PurchaseState tracks the purchase sub-flow.
type PurchaseState string

// Purchase states.
const (
	PurchaseIdle       PurchaseState = "idle"
	PurchaseInProgress PurchaseState = "purchasing"
)

// OutcomeKind is the result of a purchase attempt.
type OutcomeKind string

// Purchase outcomes. Cancelled and pending are not errors.
const (
	OutcomeCredited  OutcomeKind = "credited"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomePending   OutcomeKind = "pending"
	OutcomeFailed    OutcomeKind = "failed"
)

// FailureReason classifies failed purchases.
type FailureReason string

// Failure reasons.
const (
	ReasonNotFound     FailureReason = "not-found"
	ReasonNetwork      FailureReason = "network"
	ReasonVerification FailureReason = "verification"
	ReasonUnknown      FailureReason = "unknown"
)

// Outcome describes how a purchase ended.
type Outcome struct {
	Kind          OutcomeKind
	Reason        FailureReason
	ProductID     string
	TransactionID string
	Credits       int
	// AlreadyGranted is set when the listener credited the transaction first.
	AlreadyGranted bool
}

// RestoreSummary describes the entitlements found by Restore.
type RestoreSummary struct {
	Products     []string
	Transactions int
	TotalCredits int
	Unverified   int
}

// Event is published whenever catalog or purchase state changes.
type Event struct {
	Catalog  CatalogState
	Purchase PurchaseState
	Outcome  *Outcome
}

// Coordinator orchestrates catalog loading, purchases, restores and the
// transaction update listener.
type Coordinator struct {
	store        service.StoreProvider
	ledger       Ledger
	products     *ProductMap
	entitlements *EntitlementStore
	logger       *slog.Logger
	events       *events.Broadcaster[Event]

	catalog       []model.Product
	catalogState  CatalogState
	purchaseState PurchaseState

	listenerCancel context.CancelFunc
	listenerDone   chan struct{}

	mu         sync.RWMutex
	purchaseMu sync.Mutex
}

// NewCoordinator creates a coordinator. Call Start to run the transaction listener.
func NewCoordinator(store service.StoreProvider, ledger Ledger, products *ProductMap, logger *slog.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store provider is required", common.ErrMissingConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger is required", common.ErrMissingConfig)
	}
	if products == nil {
		return nil, fmt.Errorf("%w: product map is required", common.ErrMissingConfig)
	}

	return &Coordinator{
		store:         store,
		ledger:        ledger,
		products:      products,
		entitlements:  NewEntitlementStore(),
		logger:        common.LoggerOrDefault(logger),
		events:        events.NewBroadcaster[Event](events.DefaultBuffer),
		catalogState:  CatalogIdle,
		purchaseState: PurchaseIdle,
	}, nil
}

// Subscribe returns a channel of state events and a func to stop receiving them.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe()
}

// Catalog returns the last successfully loaded catalog.
func (c *Coordinator) Catalog() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Product(nil), c.catalog...)
}

// CatalogState returns the catalog loading state.
func (c *Coordinator) CatalogState() CatalogState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalogState
}

// PurchaseState returns the purchase sub-flow state.
func (c *Coordinator) PurchaseState() PurchaseState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.purchaseState
}

// Entitlements returns the owned product set.
func (c *Coordinator) Entitlements() *EntitlementStore {
	return c.entitlements
}

// LoadCatalog fetches the known products and sorts them ascending by credits.
// On failure the previous catalog stays in place and common.ErrCatalogUnavailable is returned.
func (c *Coordinator) LoadCatalog(ctx context.Context) ([]model.Product, error) {
	c.setCatalogState(CatalogLoading)

	fetched, err := c.store.FetchProducts(ctx, c.products.IDs())
	if err == nil && len(fetched) == 0 {
		err = fmt.Errorf("%w: store returned no products", common.ErrProductNotFound)
	}
	if err != nil {
		c.restoreCatalogState()
		c.logger.Warn("failed to load product catalog", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrCatalogUnavailable, err)
	}

	products := make([]model.Product, 0, len(fetched))
	for _, p := range fetched {
		spec, ok := c.products.Spec(p.ID)
		if !ok {
			c.logger.Warn("store returned unknown product", "product_id", p.ID)
			continue
		}
		p.Credits = spec.Credits
		p.Popular = spec.Popular
		p.BestValue = spec.BestValue
		products = append(products, p)
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Credits < products[j].Credits
	})

	c.mu.Lock()
	c.catalog = products
	c.catalogState = CatalogReady
	c.mu.Unlock()
	c.publish(nil)

	c.logger.Info("loaded product catalog", "products", len(products))
	return append([]model.Product(nil), products...), nil
}

// Purchase buys productID. A verified transaction is credited exactly once
// and finished; unverified, cancelled and pending results never touch the ledger.
// The returned error is non-nil exactly when the outcome kind is OutcomeFailed.
func (c *Coordinator) Purchase(ctx context.Context, productID string) (Outcome, error) {
	c.purchaseMu.Lock()
	defer c.purchaseMu.Unlock()

	c.setPurchaseState(PurchaseInProgress)
	outcome, err := c.purchase(ctx, productID)
	c.setPurchaseStateWithOutcome(PurchaseIdle, &outcome)

	metrics.RecordPurchaseOutcome(string(outcome.Kind))
	if err != nil {
		c.logger.Warn("purchase failed",
			"product_id", productID,
			"reason", outcome.Reason,
			"error", err)
	}
	return outcome, err
}

func (c *Coordinator) purchase(ctx context.Context, productID string) (Outcome, error) {
	outcome := Outcome{ProductID: productID}

	if _, ok := c.products.Credits(productID); !ok {
		return failed(outcome, ReasonNotFound, fmt.Errorf("%w: %s", common.ErrProductNotFound, productID))
	}

	result, err := c.store.Purchase(ctx, productID)
	if err != nil {
		return failed(outcome, classifyStoreError(err), err)
	}

	switch result.Status {
	case model.PurchaseUserCancelled:
		outcome.Kind = OutcomeCancelled
		return outcome, nil
	case model.PurchasePending:
		outcome.Kind = OutcomePending
		c.logger.Info("purchase pending external approval", "product_id", productID)
		return outcome, nil
	case model.PurchaseSucceeded:
	default:
		return failed(outcome, ReasonUnknown, fmt.Errorf("unexpected purchase status %q", result.Status))
	}

	txn := result.Transaction
	if txn == nil {
		return failed(outcome, ReasonUnknown, errors.New("store reported success without a transaction"))
	}
	outcome.TransactionID = txn.ID
	outcome.ProductID = txn.ProductID

	if !txn.IsVerified() {
		return failed(outcome, ReasonVerification,
			fmt.Errorf("%w: transaction %s: %s", common.ErrVerification, txn.ID, txn.UnverifiedReason))
	}

	credits, granted, err := c.grant(ctx, *txn)
	if err != nil {
		return failed(outcome, classifyStoreError(err), err)
	}

	outcome.Kind = OutcomeCredited
	outcome.Credits = credits
	outcome.AlreadyGranted = !granted
	return outcome, nil
}

// Restore resynchronizes with the store and rebuilds the entitlement set.
// It reports the credit-equivalent of what is owned but never credits the
// ledger; crediting only happens through purchases and the update listener.
func (c *Coordinator) Restore(ctx context.Context) (RestoreSummary, error) {
	if err := c.store.Sync(ctx); err != nil {
		return RestoreSummary{}, fmt.Errorf("%w: sync: %w", common.ErrPurchaseFailed, err)
	}

	txns, err := c.store.CurrentEntitlements(ctx)
	if err != nil {
		return RestoreSummary{}, fmt.Errorf("%w: entitlements: %w", common.ErrPurchaseFailed, err)
	}

	var (
		summary RestoreSummary
		owned   []string
		seen    = make(map[string]bool)
	)
	for _, txn := range txns {
		if !txn.IsVerified() {
			summary.Unverified++
			c.logger.Warn("skipping unverified entitlement",
				"transaction_id", txn.ID,
				"product_id", txn.ProductID)
			continue
		}
		if txn.IsRevoked() {
			continue
		}
		credits, ok := c.products.Credits(txn.ProductID)
		if !ok {
			c.logger.Warn("entitlement for unknown product", "product_id", txn.ProductID)
			continue
		}

		summary.Transactions++
		summary.TotalCredits += credits
		if !seen[txn.ProductID] {
			seen[txn.ProductID] = true
			owned = append(owned, txn.ProductID)
		}
	}

	c.entitlements.Replace(owned)
	summary.Products = c.entitlements.List()

	c.logger.Info("restored purchases",
		"products", len(summary.Products),
		"transactions", summary.Transactions,
		"credit_equivalent", summary.TotalCredits)
	return summary, nil
}

// Start runs the transaction update listener until ctx is done or Close is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.listenerDone != nil {
		c.mu.Unlock()
		return ErrListenerRunning
	}
	listenCtx, cancel := context.WithCancel(ctx)
	c.listenerCancel = cancel
	c.listenerDone = make(chan struct{})
	done := c.listenerDone
	c.mu.Unlock()

	updates, err := c.store.TransactionUpdates(listenCtx)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.listenerCancel, c.listenerDone = nil, nil
		c.mu.Unlock()
		return fmt.Errorf("failed to subscribe to transaction updates: %w", err)
	}

	// Transactions delivered while the app was not running are credited
	// before Start returns.
	c.drainUnfinished(listenCtx)

	go func() {
		defer close(done)
		c.logger.Debug("transaction listener started")
		for {
			select {
			case <-listenCtx.Done():
				c.logger.Debug("transaction listener stopped")
				return
			case txn, ok := <-updates:
				if !ok {
					c.logger.Debug("transaction update stream closed")
					return
				}
				c.handleUpdate(listenCtx, txn)
			}
		}
	}()
	return nil
}

// Close stops the transaction listener and waits for it to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancel, done := c.listenerCancel, c.listenerDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.events.Close()
}

func (c *Coordinator) drainUnfinished(ctx context.Context) {
	pending, err := c.store.Unfinished(ctx)
	if err != nil {
		c.logger.Warn("failed to list unfinished transactions", "error", err)
		return
	}
	for _, txn := range pending {
		c.handleUpdate(ctx, txn)
	}
	if len(pending) > 0 {
		c.logger.Info("processed unfinished transactions", "count", len(pending))
	}
}

func (c *Coordinator) handleUpdate(ctx context.Context, txn model.Transaction) {
	logger := c.logger.With("transaction_id", txn.ID, "product_id", txn.ProductID)

	if !txn.IsVerified() {
		logger.Warn("discarding unverified transaction update", "reason", txn.UnverifiedReason)
		metrics.RecordTransactionUpdate("unverified")
		return
	}

	if txn.IsRevoked() {
		c.entitlements.Remove(txn.ProductID)
		logger.Info("transaction revoked")
		metrics.RecordTransactionUpdate("revoked")
		return
	}

	credits, granted, err := c.grant(ctx, txn)
	if err != nil {
		// Left unfinished so the store redelivers it.
		logger.Error("failed to credit transaction update", "error", err)
		metrics.RecordTransactionUpdate("error")
		return
	}

	if granted {
		logger.Info("credited transaction update", "credits", credits)
		metrics.RecordTransactionUpdate("credited")
		c.publish(&Outcome{
			Kind:          OutcomeCredited,
			ProductID:     txn.ProductID,
			TransactionID: txn.ID,
			Credits:       credits,
		})
		return
	}
	metrics.RecordTransactionUpdate("duplicate")
}

// grant is the only crediting path: credit once, then finish, then record the entitlement.
func (c *Coordinator) grant(ctx context.Context, txn model.Transaction) (int, bool, error) {
	credits, ok := c.products.Credits(txn.ProductID)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", common.ErrProductNotFound, txn.ProductID)
	}

	granted, err := c.ledger.CreditTransaction(ctx, txn.ID, credits)
	if err != nil {
		return 0, false, fmt.Errorf("failed to credit transaction %s: %w", txn.ID, err)
	}

	if err := c.store.Finish(ctx, txn.ID); err != nil {
		// Credits are recorded; a redelivery is deduplicated by transaction id.
		c.logger.Warn("failed to finish transaction",
			"transaction_id", txn.ID,
			"error", err)
	}

	c.entitlements.Add(txn.ProductID)
	return credits, granted, nil
}

func (c *Coordinator) setCatalogState(state CatalogState) {
	c.mu.Lock()
	c.catalogState = state
	c.mu.Unlock()
	c.publish(nil)
}

func (c *Coordinator) restoreCatalogState() {
	c.mu.Lock()
	if len(c.catalog) > 0 {
		c.catalogState = CatalogReady
	} else {
		c.catalogState = CatalogIdle
	}
	c.mu.Unlock()
	c.publish(nil)
}

func (c *Coordinator) setPurchaseState(state PurchaseState) {
	c.setPurchaseStateWithOutcome(state, nil)
}

func (c *Coordinator) setPurchaseStateWithOutcome(state PurchaseState, outcome *Outcome) {
	c.mu.Lock()
	c.purchaseState = state
	c.mu.Unlock()
	c.publish(outcome)
}

func (c *Coordinator) publish(outcome *Outcome) {
	c.mu.RLock()
	ev := Event{
		Catalog:  c.catalogState,
		Purchase: c.purchaseState,
		Outcome:  outcome,
	}
	c.mu.RUnlock()
	c.events.Publish(ev)
}

func failed(outcome Outcome, reason FailureReason, err error) (Outcome, error) {
	outcome.Kind = OutcomeFailed
	outcome.Reason = reason
	return outcome, fmt.Errorf("%w (%s): %w", common.ErrPurchaseFailed, reason, err)
}

// classifyStoreError maps provider errors onto the purchase failure taxonomy.
func classifyStoreError(err error) FailureReason {
	var netErr net.Error
	switch {
	case errors.Is(err, common.ErrProductNotFound), errors.Is(err, common.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, common.ErrVerification):
		return ReasonVerification
	case errors.Is(err, common.ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return ReasonNetwork
	default:
		return ReasonUnknown
	}
}

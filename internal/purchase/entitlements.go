package purchase

import (
	"sort"
	"sync"
)

// EntitlementStore is the set of product identifiers the user currently owns,
// derived from store transactions. Only the Coordinator mutates it.
type EntitlementStore struct {
	products map[string]struct{}
	mu       sync.RWMutex
}

// NewEntitlementStore creates an empty entitlement set.
func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{products: make(map[string]struct{})}
}

// Add records ownership of productID.
func (e *EntitlementStore) Add(productID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.products[productID] = struct{}{}
}

// Remove drops productID, e.g. after a revocation.
func (e *EntitlementStore) Remove(productID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.products, productID)
}

// Replace swaps the whole set for productIDs.
func (e *EntitlementStore) Replace(productIDs []string) {
	next := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		next[id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.products = next
}

// Contains reports whether productID is owned.
func (e *EntitlementStore) Contains(productID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.products[productID]
	return ok
}

// List returns the owned product ids, sorted.
func (e *EntitlementStore) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.products))
	for id := range e.products {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of owned products.
func (e *EntitlementStore) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.products)
}

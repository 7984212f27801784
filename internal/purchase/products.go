package purchase

import (
	"fmt"
	"sort"

	"github.com/Veraticus/fitcheck/internal/common"
)

// ProductSpec is the app-side definition of a credit pack.
type ProductSpec struct {
	ID        string `mapstructure:"id"`
	Credits   int    `mapstructure:"credits"`
	Popular   bool   `mapstructure:"popular"`
	BestValue bool   `mapstructure:"best_value"`
}

// DefaultProducts is the credit pack line-up sold in the store.
var DefaultProducts = []ProductSpec{
	{ID: "fitcheck.credits.10", Credits: 10},
	{ID: "fitcheck.credits.30", Credits: 30, Popular: true},
	{ID: "fitcheck.credits.100", Credits: 100, BestValue: true},
}

// ProductMap maps store product identifiers to credit amounts.
type ProductMap struct {
	specs map[string]ProductSpec
	ids   []string
}

// NewProductMap validates specs and builds the mapping.
func NewProductMap(specs []ProductSpec) (*ProductMap, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one product is required", common.ErrInvalidConfig)
	}

	m := &ProductMap{specs: make(map[string]ProductSpec, len(specs))}
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: product id cannot be empty", common.ErrInvalidConfig)
		}
		if spec.Credits <= 0 {
			return nil, fmt.Errorf("%w: product %s must grant a positive number of credits", common.ErrInvalidConfig, spec.ID)
		}
		if _, dup := m.specs[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %s", common.ErrInvalidConfig, spec.ID)
		}
		m.specs[spec.ID] = spec
		m.ids = append(m.ids, spec.ID)
	}
	sort.Slice(m.ids, func(i, j int) bool {
		return m.specs[m.ids[i]].Credits < m.specs[m.ids[j]].Credits
	})
	return m, nil
}

// IDs returns every known product id, ascending by credits.
func (m *ProductMap) IDs() []string {
	return append([]string(nil), m.ids...)
}

// Credits returns the credits granted by productID.
func (m *ProductMap) Credits(productID string) (int, bool) {
	spec, ok := m.specs[productID]
	return spec.Credits, ok
}

// Spec returns the full definition of productID.
func (m *ProductMap) Spec(productID string) (ProductSpec, bool) {
	spec, ok := m.specs[productID]
	return spec, ok
}

package model

// Product is a purchasable credit pack as listed by the store.
type Product struct {
	ID           string
	DisplayName  string
	DisplayPrice string
	Credits      int
	Popular      bool
	BestValue    bool
}

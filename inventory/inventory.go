// Package inventory is a stock-tracking aggregate built on rewind. It keeps
// a per-product quantity that can only change through ProductAdded and
// ProductRemoved events
package inventory

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/google/uuid"

	"github.com/kode4food/rewind"
)

type (
	// Inventory is an event-sourced stock ledger
	Inventory struct {
		ag *rewind.Aggregator[*Stock]
	}

	// Stock is the state folded from an Inventory's events
	Stock struct {
		Products map[uuid.UUID]int `json:"products"`
		ID       rewind.ID         `json:"id"`
	}

	// Store persists and reconstructs Inventories
	Store = rewind.Store[*Inventory]
)

var (
	// ErrInvalidQuantity indicates a quantity that is not positive
	ErrInvalidQuantity = errors.New("the quantity must be greater than zero")

	// ErrProductNotFound indicates a product the inventory never stocked
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock indicates a removal larger than what is on hand
	ErrInsufficientStock = errors.New("the requested quantity is unavailable")

	// ErrQuantityOverflow indicates an addition the stock count cannot hold
	ErrQuantityOverflow = errors.New("the resulting quantity is too large")
)

var _ rewind.Aggregate = (*Inventory)(nil)

// Create returns a new Inventory with a fresh identity. Its Created event is
// pending until the Inventory is committed
func Create(opts ...rewind.Option) (*Inventory, error) {
	id := rewind.NewID()
	ag := rewind.New(id, appliers, &Stock{}, opts...)
	if err := ag.Raise(Created{InventoryID: id}); err != nil {
		return nil, err
	}
	return &Inventory{ag: ag}, nil
}

// Rehydrate rebuilds an Inventory from its persisted history. It is the
// rewind.Factory for Inventories
func Rehydrate(recs []*rewind.Record) (*Inventory, error) {
	ag, err := rewind.Rehydrate(appliers, &Stock{}, recs)
	if err != nil {
		return nil, err
	}
	return &Inventory{ag: ag}, nil
}

// NewStore returns a Store for Inventories over the provided Backend
func NewStore(b rewind.Backend, opts ...rewind.StoreOption) *Store {
	return rewind.NewStore(b, NewRegistry(), Rehydrate, opts...)
}

// ID returns the Inventory's identity
func (i *Inventory) ID() rewind.ID {
	return i.ag.ID()
}

// Version returns the version of the Inventory's last event
func (i *Inventory) Version() rewind.Version {
	return i.ag.Version()
}

// Pending returns the events not yet committed
func (i *Inventory) Pending() []*rewind.Record {
	return i.ag.Pending()
}

// Commit clears the pending events
func (i *Inventory) Commit() {
	i.ag.Commit()
}

// AddProduct receives a positive quantity of a product into stock
func (i *Inventory) AddProduct(productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	current := i.ag.Value().Products[productID]
	if current > math.MaxInt-quantity {
		return fmt.Errorf("%w: current quantity: %d",
			ErrQuantityOverflow, current,
		)
	}
	return i.ag.Raise(ProductAdded{
		ProductID: productID,
		Quantity:  quantity,
	})
}

// RemoveProduct takes a positive quantity of a product out of stock. The
// product must have been stocked and must have at least that much on hand
func (i *Inventory) RemoveProduct(productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	current, ok := i.ag.Value().Products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if current < quantity {
		return fmt.Errorf("%w: current quantity: %d",
			ErrInsufficientStock, current,
		)
	}
	return i.ag.Raise(ProductRemoved{
		ProductID: productID,
		Quantity:  quantity,
	})
}

// ProductCount returns the quantity on hand, or 0 for unknown products
func (i *Inventory) ProductCount(productID uuid.UUID) int {
	return i.ag.Value().Products[productID]
}

// Products returns a copy of every stocked product's quantity
func (i *Inventory) Products() map[uuid.UUID]int {
	return maps.Clone(i.ag.Value().Products)
}

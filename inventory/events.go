package inventory

import (
	"maps"

	"github.com/google/uuid"

	"github.com/kode4food/rewind"
)

type (
	// Created is raised once, when an inventory comes into existence
	Created struct {
		InventoryID rewind.ID `json:"inventory_id"`
	}

	// ProductAdded records stock received for a product
	ProductAdded struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
	}

	// ProductRemoved records stock taken out for a product
	ProductRemoved struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
	}
)

const (
	EventCreated        rewind.EventType = "inventory.created"
	EventProductAdded   rewind.EventType = "inventory.product_added"
	EventProductRemoved rewind.EventType = "inventory.product_removed"
)

var appliers = rewind.Appliers[*Stock]{
	EventCreated:        rewind.MakeApplier(created),
	EventProductAdded:   rewind.MakeApplier(productAdded),
	EventProductRemoved: rewind.MakeApplier(productRemoved),
}

func (Created) EventType() rewind.EventType        { return EventCreated }
func (ProductAdded) EventType() rewind.EventType   { return EventProductAdded }
func (ProductRemoved) EventType() rewind.EventType { return EventProductRemoved }

// Register adds the inventory event types to a Registry
func Register(r *rewind.Registry) {
	rewind.Register[Created](r)
	rewind.Register[ProductAdded](r)
	rewind.Register[ProductRemoved](r)
}

// NewRegistry returns a Registry that knows the inventory event types
func NewRegistry() *rewind.Registry {
	r := rewind.NewRegistry()
	Register(r)
	return r
}

func created(state *Stock, ev Created) *Stock {
	res := *state
	res.ID = ev.InventoryID
	res.Products = map[uuid.UUID]int{}
	return &res
}

func productAdded(state *Stock, ev ProductAdded) *Stock {
	res := *state
	res.Products = cloneProducts(state.Products)
	res.Products[ev.ProductID] += ev.Quantity
	return &res
}

func productRemoved(state *Stock, ev ProductRemoved) *Stock {
	res := *state
	res.Products = cloneProducts(state.Products)
	res.Products[ev.ProductID] -= ev.Quantity
	return &res
}

func cloneProducts(p map[uuid.UUID]int) map[uuid.UUID]int {
	if p == nil {
		return map[uuid.UUID]int{}
	}
	return maps.Clone(p)
}

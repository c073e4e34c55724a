package domain

import (
	"time"

	"github.com/google/uuid"
)

const EventTypeOrderCreated = "OrderCreated"

// OrderCreatedEvent is the wire contract all downstream consumers depend on.
// Evolution must be additive-only: new fields are optional, existing fields
// never change meaning. The dispatcher stamps the envelope with an event_id
// taken from the outbox row id; that id is the key consumers dedupe on.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID               `json:"order_id"`
	CustomerID  uuid.UUID               `json:"customer_id"`
	Channel     CreationChannel         `json:"channel"`
	SellerID    *uuid.UUID              `json:"seller_id"`
	VisitID     *uuid.UUID              `json:"visit_id"`
	PlacedAt    time.Time               `json:"placed_at"`
	TotalAmount int64                   `json:"total_amount"`
	Items       []OrderCreatedEventItem `json:"items"`
}

type OrderCreatedEventItem struct {
	ProductID   uuid.UUID                     `json:"product_id"`
	Quantity    int32                         `json:"quantity"`
	UnitPrice   int64                         `json:"unit_price"`
	Allocations []OrderCreatedEventAllocation `json:"allocations"`
}

type OrderCreatedEventAllocation struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Quantity int32     `json:"quantity"`
}

// NewOrderCreatedEvent builds the event payload from a committed order.
func NewOrderCreatedEvent(o *Order) *OrderCreatedEvent {
	items := make([]OrderCreatedEventItem, 0, len(o.Items))
	for _, item := range o.Items {
		allocations := make([]OrderCreatedEventAllocation, 0, len(item.Allocations))
		for _, alloc := range item.Allocations {
			allocations = append(allocations, OrderCreatedEventAllocation{
				BatchID:  alloc.BatchID,
				Quantity: alloc.Quantity,
			})
		}

		items = append(items, OrderCreatedEventItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Allocations: allocations,
		})
	}

	return &OrderCreatedEvent{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Channel:     o.Channel,
		SellerID:    o.SellerID,
		VisitID:     o.VisitID,
		PlacedAt:    o.PlacedAt,
		TotalAmount: o.TotalAmount,
		Items:       items,
	}
}

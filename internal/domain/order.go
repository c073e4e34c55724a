package domain

import (
	"time"

	"github.com/google/uuid"
)

type CreationChannel string

const (
	ChannelSellerVisit CreationChannel = "seller_visit"
	ChannelSellerApp   CreationChannel = "seller_app"
	ChannelCustomerApp CreationChannel = "customer_app"
)

func (c CreationChannel) Valid() bool {
	switch c {
	case ChannelSellerVisit, ChannelSellerApp, ChannelCustomerApp:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "placed"
)

type Order struct {
	ID          uuid.UUID       `db:"id"`
	CustomerID  uuid.UUID       `db:"customer_id"`
	Channel     CreationChannel `db:"creation_channel"`
	SellerID    *uuid.UUID      `db:"seller_id"`
	VisitID     *uuid.UUID      `db:"visit_id"`
	Status      OrderStatus     `db:"status"`
	TotalAmount int64           `db:"total_amount"`
	PlacedAt    time.Time       `db:"placed_at"`
	Items       []OrderItem     `db:"items"`
}

type OrderItem struct {
	ID          uuid.UUID         `db:"id"`
	OrderID     uuid.UUID         `db:"order_id"`
	ProductID   uuid.UUID         `db:"product_id"`
	Quantity    int32             `db:"quantity"`
	UnitPrice   int64             `db:"unit_price"`
	LineTotal   int64             `db:"line_total"`
	Allocations []BatchAllocation `db:"-"`
}

// BatchAllocation records that Quantity units of an item were taken from a
// specific inventory batch, for traceability.
type BatchAllocation struct {
	BatchID  uuid.UUID `db:"batch_id"`
	Quantity int32     `db:"quantity"`
}

// Validate enforces the channel-conditional field rules:
//
//	seller_visit: seller_id and visit_id required
//	seller_app:   seller_id required, visit_id optional
//	customer_app: seller_id and visit_id must be absent
//
// plus the structural invariants (at least one item, positive quantities).
func (o *Order) Validate() error {
	if !o.Channel.Valid() {
		return &ValidationError{Field: "creation_channel", Reason: "unknown channel"}
	}

	switch o.Channel {
	case ChannelSellerVisit:
		if o.SellerID == nil {
			return &ValidationError{Field: "seller_id", Reason: "required when channel is seller_visit"}
		}
		if o.VisitID == nil {
			return &ValidationError{Field: "visit_id", Reason: "required when channel is seller_visit"}
		}
	case ChannelSellerApp:
		if o.SellerID == nil {
			return &ValidationError{Field: "seller_id", Reason: "required when channel is seller_app"}
		}
	case ChannelCustomerApp:
		if o.SellerID != nil {
			return &ValidationError{Field: "seller_id", Reason: "must be absent when channel is customer_app"}
		}
		if o.VisitID != nil {
			return &ValidationError{Field: "visit_id", Reason: "must be absent when channel is customer_app"}
		}
	}

	if o.CustomerID == uuid.Nil {
		return &ValidationError{Field: "customer_id", Reason: "required"}
	}

	if len(o.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}

	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return &ValidationError{Field: "items.quantity", Reason: "must be a positive integer"}
		}
	}

	return nil
}

// CalculateTotal recomputes TotalAmount from the item line totals.
func (o *Order) CalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal
	}
	o.TotalAmount = total
}

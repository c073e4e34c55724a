package domain

import (
	"time"

	"github.com/google/uuid"
)

// InventoryBatch is the contention point between concurrent orders.
// reserved_quantity is only ever increased through the conditional update in
// the inventory repository, so reserved_quantity <= total_quantity holds at
// all times.
type InventoryBatch struct {
	ID               uuid.UUID `db:"id"`
	ProductID        uuid.UUID `db:"product_id"`
	WarehouseID      uuid.UUID `db:"warehouse_id"`
	BatchNumber      string    `db:"batch_number"`
	ExpirationDate   time.Time `db:"expiration_date"`
	TotalQuantity    int32     `db:"total_quantity"`
	ReservedQuantity int32     `db:"reserved_quantity"`
}

func (b *InventoryBatch) Available() int32 {
	return b.TotalQuantity - b.ReservedQuantity
}

package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

type Order struct {
	ID             uint            `gorm:"primaryKey" json:"order_id"`
	ReservationRef string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"reservation_ref"`
	TotalPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_price"`
	Status         string          `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CreatedAt      time.Time       `gorm:"not null;index" json:"created_at"`
	OrderItems     []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// ItemsTotal sums price_per_item * quantity over the loaded items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.OrderItems {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (o *Order) String() string {
	return fmt.Sprintf("Order #%d (%s)", o.ID, o.ReservationRef)
}

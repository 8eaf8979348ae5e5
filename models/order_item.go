package models

import (
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ID      uint `gorm:"primaryKey" json:"item_id"`
	OrderID uint `gorm:"not null;index" json:"order_id"`
	// Omitting Order field from JSON to avoid recursive nesting
	Order        Order           `gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	ProductID    uint            `gorm:"not null" json:"product_id"`
	Quantity     int             `gorm:"not null;check:chk_order_items_quantity,quantity > 0" json:"quantity"`
	PricePerItem decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_per_item"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PricePerItem.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

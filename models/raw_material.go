package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TransactionIn         TransactionKind = "in"
	TransactionOut        TransactionKind = "out"
	TransactionAdjustment TransactionKind = "adjustment"
)

// RawMaterial is owned by the inventory service. QuantityOnHand only changes
// through ledger operations and never goes below zero.
type RawMaterial struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"type:varchar(100);not null" json:"name"`
	Unit           string          `gorm:"type:varchar(20);not null" json:"unit"`
	QuantityOnHand decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;check:chk_raw_materials_on_hand,quantity_on_hand >= 0" json:"quantity_on_hand"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

// StockTransaction is an append-only ledger row, one per material per movement.
// OrderRef is the order correlation reference and is empty for plain stock-in.
// A reference moves a material at most once per kind.
type StockTransaction struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	MaterialID uint            `gorm:"not null;index;uniqueIndex:idx_stock_tx_ref_material_kind,priority:2" json:"material_id"`
	Material   RawMaterial     `gorm:"foreignKey:MaterialID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	OrderRef   *string         `gorm:"column:order_id;type:varchar(64);uniqueIndex:idx_stock_tx_ref_material_kind,priority:1" json:"order_id,omitempty"`
	Kind       TransactionKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_stock_tx_ref_material_kind,priority:3" json:"kind"`
	Quantity   decimal.Decimal `gorm:"type:decimal(12,2);not null;check:chk_stock_transactions_quantity,quantity > 0" json:"quantity"`
	CreatedAt  time.Time       `gorm:"not null;index" json:"created_at"`
}

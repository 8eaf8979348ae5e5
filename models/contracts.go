package models

import (
	"github.com/shopspring/decimal"
)

// Request and response bodies shared by the services and their HTTP clients.

type StockLine struct {
	MaterialID uint            `json:"material_id" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity" binding:"gt=0"`
}

type StockOutRequest struct {
	OrderRef string      `json:"order_id" binding:"required,max=64"`
	Items    []StockLine `json:"items" binding:"required,min=1,dive"`
}

type StockInRequest struct {
	MaterialID uint            `json:"material_id" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity" binding:"gt=0"`
}

type ReleaseRequest struct {
	OrderRef string `json:"order_id" binding:"required,max=64"`
}

type ReleaseResult struct {
	OrderRef        string      `json:"order_id"`
	Lines           []StockLine `json:"lines"`
	AlreadyReleased bool        `json:"already_released"`
}

type NewMaterial struct {
	Name           string          `json:"name" binding:"required,max=100"`
	Unit           string          `json:"unit" binding:"required,max=20"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand" binding:"gte=0"`
}

// MaterialAudit compares a material's balance with the sum of its ledger rows.
type MaterialAudit struct {
	MaterialID     uint            `json:"material_id"`
	Name           string          `json:"name"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
	Drift          decimal.Decimal `json:"drift"`
	Consistent     bool            `json:"consistent"`
}

type RecipeLine struct {
	MaterialID     uint            `json:"material_id"`
	Name           string          `json:"name,omitempty"`
	QuantityNeeded decimal.Decimal `json:"quantity_needed"`
	Unit           string          `json:"unit,omitempty"`
}

// ProductDetail is the Catalog Lookup contract.
type ProductDetail struct {
	ID          uint            `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Recipes     []RecipeLine    `json:"recipes"`
}

type NewProduct struct {
	Name        string          `json:"name" binding:"required,max=100"`
	Price       decimal.Decimal `json:"price" binding:"gte=0"`
	Description string          `json:"description"`
}

type ProductUpdate struct {
	Name        *string          `json:"name" binding:"omitempty,max=100"`
	Price       *decimal.Decimal `json:"price" binding:"omitempty,gte=0"`
	Description *string          `json:"description"`
}

type NewRecipe struct {
	MaterialID     uint            `json:"material_id" binding:"required"`
	QuantityNeeded decimal.Decimal `json:"quantity_needed" binding:"gt=0"`
	Name           string          `json:"name" binding:"max=100"`
	Unit           string          `json:"unit" binding:"max=20"`
}

type OrderLine struct {
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,gt=0"`
}

type CreateOrderRequest struct {
	Items []OrderLine `json:"items" binding:"required,min=1,dive"`
}

type OrderReceipt struct {
	OrderID    uint            `json:"order_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type ReconcileOutcome struct {
	Ref    string            `json:"ref"`
	From   ReservationStatus `json:"from"`
	To     ReservationStatus `json:"to"`
	Reason string            `json:"reason,omitempty"`
}

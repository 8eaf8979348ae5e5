package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"type:varchar(100);not null" json:"name"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null;check:chk_products_price,price >= 0" json:"price"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	Recipes     []Recipe        `gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Recipe is one bill-of-materials line. Materials live in the inventory
// service, so MaterialName and Unit are copied in when the line is written.
type Recipe struct {
	ProductID      uint            `gorm:"primaryKey;autoIncrement:false" json:"product_id"`
	MaterialID     uint            `gorm:"primaryKey;autoIncrement:false" json:"material_id"`
	MaterialName   string          `gorm:"type:varchar(100)" json:"name"`
	Unit           string          `gorm:"type:varchar(20)" json:"unit"`
	QuantityNeeded decimal.Decimal `gorm:"type:decimal(10,2);not null;check:chk_recipes_quantity_needed,quantity_needed > 0" json:"quantity_needed"`
}

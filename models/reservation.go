package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationReserving         ReservationStatus = "reserving"
	ReservationCommitted         ReservationStatus = "committed"
	ReservationFailed            ReservationStatus = "failed"
	ReservationReconcileRequired ReservationStatus = "reconcile_required"
	ReservationCompensating      ReservationStatus = "compensating"
	ReservationCompensated       ReservationStatus = "compensated"
	ReservationAbandoned         ReservationStatus = "abandoned"
)

// Terminal reports whether the reconciler is done with a reservation.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationCommitted, ReservationFailed, ReservationCompensated, ReservationAbandoned:
		return true
	}
	return false
}

// Reservation is written by the orders service before it asks the ledger to
// consume stock. Ref is the order correlation reference sent as order_id.
type Reservation struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	Ref        string            `gorm:"type:varchar(64);not null;uniqueIndex" json:"ref"`
	Status     ReservationStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	TotalPrice decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"total_price"`
	OrderID    *uint             `json:"order_id,omitempty"`
	LastError  string            `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null" json:"updated_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

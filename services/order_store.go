package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

const reconcileBatchSize = 100

// openReservation lists the statuses an order may still commit from.
var openReservation = []models.ReservationStatus{
	models.ReservationReserving,
	models.ReservationReconcileRequired,
}

// OrderRepository is the persistence the orchestrator and reconciler need.
type OrderRepository interface {
	BeginReservation(ctx context.Context, ref string, total decimal.Decimal) error
	MarkReservation(ctx context.Context, ref string, status models.ReservationStatus, reason string) (bool, error)
	Create(ctx context.Context, ref string, order *models.Order) error
	OrderByRef(ctx context.Context, ref string) (*models.Order, error)
	Reservation(ctx context.Context, ref string) (*models.Reservation, error)
	ReconcileCandidates(ctx context.Context, cutoff time.Time) ([]models.Reservation, error)
}

// OrderStore keeps orders, their items and the reservations that precede them.
type OrderStore struct {
	DB *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{DB: db}
}

// BeginReservation records the intent to consume stock under ref.
func (s *OrderStore) BeginReservation(ctx context.Context, ref string, total decimal.Decimal) error {
	r := models.Reservation{
		Ref:        ref,
		Status:     models.ReservationReserving,
		TotalPrice: total,
	}
	if err := s.DB.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("create reservation %s: %w", ref, err)
	}
	return nil
}

// MarkReservation moves an open reservation to status. A compensating
// reservation can only move on to compensated. It reports false when the
// reservation is unknown or already resolved.
func (s *OrderStore) MarkReservation(ctx context.Context, ref string, status models.ReservationStatus, reason string) (bool, error) {
	from := openReservation
	if status == models.ReservationCompensated {
		from = append([]models.ReservationStatus{models.ReservationCompensating}, openReservation...)
	}
	updates := map[string]interface{}{
		"status":     status,
		"last_error": reason,
	}
	if status.Terminal() {
		updates["resolved_at"] = time.Now()
	}
	res := s.DB.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("ref = ? AND status IN ?", ref, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("mark reservation %s %s: %w", ref, status, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Create writes the order header, all of its items and the committed
// reservation in one transaction. Nothing is written unless all of it is.
func (s *OrderStore) Create(ctx context.Context, ref string, order *models.Order) error {
	if len(order.OrderItems) == 0 {
		return fmt.Errorf("order %s has no items", ref)
	}
	for i, item := range order.OrderItems {
		if item.Quantity <= 0 {
			return fmt.Errorf("order %s item %d has quantity %d", ref, i, item.Quantity)
		}
	}
	if !order.TotalPrice.Equal(order.ItemsTotal()) {
		return fmt.Errorf("order %s total %s does not match items total %s", ref, order.TotalPrice, order.ItemsTotal())
	}

	order.ReservationRef = ref
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		now := time.Now()
		res := tx.Model(&models.Reservation{}).
			Where("ref = ? AND status IN ?", ref, openReservation).
			Updates(map[string]interface{}{
				"status":      models.ReservationCommitted,
				"order_id":    order.ID,
				"last_error":  "",
				"resolved_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("commit reservation: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("reservation %s is not open", ref)
		}
		return nil
	})
}

func (s *OrderStore) Get(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).
		Preload("OrderItems", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFound("Order", id)
		}
		return nil, utils.NewInternal(err)
	}
	return &order, nil
}

// List returns every order, newest first.
func (s *OrderStore) List(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.DB.WithContext(ctx).
		Preload("OrderItems", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC").
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, utils.NewInternal(err)
	}
	return orders, nil
}

// OrderByRef returns nil without error when no order carries ref.
func (s *OrderStore) OrderByRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).Where("reservation_ref = ?", ref).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (s *OrderStore) ListReservations(ctx context.Context, status string) ([]models.Reservation, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reservations []models.Reservation
	if err := q.Find(&reservations).Error; err != nil {
		return nil, utils.NewInternal(err)
	}
	return reservations, nil
}

// Reservation returns nil without error when ref is unknown.
func (s *OrderStore) Reservation(ctx context.Context, ref string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.DB.WithContext(ctx).Where("ref = ?", ref).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// ReconcileCandidates returns reservations flagged reconcile_required or left
// compensating, and reservations still reserving that were created before
// cutoff, oldest first.
func (s *OrderStore) ReconcileCandidates(ctx context.Context, cutoff time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.DB.WithContext(ctx).
		Where("status IN ? OR (status = ? AND created_at < ?)",
			[]models.ReservationStatus{models.ReservationReconcileRequired, models.ReservationCompensating},
			models.ReservationReserving, cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(reconcileBatchSize).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

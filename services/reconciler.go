package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

const reconcilerLockKey = "pos:orders:reconciler"

// Reconciler settles reservations whose stock-out outcome was never matched
// by an order. A reservation is picked up when it is reconcile_required or
// compensating, or when it is still reserving after Grace. For each one:
//
//   - an order with the reference exists: committed
//   - the ledger shows stock taken under the reference: claimed as
//     compensating, released, compensated
//   - the ledger shows nothing and Grace has passed: abandoned
//
// The claim is what stops a late order write from committing against stock
// that is being handed back.
//
// Reservations whose ledger cannot be reached are left for the next pass.
type Reconciler struct {
	Store    OrderRepository
	Ledger   StockLedger
	Locker   *redislock.Client
	Interval time.Duration
	Grace    time.Duration
	StopChan chan struct{}
	Now      func() time.Time

	pass     sync.Mutex
	stopOnce sync.Once
}

func NewReconciler(store OrderRepository, ledger StockLedger, locker *redislock.Client, interval, grace time.Duration) *Reconciler {
	return &Reconciler{
		Store:    store,
		Ledger:   ledger,
		Locker:   locker,
		Interval: interval,
		Grace:    grace,
		StopChan: make(chan struct{}),
		Now:      time.Now,
	}
}

func (r *Reconciler) Start() {
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.Interval)
				if _, err := r.RunOnce(ctx); err != nil {
					utils.LogError("Reconciler", "Start", nil, err)
				}
				cancel()
			case <-r.StopChan:
				return
			}
		}
	}()
	utils.InfoLogger.WithFields(logrus.Fields{
		"interval": r.Interval.String(),
		"grace":    r.Grace.String(),
		"lease":    r.Locker != nil,
	}).Info("reconciler started")
}

func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.StopChan) })
}

// RunOnce performs one pass and returns what happened to each candidate.
// With a redis locker configured, the pass only runs while holding the lease;
// when another instance holds it, RunOnce returns no outcomes.
func (r *Reconciler) RunOnce(ctx context.Context) ([]models.ReconcileOutcome, error) {
	r.pass.Lock()
	defer r.pass.Unlock()

	if r.Locker != nil {
		lock, err := r.Locker.Obtain(ctx, reconcilerLockKey, r.leaseTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			utils.InfoLogger.Debug("reconciler lease held elsewhere, skipping pass")
			return []models.ReconcileOutcome{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("obtain reconciler lease: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				utils.ErrorLogger.Warnf("release reconciler lease: %v", err)
			}
		}()
	}

	cutoff := r.Now().Add(-r.Grace)
	candidates, err := r.Store.ReconcileCandidates(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load reconcile candidates: %w", err)
	}

	outcomes := make([]models.ReconcileOutcome, 0, len(candidates))
	for _, res := range candidates {
		outcome := r.settle(ctx, res, cutoff)
		outcomes = append(outcomes, outcome)

		entry := utils.InfoLogger.WithFields(logrus.Fields{
			"order_ref": outcome.Ref,
			"from":      outcome.From,
			"to":        outcome.To,
		})
		if outcome.Reason != "" {
			entry = entry.WithField("reason", outcome.Reason)
		}
		entry.Info("reservation reconciled")
	}
	return outcomes, nil
}

func (r *Reconciler) settle(ctx context.Context, res models.Reservation, cutoff time.Time) models.ReconcileOutcome {
	outcome := models.ReconcileOutcome{Ref: res.Ref, From: res.Status, To: res.Status}

	order, err := r.Store.OrderByRef(ctx, res.Ref)
	if err != nil {
		outcome.Reason = fmt.Sprintf("order lookup failed: %v", err)
		return outcome
	}
	if order != nil {
		return r.move(ctx, outcome, models.ReservationCommitted, fmt.Sprintf("order %d exists", order.ID))
	}

	movements, err := r.Ledger.TransactionsByRef(ctx, res.Ref)
	if err != nil {
		outcome.Reason = fmt.Sprintf("ledger unreachable: %v", err)
		return outcome
	}

	var taken, released bool
	for _, mv := range movements {
		switch mv.Kind {
		case models.TransactionOut:
			taken = true
		case models.TransactionAdjustment:
			released = true
		}
	}

	switch {
	case taken:
		if res.Status != models.ReservationCompensating {
			claimed, err := r.Store.MarkReservation(ctx, res.Ref, models.ReservationCompensating, "stock taken without order")
			if err != nil {
				outcome.Reason = fmt.Sprintf("update failed: %v", err)
				return outcome
			}
			if !claimed {
				return r.resolvedElsewhere(ctx, outcome)
			}
			outcome.To = models.ReservationCompensating
		}
		if released {
			return r.move(ctx, outcome, models.ReservationCompensated, "stock already released")
		}
		result, err := r.Ledger.Release(ctx, res.Ref)
		if err != nil {
			outcome.Reason = fmt.Sprintf("release failed: %v", err)
			return outcome
		}
		return r.move(ctx, outcome, models.ReservationCompensated, fmt.Sprintf("released %d material lines", len(result.Lines)))
	case res.CreatedAt.Before(cutoff):
		return r.move(ctx, outcome, models.ReservationAbandoned, "no stock movement for reference")
	default:
		outcome.Reason = "no stock movement yet, waiting for grace period"
		return outcome
	}
}

func (r *Reconciler) move(ctx context.Context, outcome models.ReconcileOutcome, to models.ReservationStatus, reason string) models.ReconcileOutcome {
	ok, err := r.Store.MarkReservation(ctx, outcome.Ref, to, reason)
	if err != nil {
		outcome.Reason = fmt.Sprintf("update failed: %v", err)
		return outcome
	}
	if !ok {
		return r.resolvedElsewhere(ctx, outcome)
	}
	outcome.To = to
	outcome.Reason = reason
	return outcome
}

// resolvedElsewhere reports the status another writer left the reservation in.
func (r *Reconciler) resolvedElsewhere(ctx context.Context, outcome models.ReconcileOutcome) models.ReconcileOutcome {
	outcome.Reason = "already resolved"
	current, err := r.Store.Reservation(ctx, outcome.Ref)
	if err != nil {
		outcome.Reason = fmt.Sprintf("already resolved, reload failed: %v", err)
		return outcome
	}
	if current != nil {
		outcome.To = current.Status
	}
	return outcome
}

func (r *Reconciler) leaseTTL() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return time.Minute
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/pos-backend/feed"
	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

const maxOrderRefLen = 64

// StockLedger is the part of the inventory service the orders side depends
// on. InventoryService implements it in-process; InventoryClient over HTTP.
type StockLedger interface {
	StockOut(ctx context.Context, orderRef string, items []models.StockLine) error
	TransactionsByRef(ctx context.Context, orderRef string) ([]models.StockTransaction, error)
	Release(ctx context.Context, orderRef string) (*models.ReleaseResult, error)
}

// InventoryService owns raw-material balances and the stock transaction log.
// Balances change only inside its transactions, together with the log rows
// that explain them.
type InventoryService struct {
	DB   *gorm.DB
	Feed feed.Publisher
}

func NewInventoryService(db *gorm.DB, hub feed.Publisher) *InventoryService {
	return &InventoryService{DB: db, Feed: hub}
}

// CreateMaterial registers a material. A non-zero opening balance is logged
// as an "in" transaction so the ledger reconciles from the start.
func (s *InventoryService) CreateMaterial(ctx context.Context, req models.NewMaterial) (*models.RawMaterial, error) {
	if req.QuantityOnHand.IsNegative() {
		return nil, utils.NewInvalidArgument("quantity_on_hand must not be negative")
	}
	material := models.RawMaterial{
		Name:           req.Name,
		Unit:           req.Unit,
		QuantityOnHand: utils.Round2(req.QuantityOnHand),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&material).Error; err != nil {
			return fmt.Errorf("create material: %w", err)
		}
		if material.QuantityOnHand.IsPositive() {
			opening := models.StockTransaction{
				MaterialID: material.ID,
				Kind:       models.TransactionIn,
				Quantity:   material.QuantityOnHand,
			}
			if err := tx.Create(&opening).Error; err != nil {
				return fmt.Errorf("record opening balance: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewInternal(err)
	}
	return &material, nil
}

func (s *InventoryService) ListMaterials(ctx context.Context) ([]models.RawMaterial, error) {
	var materials []models.RawMaterial
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&materials).Error; err != nil {
		return nil, utils.NewInternal(err)
	}
	return materials, nil
}

func (s *InventoryService) GetMaterial(ctx context.Context, id uint) (*models.RawMaterial, error) {
	var material models.RawMaterial
	if err := s.DB.WithContext(ctx).First(&material, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFound("Material", id)
		}
		return nil, utils.NewInternal(err)
	}
	return &material, nil
}

// StockIn adds quantity to a material and appends the matching "in" row.
func (s *InventoryService) StockIn(ctx context.Context, materialID uint, quantity decimal.Decimal) (material *models.RawMaterial, err error) {
	ctx, span := tracer.Start(ctx, "inventory.StockIn")
	span.SetAttributes(attribute.Int64("material.id", int64(materialID)))
	defer func() { endSpan(span, err) }()

	if materialID == 0 {
		return nil, utils.NewInvalidArgument("material_id is required")
	}
	quantity = utils.Round2(quantity)
	if !quantity.IsPositive() {
		return nil, utils.NewInvalidArgument("quantity must be greater than 0")
	}

	var updated models.RawMaterial
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&updated, materialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFound("Material", materialID)
			}
			return err
		}

		balance := updated.QuantityOnHand.Add(quantity)
		if err := s.swapBalance(tx, &updated, balance); err != nil {
			return err
		}
		return tx.Create(&models.StockTransaction{
			MaterialID: materialID,
			Kind:       models.TransactionIn,
			Quantity:   quantity,
		}).Error
	})
	if err != nil {
		return nil, asAppError(err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"material_id": materialID,
		"quantity":    quantity.StringFixed(utils.Places),
		"on_hand":     updated.QuantityOnHand.StringFixed(utils.Places),
	}).Info("stock in")
	s.publish(feed.EventStockIn, updated)
	return &updated, nil
}

// StockOut consumes every line of a batch or none of them. All referenced
// material rows are locked in id order, every line is checked against the
// locked balances, and only then are balances deducted and "out" rows
// appended under orderRef. Any failure rolls the whole batch back.
func (s *InventoryService) StockOut(ctx context.Context, orderRef string, items []models.StockLine) (err error) {
	ctx, span := tracer.Start(ctx, "inventory.StockOut")
	span.SetAttributes(attribute.String("order.ref", orderRef), attribute.Int("items", len(items)))
	defer func() { endSpan(span, err) }()

	lines, err := normalizeStockLines(orderRef, items)
	if err != nil {
		return err
	}

	ids := make([]uint, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.MaterialID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var after []models.RawMaterial
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []models.RawMaterial
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id ASC").
			Find(&locked).Error; err != nil {
			return fmt.Errorf("lock materials: %w", err)
		}

		// Checked under the material locks so two batches with the same
		// reference cannot both pass.
		var seen int64
		if err := tx.Model(&models.StockTransaction{}).Where("order_id = ?", orderRef).Count(&seen).Error; err != nil {
			return fmt.Errorf("check order reference: %w", err)
		}
		if seen > 0 {
			return utils.NewInvalidArgument("order reference %s already has stock movements", orderRef)
		}

		byID := make(map[uint]*models.RawMaterial, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}

		for _, line := range lines {
			m, ok := byID[line.MaterialID]
			if !ok {
				return utils.NewMaterialNotFound(line.MaterialID)
			}
			if m.QuantityOnHand.LessThan(line.Quantity) {
				return utils.NewInsufficientStock(m.ID, m.Name, line.Quantity, m.QuantityOnHand)
			}
		}

		movements := make([]models.StockTransaction, 0, len(lines))
		for _, line := range lines {
			m := byID[line.MaterialID]
			if err := s.swapBalance(tx, m, m.QuantityOnHand.Sub(line.Quantity)); err != nil {
				return err
			}
			ref := orderRef
			movements = append(movements, models.StockTransaction{
				MaterialID: m.ID,
				OrderRef:   &ref,
				Kind:       models.TransactionOut,
				Quantity:   line.Quantity,
			})
		}
		if err := tx.Create(&movements).Error; err != nil {
			return fmt.Errorf("append stock movements: %w", err)
		}

		after = locked
		return nil
	})
	if err != nil {
		err = asAppError(err)
		if utils.IsClientError(err) {
			utils.InfoLogger.WithFields(logrus.Fields{
				"order_ref": orderRef,
				"kind":      utils.KindOf(err),
			}).Info("stock out rejected")
		} else {
			utils.LogError("InventoryService", "StockOut", logrus.Fields{"order_ref": orderRef}, err)
		}
		return err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"order_ref": orderRef,
		"lines":     len(lines),
	}).Info("stock out committed")
	s.publish(feed.EventStockOut, map[string]interface{}{
		"order_id":  orderRef,
		"items":     lines,
		"materials": after,
	})
	return nil
}

// TransactionsByRef lists log rows newest first, limited to orderRef unless
// it is empty.
func (s *InventoryService) TransactionsByRef(ctx context.Context, orderRef string) ([]models.StockTransaction, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if orderRef != "" {
		q = q.Where("order_id = ?", orderRef)
	}
	var txs []models.StockTransaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, utils.NewInternal(err)
	}
	return txs, nil
}

// Release puts back everything taken out under orderRef, recording it as
// "adjustment" rows with the same reference. Releasing twice is a no-op.
func (s *InventoryService) Release(ctx context.Context, orderRef string) (result *models.ReleaseResult, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Release")
	span.SetAttributes(attribute.String("order.ref", orderRef))
	defer func() { endSpan(span, err) }()

	if orderRef == "" {
		return nil, utils.NewInvalidArgument("order_id is required")
	}

	result = &models.ReleaseResult{OrderRef: orderRef, Lines: []models.StockLine{}}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.StockTransaction{}).
			Distinct("material_id").
			Where("order_id = ? AND kind = ?", orderRef, models.TransactionOut).
			Order("material_id ASC").
			Pluck("material_id", &ids).Error; err != nil {
			return fmt.Errorf("load movements: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		var locked []models.RawMaterial
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id ASC").
			Find(&locked).Error; err != nil {
			return fmt.Errorf("lock materials: %w", err)
		}

		// Every release of orderRef writes these rows, so the log read under
		// the locks sees a release that committed since the read above.
		var movements []models.StockTransaction
		if err := tx.Where("order_id = ?", orderRef).Order("id ASC").Find(&movements).Error; err != nil {
			return fmt.Errorf("load movements: %w", err)
		}

		taken := map[uint]decimal.Decimal{}
		var order []uint
		for _, mv := range movements {
			switch mv.Kind {
			case models.TransactionAdjustment:
				result.AlreadyReleased = true
				return nil
			case models.TransactionOut:
				if _, ok := taken[mv.MaterialID]; !ok {
					order = append(order, mv.MaterialID)
				}
				taken[mv.MaterialID] = taken[mv.MaterialID].Add(mv.Quantity)
			}
		}

		byID := make(map[uint]*models.RawMaterial, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}

		for _, id := range order {
			m, ok := byID[id]
			if !ok {
				return utils.NewMaterialNotFound(id)
			}
			qty := taken[id]
			if err := s.swapBalance(tx, m, m.QuantityOnHand.Add(qty)); err != nil {
				return err
			}
			ref := orderRef
			if err := tx.Create(&models.StockTransaction{
				MaterialID: id,
				OrderRef:   &ref,
				Kind:       models.TransactionAdjustment,
				Quantity:   qty,
			}).Error; err != nil {
				return fmt.Errorf("append release: %w", err)
			}
			result.Lines = append(result.Lines, models.StockLine{MaterialID: id, Quantity: qty})
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	if len(result.Lines) > 0 {
		utils.InfoLogger.WithFields(logrus.Fields{
			"order_ref": orderRef,
			"lines":     len(result.Lines),
		}).Info("stock released")
		s.publish(feed.EventStockReleased, result)
	}
	return result, nil
}

// Audit compares every balance with in - out + adjustment from the log.
func (s *InventoryService) Audit(ctx context.Context) ([]models.MaterialAudit, error) {
	materials, err := s.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}

	var sums []struct {
		MaterialID uint
		Kind       models.TransactionKind
		Total      decimal.Decimal
	}
	if err := s.DB.WithContext(ctx).
		Model(&models.StockTransaction{}).
		Select("material_id, kind, SUM(quantity) AS total").
		Group("material_id, kind").
		Scan(&sums).Error; err != nil {
		return nil, utils.NewInternal(err)
	}

	ledger := map[uint]decimal.Decimal{}
	for _, row := range sums {
		switch row.Kind {
		case models.TransactionIn, models.TransactionAdjustment:
			ledger[row.MaterialID] = ledger[row.MaterialID].Add(row.Total)
		case models.TransactionOut:
			ledger[row.MaterialID] = ledger[row.MaterialID].Sub(row.Total)
		}
	}

	report := make([]models.MaterialAudit, 0, len(materials))
	for _, m := range materials {
		balance := utils.Round2(ledger[m.ID])
		drift := utils.Round2(m.QuantityOnHand.Sub(balance))
		report = append(report, models.MaterialAudit{
			MaterialID:     m.ID,
			Name:           m.Name,
			QuantityOnHand: m.QuantityOnHand,
			LedgerBalance:  balance,
			Drift:          drift,
			Consistent:     drift.IsZero(),
		})
	}
	return report, nil
}

// swapBalance writes balance only if the row still holds the value read
// under the lock, and refuses to write a negative balance.
func (s *InventoryService) swapBalance(tx *gorm.DB, m *models.RawMaterial, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return utils.NewInsufficientStock(m.ID, m.Name, m.QuantityOnHand.Sub(balance), m.QuantityOnHand)
	}
	now := time.Now()
	res := tx.Model(&models.RawMaterial{}).
		Where("id = ? AND quantity_on_hand = ?", m.ID, m.QuantityOnHand).
		Updates(map[string]interface{}{
			"quantity_on_hand": balance,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("update material %d: %w", m.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("material %d changed while locked", m.ID)
	}
	m.QuantityOnHand = balance
	m.UpdatedAt = now
	return nil
}

func (s *InventoryService) publish(event string, data interface{}) {
	if s.Feed == nil {
		return
	}
	s.Feed.Publish(event, data)
}

// normalizeStockLines validates a batch and merges repeated materials,
// keeping first-seen order.
func normalizeStockLines(orderRef string, items []models.StockLine) ([]models.StockLine, error) {
	if orderRef == "" {
		return nil, utils.NewInvalidArgument("order_id is required")
	}
	if len(orderRef) > maxOrderRefLen {
		return nil, utils.NewInvalidArgument("order_id must be at most %d characters", maxOrderRefLen)
	}
	if len(items) == 0 {
		return nil, utils.NewInvalidArgument("items must not be empty")
	}

	index := make(map[uint]int, len(items))
	lines := make([]models.StockLine, 0, len(items))
	for i, item := range items {
		if item.MaterialID == 0 {
			return nil, utils.NewInvalidArgument("items[%d].material_id is required", i)
		}
		qty := utils.Round2(item.Quantity)
		if !qty.IsPositive() {
			return nil, utils.NewInvalidArgument("items[%d].quantity must be greater than 0", i)
		}
		if at, ok := index[item.MaterialID]; ok {
			lines[at].Quantity = lines[at].Quantity.Add(qty)
			continue
		}
		index[item.MaterialID] = len(lines)
		lines = append(lines, models.StockLine{MaterialID: item.MaterialID, Quantity: qty})
	}
	return lines, nil
}

// asAppError keeps AppErrors returned from inside a transaction and reports
// anything else as Internal.
func asAppError(err error) error {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return utils.NewInternal(err)
}

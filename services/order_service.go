package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yeremiapane/pos-backend/feed"
	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

// OrderService turns an order request into stock consumption and a stored
// order. The steps run strictly in sequence: catalog lookups, one stock-out
// for the combined demand, then the local write. A reservation is stored
// before the stock-out so that an unknown or half-finished outcome can be
// found and settled by the Reconciler.
type OrderService struct {
	Catalog CatalogLookup
	Ledger  StockLedger
	Store   OrderRepository
	Feed    feed.Publisher

	// Timeout bounds each catalog and ledger call. Zero leaves the bound to
	// the caller's context and the HTTP clients.
	Timeout time.Duration
	NewRef  func() string
}

func NewOrderService(catalog CatalogLookup, ledger StockLedger, store OrderRepository, hub feed.Publisher, timeout time.Duration) *OrderService {
	return &OrderService{
		Catalog: catalog,
		Ledger:  ledger,
		Store:   store,
		Feed:    hub,
		Timeout: timeout,
		NewRef:  func() string { return uuid.NewString() },
	}
}

type pricedLine struct {
	line    models.OrderLine
	product *models.ProductDetail
	// price is the catalog price rounded to cents, snapshotted once so the
	// order total and each item price agree.
	price decimal.Decimal
}

func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (receipt *models.OrderReceipt, err error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	span.SetAttributes(attribute.Int("order.lines", len(req.Items)))
	defer func() { endSpan(span, err) }()

	if err := validateOrderLines(req.Items); err != nil {
		return nil, err
	}

	products, err := s.lookupProducts(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	priced := make([]pricedLine, 0, len(req.Items))
	for _, line := range req.Items {
		product := products[line.ProductID]
		priced = append(priced, pricedLine{line: line, product: product, price: utils.Round2(product.Price)})
	}
	demand, total := aggregateDemand(priced)
	order := buildOrder(priced, total)

	ref := s.NewRef()
	span.SetAttributes(attribute.String("order.ref", ref))
	log := utils.InfoLogger.WithField("order_ref", ref)

	if err := s.Store.BeginReservation(ctx, ref, total); err != nil {
		utils.LogError("OrderService", "CreateOrder", logrus.Fields{"order_ref": ref}, err)
		return nil, utils.NewInternal(err)
	}

	if len(demand) > 0 {
		if err := s.stockOut(ctx, ref, demand); err != nil {
			return nil, err
		}
	} else {
		log.Info("order has no material demand, stock out skipped")
	}

	if err := s.Store.Create(ctx, ref, order); err != nil {
		s.reconciliationRequired(ctx, ref, total, demand, err)
		return nil, utils.NewInternal(err)
	}

	log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"total_price": total.StringFixed(utils.Places),
	}).Infof("order created, total %s", utils.FormatCurrency(total))
	s.publish(feed.EventOrderCreated, order)

	return &models.OrderReceipt{OrderID: order.ID, TotalPrice: total}, nil
}

func validateOrderLines(items []models.OrderLine) error {
	if len(items) == 0 {
		return utils.NewInvalidArgument("items must not be empty")
	}
	for i, item := range items {
		if item.ProductID == 0 {
			return utils.NewInvalidArgument("items[%d].product_id is required", i)
		}
		if item.Quantity <= 0 {
			return utils.NewInvalidArgument("items[%d].quantity must be greater than 0", i)
		}
	}
	return nil
}

// lookupProducts asks the catalog once per distinct product, in the order the
// products first appear, and stops at the first failure.
func (s *OrderService) lookupProducts(ctx context.Context, items []models.OrderLine) (map[uint]*models.ProductDetail, error) {
	products := make(map[uint]*models.ProductDetail, len(items))
	for _, item := range items {
		if _, done := products[item.ProductID]; done {
			continue
		}

		var product *models.ProductDetail
		err := s.bounded(ctx, func(ctx context.Context) error {
			var err error
			product, err = s.Catalog.GetProduct(ctx, item.ProductID)
			return err
		})
		if err != nil {
			return nil, s.catalogError(item.ProductID, err)
		}
		products[item.ProductID] = product
	}
	return products, nil
}

func (s *OrderService) catalogError(productID uint, err error) error {
	switch utils.KindOf(err) {
	case utils.KindProductNotFound, utils.KindNotFound:
		return utils.NewProductNotFound(productID)
	case utils.KindDownstreamUnavailable:
		return err
	}
	if isTimeout(err) {
		return utils.NewDownstreamUnavailable("catalog", err)
	}
	return utils.NewInternal(fmt.Errorf("catalog lookup for product %d: %w", productID, err))
}

func buildOrder(priced []pricedLine, total decimal.Decimal) *models.Order {
	order := &models.Order{
		TotalPrice: total,
		Status:     models.OrderStatusPending,
		OrderItems: make([]models.OrderItem, 0, len(priced)),
	}
	for _, p := range priced {
		order.OrderItems = append(order.OrderItems, models.OrderItem{
			ProductID:    p.line.ProductID,
			Quantity:     p.line.Quantity,
			PricePerItem: p.price,
		})
	}
	return order
}

// aggregateDemand scales every recipe by its line quantity and sums the
// result per material, in first-seen material order. It also totals the
// snapshotted price * quantity over the lines.
func aggregateDemand(lines []pricedLine) ([]models.StockLine, decimal.Decimal) {
	total := decimal.Zero
	index := map[uint]int{}
	var demand []models.StockLine

	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.line.Quantity))
		total = total.Add(l.price.Mul(qty))

		for _, r := range l.product.Recipes {
			need := r.QuantityNeeded.Mul(qty)
			if at, ok := index[r.MaterialID]; ok {
				demand[at].Quantity = demand[at].Quantity.Add(need)
				continue
			}
			index[r.MaterialID] = len(demand)
			demand = append(demand, models.StockLine{MaterialID: r.MaterialID, Quantity: need})
		}
	}
	return demand, utils.Round2(total)
}

// stockOut settles the reservation as failed when the ledger rejected the
// batch, and as reconcile_required when the outcome is unknown.
func (s *OrderService) stockOut(ctx context.Context, ref string, demand []models.StockLine) error {
	err := s.bounded(ctx, func(ctx context.Context) error {
		return s.Ledger.StockOut(ctx, ref, demand)
	})
	if err == nil {
		return nil
	}

	fields := logrus.Fields{"order_ref": ref, "kind": utils.KindOf(err)}
	if utils.IsClientError(err) {
		utils.InfoLogger.WithFields(fields).Infof("stock out rejected: %v", err)
		s.mark(ctx, ref, models.ReservationFailed, err)
		return err
	}

	utils.ErrorLogger.WithFields(fields).Warnf("stock out outcome unknown: %v", err)
	s.mark(ctx, ref, models.ReservationReconcileRequired, err)
	if isTimeout(err) && utils.KindOf(err) != utils.KindDownstreamUnavailable {
		return utils.NewDownstreamUnavailable("inventory", err)
	}
	return err
}

// reconciliationRequired records that stock was consumed under ref but no
// order exists for it.
func (s *OrderService) reconciliationRequired(ctx context.Context, ref string, total decimal.Decimal, demand []models.StockLine, cause error) {
	utils.ErrorLogger.WithFields(logrus.Fields{
		"event":       "reconciliation_required",
		"order_ref":   ref,
		"total_price": total.StringFixed(utils.Places),
		"materials":   len(demand),
	}).Errorf("stock consumed but order was not persisted: %v", cause)

	s.mark(ctx, ref, models.ReservationReconcileRequired, cause)
	s.publish(feed.EventReconciliationRequired, map[string]interface{}{
		"order_ref": ref,
		"items":     demand,
	})
}

func (s *OrderService) mark(ctx context.Context, ref string, status models.ReservationStatus, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	// The request may already be cancelled; the reservation must still move.
	ok, err := s.Store.MarkReservation(context.WithoutCancel(ctx), ref, status, reason)
	if err != nil {
		utils.LogError("OrderService", "mark", logrus.Fields{"order_ref": ref, "status": status}, err)
		return
	}
	if !ok {
		utils.ErrorLogger.WithFields(logrus.Fields{"order_ref": ref, "status": status}).Warn("reservation was not open")
	}
}

func (s *OrderService) bounded(ctx context.Context, call func(context.Context) error) error {
	if s.Timeout <= 0 {
		return call(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	return call(ctx)
}

func (s *OrderService) publish(event string, data interface{}) {
	if s.Feed == nil {
		return
	}
	s.Feed.Publish(event, data)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

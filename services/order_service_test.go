package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

type orderFixture struct {
	db      *gorm.DB
	inv     *InventoryService
	catalog *CatalogService
	store   *OrderStore
	orders  *OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &orderFixture{
		db:      db,
		inv:     NewInventoryService(db, nil),
		catalog: NewCatalogService(db),
		store:   NewOrderStore(db),
	}
	f.orders = NewOrderService(f.catalog, f.inv, f.store, nil, time.Second)
	return f
}

func (f *orderFixture) reservations(t *testing.T) []models.Reservation {
	t.Helper()
	rs, err := f.store.ListReservations(context.Background(), "")
	require.NoError(t, err)
	return rs
}

type recordingLedger struct {
	StockLedger
	mu    sync.Mutex
	calls [][]models.StockLine
}

func (r *recordingLedger) StockOut(ctx context.Context, ref string, items []models.StockLine) error {
	r.mu.Lock()
	r.calls = append(r.calls, append([]models.StockLine(nil), items...))
	r.mu.Unlock()
	return r.StockLedger.StockOut(ctx, ref, items)
}

type countingCatalog struct {
	CatalogLookup
	mu    sync.Mutex
	calls []uint
}

func (c *countingCatalog) GetProduct(ctx context.Context, id uint) (*models.ProductDetail, error) {
	c.mu.Lock()
	c.calls = append(c.calls, id)
	c.mu.Unlock()
	return c.CatalogLookup.GetProduct(ctx, id)
}

type hangingLedger struct {
	StockLedger
}

func (hangingLedger) StockOut(ctx context.Context, ref string, items []models.StockLine) error {
	<-ctx.Done()
	return ctx.Err()
}

type hangingCatalog struct{}

func (hangingCatalog) GetProduct(ctx context.Context, id uint) (*models.ProductDetail, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingStore struct {
	*OrderStore
}

func (failingStore) Create(ctx context.Context, ref string, order *models.Order) error {
	return errors.New("disk full")
}

func TestCreateOrder_ConsumesStockAndStoresOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	m1 := seedMaterial(t, f.inv, "M1", "10")
	p1 := seedProduct(t, f.catalog, "P1", "25000", map[uint]string{m1.ID: "2"})

	receipt, err := f.orders.CreateOrder(ctx, models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: p1.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assertDecimal(t, "75000", receipt.TotalPrice)
	assertDecimal(t, "4", onHand(t, f.db, m1.ID))

	rs := f.reservations(t)
	require.Len(t, rs, 1)
	assert.Equal(t, models.ReservationCommitted, rs[0].Status)
	require.NotNil(t, rs[0].OrderID)
	assert.Equal(t, receipt.OrderID, *rs[0].OrderID)
	assert.NotNil(t, rs[0].ResolvedAt)

	txs, err := f.inv.TransactionsByRef(ctx, rs[0].Ref)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionOut, txs[0].Kind)
	assertDecimal(t, "6", txs[0].Quantity)

	order, err := f.store.Get(ctx, receipt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, rs[0].Ref, order.ReservationRef)
	require.Len(t, order.OrderItems, 1)
	assert.Equal(t, p1.ID, order.OrderItems[0].ProductID)
	assert.Equal(t, 3, order.OrderItems[0].Quantity)
	assertDecimal(t, "25000", order.OrderItems[0].PricePerItem)
	assertDecimal(t, receipt.TotalPrice.String(), order.ItemsTotal())
	assertDecimal(t, receipt.TotalPrice.String(), order.TotalPrice)
}

func TestCreateOrder_InsufficientStockStoresNothing(t *testing.T) {
	f := newOrderFixture(t)
	m1 := seedMaterial(t, f.inv, "M1", "10")
	p1 := seedProduct(t, f.catalog, "P1", "25000", map[uint]string{m1.ID: "3"})

	_, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: p1.ID, Quantity: 4}},
	})

	appErr := requireKind(t, err, utils.KindInsufficientStock)
	assert.Equal(t, m1.ID, appErr.Detail["material_id"])
	assertDecimal(t, "12", appErr.Detail["requested"].(decimal.Decimal))
	assertDecimal(t, "10", appErr.Detail["available"].(decimal.Decimal))
	assertDecimal(t, "10", onHand(t, f.db, m1.ID))
	assert.Equal(t, int64(0), countRows(t, f.db, &models.Order{}, ""))
	assert.Equal(t, int64(0), countRows(t, f.db, &models.OrderItem{}, ""))

	rs := f.reservations(t)
	require.Len(t, rs, 1)
	assert.Equal(t, models.ReservationFailed, rs[0].Status)
}

func TestCreateOrder_UnknownProductConsumesNothing(t *testing.T) {
	f := newOrderFixture(t)
	m1 := seedMaterial(t, f.inv, "M1", "10")
	p1 := seedProduct(t, f.catalog, "P1", "25000", map[uint]string{m1.ID: "2"})

	_, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: p1.ID, Quantity: 1}, {ProductID: 999, Quantity: 1}},
	})

	appErr := requireKind(t, err, utils.KindProductNotFound)
	assert.Equal(t, uint(999), appErr.Detail["product_id"])
	assertDecimal(t, "10", onHand(t, f.db, m1.ID))
	assert.Equal(t, int64(0), countRows(t, f.db, &models.Order{}, ""))
	assert.Empty(t, f.reservations(t))
}

func TestCreateOrder_RejectsMalformedRequest(t *testing.T) {
	f := newOrderFixture(t)

	tests := []struct {
		name  string
		items []models.OrderLine
	}{
		{"no items", nil},
		{"missing product", []models.OrderLine{{Quantity: 1}}},
		{"zero quantity", []models.OrderLine{{ProductID: 1, Quantity: 0}}},
		{"negative quantity", []models.OrderLine{{ProductID: 1, Quantity: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{Items: tt.items})
			requireKind(t, err, utils.KindInvalidArgument)
		})
	}
	assert.Empty(t, f.reservations(t))
}

func TestCreateOrder_AggregatesSharedMaterials(t *testing.T) {
	f := newOrderFixture(t)
	m1 := seedMaterial(t, f.inv, "M1", "100")
	m2 := seedMaterial(t, f.inv, "M2", "100")
	a := seedProduct(t, f.catalog, "A", "10000", map[uint]string{m1.ID: "2", m2.ID: "1"})
	b := seedProduct(t, f.catalog, "B", "5000", map[uint]string{m1.ID: "3"})

	ledger := &recordingLedger{StockLedger: f.inv}
	catalog := &countingCatalog{CatalogLookup: f.catalog}
	f.orders.Ledger = ledger
	f.orders.Catalog = catalog

	receipt, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
		Items: []models.OrderLine{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
			{ProductID: a.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assertDecimal(t, "25000", receipt.TotalPrice)

	assert.Equal(t, []uint{a.ID, b.ID}, catalog.calls)

	require.Len(t, ledger.calls, 1)
	lines := ledger.calls[0]
	require.Len(t, lines, 2)
	byMaterial := map[uint]string{}
	for _, l := range lines {
		byMaterial[l.MaterialID] = l.Quantity.String()
	}
	assertDecimal(t, "7", dec(byMaterial[m1.ID]))
	assertDecimal(t, "2", dec(byMaterial[m2.ID]))

	assertDecimal(t, "93", onHand(t, f.db, m1.ID))
	assertDecimal(t, "98", onHand(t, f.db, m2.ID))

	order, err := f.store.Get(context.Background(), receipt.OrderID)
	require.NoError(t, err)
	assert.Len(t, order.OrderItems, 3)
	assertDecimal(t, "25000", order.ItemsTotal())
}

func TestCreateOrder_EmptyRecipeSkipsStockOut(t *testing.T) {
	f := newOrderFixture(t)
	p := seedProduct(t, f.catalog, "Gift card", "50000", nil)
	ledger := &recordingLedger{StockLedger: f.inv}
	f.orders.Ledger = ledger

	receipt, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assertDecimal(t, "100000", receipt.TotalPrice)
	assert.Empty(t, ledger.calls)
	assert.Equal(t, models.ReservationCommitted, f.reservations(t)[0].Status)
}

func TestCreateOrder_LedgerTimeoutIsDownstreamUnavailable(t *testing.T) {
	f := newOrderFixture(t)
	m1 := seedMaterial(t, f.inv, "M1", "10")
	p1 := seedProduct(t, f.catalog, "P1", "25000", map[uint]string{m1.ID: "2"})
	f.orders.Ledger = hangingLedger{StockLedger: f.inv}
	f.orders.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: p1.ID, Quantity: 1}},
	})
	assert.Less(t, time.Since(start), 5*time.Second)

	requireKind(t, err, utils.KindDownstreamUnavailable)
	assert.Equal(t, int64(0), countRows(t, f.db, &models.Order{}, ""))
	rs := f.reservations(t)
	require.Len(t, rs, 1)
	assert.Equal(t, models.ReservationReconcileRequired, rs[0].Status)
	assert.NotEmpty(t, rs[0].LastError)
}

func TestCreateOrder_CatalogTimeoutIsDownstreamUnavailable(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.Catalog = hangingCatalog{}
	f.orders.Timeout = 50 * time.Millisecond

	_, err := f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: 1, Quantity: 1}},
	})

	appErr := requireKind(t, err, utils.KindDownstreamUnavailable)
	assert.Equal(t, "catalog", appErr.Detail["component"])
	assert.Empty(t, f.reservations(t))
}

func TestCreateOrder_PersistenceFailureNeedsReconciliation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	m1 := seedMaterial(t, f.inv, "M1", "10")
	p1 := seedProduct(t, f.catalog, "P1", "25000", map[uint]string{m1.ID: "2"})
	f.orders.Store = failingStore{OrderStore: f.store}

	_, err := f.orders.CreateOrder(ctx, models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: p1.ID, Quantity: 3}},
	})

	appErr := requireKind(t, err, utils.KindInternal)
	assert.Nil(t, appErr.Detail)
	assertDecimal(t, "4", onHand(t, f.db, m1.ID))
	assert.Equal(t, int64(0), countRows(t, f.db, &models.Order{}, ""))

	rs := f.reservations(t)
	require.Len(t, rs, 1)
	assert.Equal(t, models.ReservationReconcileRequired, rs[0].Status)
	assert.Contains(t, rs[0].LastError, "disk full")

	// the reservation is picked up right away, without waiting for the grace period
	rec := NewReconciler(f.store, f.inv, nil, time.Minute, 10*time.Minute)
	outcomes, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, rs[0].Ref, outcomes[0].Ref)
	assert.Equal(t, models.ReservationCompensated, outcomes[0].To)

	assertDecimal(t, "10", onHand(t, f.db, m1.ID))
	report, err := f.inv.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report[0].Consistent)
}

func TestCreateOrder_ConcurrentOrdersForLastStock(t *testing.T) {
	f := newOrderFixture(t)
	m1 := seedMaterial(t, f.inv, "M1", "10")
	p1 := seedProduct(t, f.catalog, "P1", "25000", map[uint]string{m1.ID: "2"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.CreateOrder(context.Background(), models.CreateOrderRequest{
				Items: []models.OrderLine{{ProductID: p1.ID, Quantity: 3}},
			})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case utils.KindOf(err) == utils.KindInsufficientStock:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assertDecimal(t, "4", onHand(t, f.db, m1.ID))
	assert.Equal(t, int64(1), countRows(t, f.db, &models.Order{}, ""))
	assert.Equal(t, int64(1), countRows(t, f.db, &models.StockTransaction{}, "kind = ?", models.TransactionOut))
}

type fixedCatalog map[uint]*models.ProductDetail

func (c fixedCatalog) GetProduct(ctx context.Context, id uint) (*models.ProductDetail, error) {
	p, ok := c[id]
	if !ok {
		return nil, utils.NewProductNotFound(id)
	}
	return p, nil
}

func TestCreateOrder_SnapshotsPriceToCents(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	m1 := seedMaterial(t, f.inv, "M1", "10")

	catalog := fixedCatalog{7: {
		ID:      7,
		Name:    "Sub-cent",
		Price:   dec("1.005"),
		Recipes: []models.RecipeLine{{MaterialID: m1.ID, QuantityNeeded: dec("2")}},
	}}
	orders := NewOrderService(catalog, f.inv, f.store, nil, time.Second)

	receipt, err := orders.CreateOrder(ctx, models.CreateOrderRequest{
		Items: []models.OrderLine{{ProductID: 7, Quantity: 3}},
	})
	require.NoError(t, err)
	assertDecimal(t, "3.03", receipt.TotalPrice)
	assertDecimal(t, "4", onHand(t, f.db, m1.ID))

	order, err := f.store.Get(ctx, receipt.OrderID)
	require.NoError(t, err)
	require.Len(t, order.OrderItems, 1)
	assertDecimal(t, "1.01", order.OrderItems[0].PricePerItem)
	assertDecimal(t, "3.03", order.TotalPrice)
	assert.Equal(t, int64(1), countRows(t, f.db, &models.Order{}, ""))
	assert.Equal(t, models.ReservationCommitted, f.reservations(t)[0].Status)
}

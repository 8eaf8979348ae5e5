package Controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/pos-backend/config"
	"github.com/yeremiapane/pos-backend/database"
	"github.com/yeremiapane/pos-backend/router"
	"github.com/yeremiapane/pos-backend/services"
)

type testApp struct {
	router *gin.Engine
	db     *gorm.DB
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:ctl_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db, config.RoleAll))
	return db
}

// newTestApp serves all three roles from one in-memory database.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)

	catalog := services.NewCatalogService(db)
	inventory := services.NewInventoryService(db, nil)
	store := services.NewOrderStore(db)
	cfg := &config.Config{ServiceName: "pos-test"}

	r := router.SetupRouter(cfg, router.Deps{
		DB:         db,
		Catalog:    catalog,
		Inventory:  inventory,
		Store:      store,
		Orders:     services.NewOrderService(catalog, inventory, store, nil, time.Second),
		Reconciler: services.NewReconciler(store, inventory, nil, time.Minute, 2*time.Minute),
	})
	return &testApp{router: r, db: db}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	d, ok := decode(t, w)["data"].(map[string]interface{})
	require.True(t, ok, "no data object in %s", w.Body.String())
	return d
}

func dataList(t *testing.T, w *httptest.ResponseRecorder) []interface{} {
	t.Helper()
	d, ok := decode(t, w)["data"].([]interface{})
	require.True(t, ok, "no data array in %s", w.Body.String())
	return d
}

func (a *testApp) createMaterial(t *testing.T, name string, qty float64) uint {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/inventory/materials", map[string]interface{}{
		"name": name, "unit": "gram", "quantity_on_hand": qty,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return uint(data(t, w)["id"].(float64))
}

func (a *testApp) createProduct(t *testing.T, name string, price float64, recipe map[uint]float64) uint {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/products", map[string]interface{}{"name": name, "price": price})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := uint(data(t, w)["id"].(float64))

	for materialID, qty := range recipe {
		w := a.do(t, http.MethodPost, fmt.Sprintf("/api/products/%d/recipes", id), map[string]interface{}{
			"material_id": materialID, "quantity_needed": qty,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return id
}

func (a *testApp) onHand(t *testing.T, materialID uint) float64 {
	t.Helper()
	w := a.do(t, http.MethodGet, fmt.Sprintf("/api/inventory/materials/%d", materialID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return data(t, w)["quantity_on_hand"].(float64)
}

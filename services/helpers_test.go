package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/pos-backend/config"
	"github.com/yeremiapane/pos-backend/database"
	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

// setupTestDB opens a private in-memory database with every table. One
// connection only, so concurrent transactions queue instead of interleaving.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
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

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func seedMaterial(t *testing.T, inv *InventoryService, name, qty string) *models.RawMaterial {
	t.Helper()
	m, err := inv.CreateMaterial(context.Background(), models.NewMaterial{
		Name:           name,
		Unit:           "gram",
		QuantityOnHand: dec(qty),
	})
	require.NoError(t, err)
	return m
}

func seedProduct(t *testing.T, catalog *CatalogService, name, price string, recipe map[uint]string) *models.Product {
	t.Helper()
	ctx := context.Background()
	p, err := catalog.CreateProduct(ctx, models.NewProduct{Name: name, Price: dec(price)})
	require.NoError(t, err)
	for materialID, qty := range recipe {
		_, err := catalog.UpsertRecipe(ctx, p.ID, models.NewRecipe{MaterialID: materialID, QuantityNeeded: dec(qty)})
		require.NoError(t, err)
	}
	return p
}

func onHand(t *testing.T, db *gorm.DB, id uint) decimal.Decimal {
	t.Helper()
	var m models.RawMaterial
	require.NoError(t, db.First(&m, id).Error)
	return m.QuantityOnHand
}

func requireKind(t *testing.T, err error, kind utils.ErrorKind) *utils.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *utils.AppError
	require.True(t, errors.As(err, &appErr), "expected *utils.AppError, got %T: %v", err, err)
	require.Equal(t, kind, appErr.Kind, "error: %v", err)
	return appErr
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

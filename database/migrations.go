package database

import (
	"fmt"

	"github.com/yeremiapane/pos-backend/config"
	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
	"gorm.io/gorm"
)

// ModelsFor lists the tables a service role owns. Each service owns its own
// schema; "all" runs every role against one database.
func ModelsFor(role string) []interface{} {
	switch role {
	case config.RoleCatalog:
		return []interface{}{&models.Product{}, &models.Recipe{}}
	case config.RoleInventory:
		return []interface{}{&models.RawMaterial{}, &models.StockTransaction{}}
	case config.RoleOrders:
		return []interface{}{&models.Order{}, &models.OrderItem{}, &models.Reservation{}}
	case config.RoleAll:
		var all []interface{}
		for _, r := range []string{config.RoleCatalog, config.RoleInventory, config.RoleOrders} {
			all = append(all, ModelsFor(r)...)
		}
		return all
	}
	return nil
}

// Migrate creates or updates the tables owned by role.
func Migrate(db *gorm.DB, role string) error {
	tables := ModelsFor(role)
	if len(tables) == 0 {
		return fmt.Errorf("no schema for role %q", role)
	}

	if err := db.AutoMigrate(tables...); err != nil {
		utils.ErrorLogger.Errorf("AutoMigrate failed for role %s: %v", role, err)
		return err
	}

	for _, t := range tables {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(t); err == nil {
			utils.InfoLogger.Debugf("Table verified: %s", stmt.Schema.Table)
		}
	}
	utils.InfoLogger.Infof("AutoMigrate completed for role %s (%d tables)", role, len(tables))
	return nil
}

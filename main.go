package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/pos-backend/config"
	"github.com/yeremiapane/pos-backend/database"
	"github.com/yeremiapane/pos-backend/feed"
	"github.com/yeremiapane/pos-backend/router"
	"github.com/yeremiapane/pos-backend/services"
	"github.com/yeremiapane/pos-backend/utils"
)

func main() {
	cfg := config.Load()
	utils.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		utils.ErrorLogger.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := config.InitTracer(ctx, cfg)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to start tracing: %v", err)
	}

	db, err := config.InitDB(ctx, cfg)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db, cfg.ServiceRole); err != nil {
		utils.ErrorLogger.Fatalf("Failed to migrate: %v", err)
	}

	deps := router.Deps{DB: db}

	var catalog services.CatalogLookup
	if cfg.Serves(config.RoleCatalog) {
		deps.Catalog = services.NewCatalogService(db)
		catalog = deps.Catalog
	}

	var ledger services.StockLedger
	if cfg.Serves(config.RoleInventory) {
		deps.StockHub = feed.NewHub("stock")
		deps.Inventory = services.NewInventoryService(db, deps.StockHub)
		ledger = deps.Inventory
	}

	if cfg.Serves(config.RoleOrders) {
		// a standalone orders service reaches the other two over HTTP
		if cfg.ServiceRole == config.RoleOrders {
			catalog = services.NewCatalogClient(cfg.CatalogURL, cfg.DownstreamTimeout)
			ledger = services.NewInventoryClient(cfg.InventoryURL, cfg.DownstreamTimeout)
		}

		deps.OrderHub = feed.NewHub("orders")
		deps.Store = services.NewOrderStore(db)
		deps.Orders = services.NewOrderService(catalog, ledger, deps.Store, deps.OrderHub, cfg.DownstreamTimeout)

		rdb, locker := config.ConnectRedis(ctx, cfg)
		if rdb != nil {
			defer rdb.Close()
		}
		deps.Reconciler = services.NewReconciler(deps.Store, ledger, locker, cfg.ReconcileInterval, cfg.ReconcileGrace)
		deps.Reconciler.Start()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.SetupRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.InfoLogger.WithFields(logrus.Fields{
			"role": cfg.ServiceRole,
			"port": cfg.Port,
		}).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Errorf("HTTP shutdown: %v", err)
	}
	if deps.Reconciler != nil {
		deps.Reconciler.Stop()
	}
	deps.StockHub.Close()
	deps.OrderHub.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		utils.ErrorLogger.Errorf("Tracer shutdown: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

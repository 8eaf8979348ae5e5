package router

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/pos-backend/config"
	"github.com/yeremiapane/pos-backend/controllers"
	"github.com/yeremiapane/pos-backend/feed"
	"github.com/yeremiapane/pos-backend/middlewares"
	"github.com/yeremiapane/pos-backend/services"
	"github.com/yeremiapane/pos-backend/utils"
)

// Deps are the components a process hosts. A nil service leaves its routes
// unregistered, so one router serves every SERVICE_ROLE.
type Deps struct {
	DB         *gorm.DB
	Catalog    *services.CatalogService
	Inventory  *services.InventoryService
	Orders     *services.OrderService
	Store      *services.OrderStore
	Reconciler *services.Reconciler
	StockHub   *feed.Hub
	OrderHub   *feed.Hub
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	utils.RegisterValidators()

	r := gin.New()
	r.Use(middlewares.RequestID())
	r.Use(middlewares.LoggerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middlewares.Tracing(cfg.ServiceName))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(cfg.CORSOrigins))
	r.Use(middlewares.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).RateLimit())

	healthCtrl := controllers.NewHealthController(deps.DB, cfg.ServiceName)
	r.GET("/", healthCtrl.Root)
	r.GET("/api/db-test", healthCtrl.DBTest)

	api := r.Group("/api")

	// ----------------------------------------------------------------
	//                      CATALOG
	// ----------------------------------------------------------------
	if deps.Catalog != nil {
		productCtrl := controllers.NewProductController(deps.Catalog)
		products := api.Group("/products")
		{
			products.GET("", productCtrl.GetAllProducts)
			products.POST("", productCtrl.CreateProduct)
			products.GET("/:id", productCtrl.GetProductByID)
			products.PUT("/:id", productCtrl.UpdateProduct)
			products.DELETE("/:id", productCtrl.DeleteProduct)
			products.POST("/:id/recipes", productCtrl.UpsertRecipe)
		}
	}

	// ----------------------------------------------------------------
	//                      INVENTORY
	// ----------------------------------------------------------------
	if deps.Inventory != nil {
		inventoryCtrl := controllers.NewInventoryController(deps.Inventory)
		inventory := api.Group("/inventory")
		{
			inventory.GET("/materials", inventoryCtrl.GetAllMaterials)
			inventory.POST("/materials", inventoryCtrl.CreateMaterial)
			inventory.GET("/materials/:id", inventoryCtrl.GetMaterialByID)
			inventory.POST("/stock-in", inventoryCtrl.StockIn)
			inventory.POST("/stock-out", inventoryCtrl.StockOut)
			inventory.POST("/release", inventoryCtrl.Release)
			inventory.GET("/transactions", inventoryCtrl.GetTransactions)
			inventory.GET("/audit", inventoryCtrl.Audit)
		}
	}
	if deps.StockHub != nil {
		r.GET("/ws/stock", controllers.NewFeedController(deps.StockHub, cfg.CORSOrigins).Subscribe)
	}

	// ----------------------------------------------------------------
	//                      ORDERS
	// ----------------------------------------------------------------
	if deps.Orders != nil {
		orderCtrl := controllers.NewOrderController(deps.Orders, deps.Store, deps.Reconciler)
		orders := api.Group("/orders")
		{
			orders.GET("", orderCtrl.GetAllOrders)
			orders.POST("", orderCtrl.CreateOrder)
			orders.GET("/reservations", orderCtrl.GetReservations)
			orders.POST("/reconcile", orderCtrl.Reconcile)
			orders.GET("/:id", orderCtrl.GetOrderByID)
		}
	}
	if deps.OrderHub != nil {
		r.GET("/ws/orders", controllers.NewFeedController(deps.OrderHub, cfg.CORSOrigins).Subscribe)
	}

	return r
}

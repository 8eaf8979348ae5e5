package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/services"
	"github.com/yeremiapane/pos-backend/utils"
)

type OrderController struct {
	Service    *services.OrderService
	Store      *services.OrderStore
	Reconciler *services.Reconciler
}

func NewOrderController(service *services.OrderService, store *services.OrderStore, reconciler *services.Reconciler) *OrderController {
	return &OrderController{Service: service, Store: store, Reconciler: reconciler}
}

// GetAllOrders -> orders with items, newest first
func (oc *OrderController) GetAllOrders(c *gin.Context) {
	orders, err := oc.Store.List(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

func (oc *OrderController) GetOrderByID(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	order, err := oc.Store.Get(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// CreateOrder -> price the items, consume their materials, then record the order
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	receipt, err := oc.Service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", receipt)
}

// GetReservations -> saga records, optionally filtered by status
func (oc *OrderController) GetReservations(c *gin.Context) {
	reservations, err := oc.Store.ListReservations(c.Request.Context(), c.Query("status"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of reservations", reservations)
}

// Reconcile -> run one reconciliation pass now
func (oc *OrderController) Reconcile(c *gin.Context) {
	if oc.Reconciler == nil {
		utils.RespondError(c, utils.NewInvalidArgument("reconciliation is not enabled on this service"))
		return
	}

	outcomes, err := oc.Reconciler.RunOnce(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Reconciliation pass finished", outcomes)
}

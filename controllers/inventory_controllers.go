package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/services"
	"github.com/yeremiapane/pos-backend/utils"
)

type InventoryController struct {
	Service *services.InventoryService
}

func NewInventoryController(service *services.InventoryService) *InventoryController {
	return &InventoryController{Service: service}
}

// CreateMaterial -> register a raw material with an optional opening balance
func (ic *InventoryController) CreateMaterial(c *gin.Context) {
	var req models.NewMaterial
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	material, err := ic.Service.CreateMaterial(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Material created", material)
}

func (ic *InventoryController) GetAllMaterials(c *gin.Context) {
	materials, err := ic.Service.ListMaterials(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of materials", materials)
}

func (ic *InventoryController) GetMaterialByID(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	material, err := ic.Service.GetMaterial(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Material detail", material)
}

// StockIn -> add quantity to a material
func (ic *InventoryController) StockIn(c *gin.Context) {
	var req models.StockInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	material, err := ic.Service.StockIn(c.Request.Context(), req.MaterialID, req.Quantity)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Stock in successful", material)
}

// StockOut -> consume every line of the batch, or none of them
func (ic *InventoryController) StockOut(c *gin.Context) {
	var req models.StockOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	if err := ic.Service.StockOut(c.Request.Context(), req.OrderRef, req.Items); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Stock out successful", nil)
}

// GetTransactions -> ledger rows, newest first, optionally for one order_id
func (ic *InventoryController) GetTransactions(c *gin.Context) {
	txs, err := ic.Service.TransactionsByRef(c.Request.Context(), c.Query("order_id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of stock transactions", txs)
}

// Release -> put back what an order reference took
func (ic *InventoryController) Release(c *gin.Context) {
	var req models.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	result, err := ic.Service.Release(c.Request.Context(), req.OrderRef)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	message := "Stock released"
	if result.AlreadyReleased {
		message = "Stock was already released"
	}
	utils.RespondJSON(c, http.StatusOK, message, result)
}

func (ic *InventoryController) Audit(c *gin.Context) {
	audit, err := ic.Service.Audit(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Ledger audit", audit)
}

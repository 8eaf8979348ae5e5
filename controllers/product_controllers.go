package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/services"
	"github.com/yeremiapane/pos-backend/utils"
)

type ProductController struct {
	Service *services.CatalogService
}

func NewProductController(service *services.CatalogService) *ProductController {
	return &ProductController{Service: service}
}

func (pc *ProductController) GetAllProducts(c *gin.Context) {
	products, err := pc.Service.ListProducts(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of products", products)
}

func (pc *ProductController) CreateProduct(c *gin.Context) {
	var req models.NewProduct
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	product, err := pc.Service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Product created", product)
}

// GetProductByID -> product with its recipe, the contract the orders service reads
func (pc *ProductController) GetProductByID(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	detail, err := pc.Service.GetProduct(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Product detail", detail)
}

func (pc *ProductController) UpdateProduct(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req models.ProductUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	product, err := pc.Service.UpdateProduct(c.Request.Context(), id, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Product updated", product)
}

func (pc *ProductController) DeleteProduct(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if err := pc.Service.DeleteProduct(c.Request.Context(), id); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Product deleted", nil)
}

// UpsertRecipe -> set how much of one material a unit of the product needs
func (pc *ProductController) UpsertRecipe(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req models.NewRecipe
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.BindingError(err))
		return
	}

	recipe, err := pc.Service.UpsertRecipe(c.Request.Context(), id, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Recipe saved", recipe)
}

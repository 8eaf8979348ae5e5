package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

// CatalogLookup resolves a product to its price and bill of materials.
type CatalogLookup interface {
	GetProduct(ctx context.Context, productID uint) (*models.ProductDetail, error)
}

type CatalogService struct {
	DB *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db}
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&products).Error; err != nil {
		return nil, utils.NewInternal(err)
	}
	return products, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, req models.NewProduct) (*models.Product, error) {
	if req.Name == "" {
		return nil, utils.NewInvalidArgument("name is required")
	}
	if req.Price.IsNegative() {
		return nil, utils.NewInvalidArgument("price must not be negative")
	}
	product := models.Product{
		Name:        req.Name,
		Price:       utils.Round2(req.Price),
		Description: req.Description,
	}
	if err := s.DB.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, utils.NewInternal(err)
	}
	utils.InfoLogger.WithField("product_id", product.ID).Info("product created")
	return &product, nil
}

// GetProduct returns the product with its recipe lines, ordered by material.
func (s *CatalogService) GetProduct(ctx context.Context, productID uint) (detail *models.ProductDetail, err error) {
	ctx, span := tracer.Start(ctx, "catalog.GetProduct")
	defer func() { endSpan(span, err) }()

	var product models.Product
	err = s.DB.WithContext(ctx).
		Preload("Recipes", func(db *gorm.DB) *gorm.DB { return db.Order("material_id ASC") }).
		First(&product, productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewProductNotFound(productID)
		}
		return nil, utils.NewInternal(err)
	}

	detail = &models.ProductDetail{
		ID:          product.ID,
		Name:        product.Name,
		Price:       product.Price,
		Description: product.Description,
		Recipes:     make([]models.RecipeLine, 0, len(product.Recipes)),
	}
	for _, r := range product.Recipes {
		detail.Recipes = append(detail.Recipes, models.RecipeLine{
			MaterialID:     r.MaterialID,
			Name:           r.MaterialName,
			QuantityNeeded: r.QuantityNeeded,
			Unit:           r.Unit,
		})
	}
	return detail, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, productID uint, req models.ProductUpdate) (*models.Product, error) {
	updates := map[string]interface{}{}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, utils.NewInvalidArgument("name must not be empty")
		}
		updates["name"] = *req.Name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, utils.NewInvalidArgument("price must not be negative")
		}
		updates["price"] = utils.Round2(*req.Price)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) == 0 {
		return nil, utils.NewInvalidArgument("at least one of name, price or description is required")
	}

	var product models.Product
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&product, productID).Error; err != nil {
			return err
		}
		if err := tx.Model(&product).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&product, productID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewProductNotFound(productID)
		}
		return nil, utils.NewInternal(err)
	}
	return &product, nil
}

// DeleteProduct removes the product and its recipe lines.
func (s *CatalogService) DeleteProduct(ctx context.Context, productID uint) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&models.Recipe{}).Error; err != nil {
			return fmt.Errorf("delete recipes: %w", err)
		}
		res := tx.Delete(&models.Product{}, productID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewProductNotFound(productID)
		}
		return utils.NewInternal(err)
	}
	utils.InfoLogger.WithField("product_id", productID).Info("product deleted")
	return nil
}

// UpsertRecipe sets the quantity of one material for a product, replacing an
// existing line for the same material.
func (s *CatalogService) UpsertRecipe(ctx context.Context, productID uint, req models.NewRecipe) (*models.Recipe, error) {
	if req.MaterialID == 0 {
		return nil, utils.NewInvalidArgument("material_id is required")
	}
	qty := utils.Round2(req.QuantityNeeded)
	if !qty.IsPositive() {
		return nil, utils.NewInvalidArgument("quantity_needed must be greater than 0")
	}

	recipe := models.Recipe{
		ProductID:      productID,
		MaterialID:     req.MaterialID,
		MaterialName:   req.Name,
		Unit:           req.Unit,
		QuantityNeeded: qty,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "material_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity_needed", "material_name", "unit"}),
		}).Create(&recipe).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewProductNotFound(productID)
		}
		return nil, utils.NewInternal(err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"product_id":  productID,
		"material_id": req.MaterialID,
	}).Info("recipe line saved")
	return &recipe, nil
}

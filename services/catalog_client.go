package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

// CatalogClient is the CatalogLookup used when the catalog runs as its own
// service.
type CatalogClient struct {
	api downstream
}

func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{api: newDownstream("catalog", baseURL, timeout)}
}

func (c *CatalogClient) GetProduct(ctx context.Context, productID uint) (*models.ProductDetail, error) {
	var detail models.ProductDetail
	err := c.api.do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d", productID), nil, &detail)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound, utils.KindProductNotFound) {
			return nil, utils.NewProductNotFound(productID)
		}
		return nil, err
	}
	if detail.ID != productID {
		return nil, utils.NewDownstreamUnavailable("catalog", fmt.Errorf("asked for product %d, got %d", productID, detail.ID))
	}
	return &detail, nil
}

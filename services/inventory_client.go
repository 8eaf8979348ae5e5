package services

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/yeremiapane/pos-backend/models"
)

// InventoryClient is the StockLedger used when inventory runs as its own
// service.
type InventoryClient struct {
	api downstream
}

func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{api: newDownstream("inventory", baseURL, timeout)}
}

func (c *InventoryClient) StockOut(ctx context.Context, orderRef string, items []models.StockLine) error {
	return c.api.do(ctx, http.MethodPost, "/api/inventory/stock-out", models.StockOutRequest{
		OrderRef: orderRef,
		Items:    items,
	}, nil)
}

func (c *InventoryClient) TransactionsByRef(ctx context.Context, orderRef string) ([]models.StockTransaction, error) {
	var txs []models.StockTransaction
	path := "/api/inventory/transactions?order_id=" + url.QueryEscape(orderRef)
	if err := c.api.do(ctx, http.MethodGet, path, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *InventoryClient) Release(ctx context.Context, orderRef string) (*models.ReleaseResult, error) {
	var result models.ReleaseResult
	if err := c.api.do(ctx, http.MethodPost, "/api/inventory/release", models.ReleaseRequest{OrderRef: orderRef}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeremiapane/pos-backend/models"
	"github.com/yeremiapane/pos-backend/utils"
)

func jsonServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestCatalogClient_GetProduct(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		delay      time.Duration
		wantKind   utils.ErrorKind
		wantRecipe int
	}{
		{
			name:       "found",
			status:     http.StatusOK,
			body:       `{"status":"success","message":"Product detail","data":{"id":7,"name":"Latte","price":25000.5,"recipes":[{"material_id":1,"quantity_needed":18,"unit":"gram"},{"material_id":2,"quantity_needed":"150.25","unit":"ml"}]}}`,
			wantRecipe: 2,
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			body:     `{"status":"error","kind":"ProductNotFound","message":"Product with id 7 not found","detail":{"product_id":7}}`,
			wantKind: utils.KindProductNotFound,
		},
		{
			name:     "plain not found",
			status:   http.StatusNotFound,
			body:     `{"status":"error","kind":"NotFound","message":"not found"}`,
			wantKind: utils.KindProductNotFound,
		},
		{
			name:     "route missing",
			status:   http.StatusNotFound,
			body:     `404 page not found`,
			wantKind: utils.KindDownstreamUnavailable,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"status":"error","kind":"Internal","message":"internal server error"}`,
			wantKind: utils.KindDownstreamUnavailable,
		},
		{
			name:     "slow",
			status:   http.StatusOK,
			body:     `{"status":"success","data":{"id":7}}`,
			delay:    300 * time.Millisecond,
			wantKind: utils.KindDownstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/products/7", r.URL.Path)
				if tt.delay > 0 {
					time.Sleep(tt.delay)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			client := NewCatalogClient(server.URL, 100*time.Millisecond)
			detail, err := client.GetProduct(context.Background(), 7)

			if tt.wantKind != "" {
				requireKind(t, err, tt.wantKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Latte", detail.Name)
			assertDecimal(t, "25000.5", detail.Price)
			require.Len(t, detail.Recipes, tt.wantRecipe)
			assertDecimal(t, "150.25", detail.Recipes[1].QuantityNeeded)
		})
	}
}

func TestCatalogClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewCatalogClient(url, time.Second).GetProduct(context.Background(), 1)
	appErr := requireKind(t, err, utils.KindDownstreamUnavailable)
	assert.Equal(t, "catalog", appErr.Detail["component"])
}

func TestInventoryClient_StockOut(t *testing.T) {
	var got models.StockOutRequest
	server := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/inventory/stock-out", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		if got.OrderRef == "ref-short" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"status":"error","kind":"InsufficientStock","message":"Insufficient stock","detail":{"material_id":1,"requested":12,"available":10}}`))
			return
		}
		w.Write([]byte(`{"status":"success","message":"Stock out successful"}`))
	})
	client := NewInventoryClient(server.URL, time.Second)

	err := client.StockOut(context.Background(), "ref-ok", []models.StockLine{{MaterialID: 1, Quantity: dec("6")}})
	require.NoError(t, err)
	assert.Equal(t, "ref-ok", got.OrderRef)
	require.Len(t, got.Items, 1)
	assertDecimal(t, "6", got.Items[0].Quantity)

	err = client.StockOut(context.Background(), "ref-short", []models.StockLine{{MaterialID: 1, Quantity: dec("12")}})
	appErr := requireKind(t, err, utils.KindInsufficientStock)
	assert.Equal(t, json.Number("12"), appErr.Detail["requested"])
	assert.Equal(t, json.Number("10"), appErr.Detail["available"])
}

func TestInventoryClient_TransactionsAndRelease(t *testing.T) {
	server := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/inventory/transactions":
			assert.Equal(t, "ref 1", r.URL.Query().Get("order_id"))
			w.Write([]byte(`{"status":"success","data":[{"id":3,"material_id":1,"order_id":"ref 1","kind":"out","quantity":6}]}`))
		case "/api/inventory/release":
			var req models.ReleaseRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ref 1", req.OrderRef)
			w.Write([]byte(`{"status":"success","data":{"order_id":"ref 1","lines":[{"material_id":1,"quantity":6}],"already_released":false}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client := NewInventoryClient(server.URL, time.Second)

	txs, err := client.TransactionsByRef(context.Background(), "ref 1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionOut, txs[0].Kind)

	result, err := client.Release(context.Background(), "ref 1")
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assertDecimal(t, "6", result.Lines[0].Quantity)
}

func TestDownstream_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	var traceparent string
	server := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.Write([]byte(`{"status":"success","data":{"id":1}}`))
	})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	_, err := NewCatalogClient(server.URL, time.Second).GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", traceparent)
}

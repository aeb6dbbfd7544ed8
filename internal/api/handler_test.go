package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router  *gin.Engine
	handler *Handler
	store   *memory.Store

	branch int64
	bar    int64
	table  int64
	beer   int64
	burger int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	s := &testServer{store: st}
	s.branch = st.AddBranch("Main")
	s.bar = st.AddSection(s.branch, "Bar", "BAR")
	s.table = st.AddTable(s.branch, "T1")
	drinks := st.AddProductType("Drinks", "BAR")
	s.beer = st.AddProduct(s.branch, "Beer", decimal.RequireFromString("4.00"), drinks)
	s.burger = st.AddProduct(s.branch, "Burger", decimal.RequireFromString("12.50"), 0)

	inventory := service.NewInventoryService(st, nil, 4*time.Hour)
	orders := service.NewOrderService(st, inventory, nil, nil, service.OrderConfig{})
	drafts := service.NewDraftService(st, inventory)
	reservations := service.NewReservationService(inventory)

	s.router = gin.New()
	s.handler = NewHandler(orders, drafts, inventory, reservations)
	s.handler.SetupRoutes(s.router, nil)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "7")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (s *testServer) stock(t *testing.T, productID int64, sectionID *int64, qty int) {
	t.Helper()
	body := map[string]interface{}{
		"product_id": productID,
		"delta":      qty,
		"reason":     "ADJUST",
	}
	if sectionID != nil {
		body["section_id"] = *sectionID
	} else {
		body["branch_id"] = s.branch
	}
	w, _ := s.do(t, http.MethodPost, "/api/v1/inventory/adjust", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestAdjustAndGetStock(t *testing.T) {
	s := newTestServer(t)
	s.stock(t, s.beer, &s.bar, 10)

	w, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d?section_id=%d", s.beer, s.bar), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10, body["qty_on_hand"])

	w, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d/reconcile?section_id=%d", s.beer, s.bar), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["drift"])

	w, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/movements?product_id=%d", s.beer), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["movements"], 1)
}

func TestCreateOrderAndReadBack(t *testing.T) {
	s := newTestServer(t)
	s.stock(t, s.burger, nil, 5)

	w, body := s.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"table_id": s.table,
		"items":    []map[string]interface{}{{"product_id": s.burger, "qty": 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "ACTIVE", body["status"])
	assert.EqualValues(t, 7, body["user_id"])
	assert.Equal(t, "25", body["total"])
	id := int64(body["id"].(float64))

	w, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, id, body["id"])

	w, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders?branch_id=%d", s.branch), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.stock(t, s.beer, &s.bar, 1)
	s.stock(t, s.burger, nil, 5)

	t.Run("malformed body", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{"items": "nope"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "InvalidRequest", body["kind"])
	})

	t.Run("missing order", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/api/v1/orders/999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFound", body["kind"])
	})

	t.Run("bad id", func(t *testing.T) {
		w, _ := s.do(t, http.MethodGet, "/api/v1/orders/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
			"section_id": s.bar,
			"items":      []map[string]interface{}{{"product_id": s.beer, "qty": 3}},
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "InsufficientStock", body["kind"])
		assert.EqualValues(t, s.beer, body["product_id"])
		assert.EqualValues(t, 1, body["available"])
		assert.EqualValues(t, 3, body["requested"])
	})

	t.Run("table conflict", func(t *testing.T) {
		order := map[string]interface{}{
			"table_id": s.table,
			"items":    []map[string]interface{}{{"product_id": s.burger, "qty": 1}},
		}
		w, first := s.do(t, http.MethodPost, "/api/v1/orders", order)
		require.Equal(t, http.StatusCreated, w.Code)

		w, body := s.do(t, http.MethodPost, "/api/v1/orders", order)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "Conflict", body["kind"])
		assert.Equal(t, first["id"], body["order_id"])
		assert.Equal(t, "ACTIVE", body["status"])
	})

	t.Run("illegal transition", func(t *testing.T) {
		w, created := s.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
			"items": []map[string]interface{}{{"product_id": s.burger, "qty": 1}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
		path := fmt.Sprintf("/api/v1/orders/%d/status", int64(created["id"].(float64)))

		w, _ = s.do(t, http.MethodPatch, path, map[string]string{"status": "cancelled"})
		require.Equal(t, http.StatusOK, w.Code)
		w, body := s.do(t, http.MethodPatch, path, map[string]string{"status": "PAID"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "IllegalTransition", body["kind"])
	})
}

func TestRefundItemsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.stock(t, s.beer, &s.bar, 10)

	w, created := s.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"section_id": s.bar,
		"status":     "PAID",
		"items":      []map[string]interface{}{{"product_id": s.beer, "qty": 5}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int64(created["id"].(float64))

	w, counter := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/refund-items", id), map[string]interface{}{
		"lines": []map[string]interface{}{{"product_id": s.beer, "qty": 8}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "REFUNDED", counter["status"])
	assert.Equal(t, "-20", counter["total"])
}

func TestReservationEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.stock(t, s.beer, &s.bar, 10)

	w, body := s.do(t, http.MethodPost, "/api/v1/reservations/keys", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	key := body["reservation_key"].(string)

	line := map[string]interface{}{"reservation_key": key, "product_id": s.beer, "section_id": s.bar, "qty": 3}
	w, body = s.do(t, http.MethodPost, "/api/v1/reservations/reserve", line)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 7, body["after"])

	w, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sections/%d/reservations/release", s.bar), map[string]string{"reservation_key": key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 3, body["released"])
}

func TestDraftEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, draft := s.do(t, http.MethodPost, "/api/v1/drafts", map[string]interface{}{
		"cart": map[string]interface{}{"lines": []map[string]interface{}{{"product_id": s.burger, "qty": 1, "price": "12.50"}}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 7, draft["user_id"])
	id := int64(draft["id"].(float64))

	w, body := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/suspend", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUSPENDED", body["status"])

	w, body = s.do(t, http.MethodGet, "/api/v1/drafts?status=suspended", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["drafts"], 1)

	w, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/drafts/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/drafts/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeProjection struct {
	levels map[int64]redisclient.StockLevel
}

func (p *fakeProjection) GetStock(_ context.Context, productID, _ int64, _ *int64) (redisclient.StockLevel, bool, error) {
	l, ok := p.levels[productID]
	return l, ok, nil
}

func TestProjectedStock(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d/projected?branch_id=%d", s.beer, s.branch), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	proj := &fakeProjection{levels: map[int64]redisclient.StockLevel{s.beer: {ProductID: s.beer, Quantity: 6, Seq: 41}}}
	s.handler.WithProjection(proj)

	w, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d/projected?section_id=%d", s.beer, s.bar), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 6, body["qty_on_hand"])
	assert.EqualValues(t, 41, body["movement_id"])

	w, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d/projected?branch_id=%d", s.burger, s.branch), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d/projected", s.beer), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

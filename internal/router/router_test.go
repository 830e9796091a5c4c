package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dinein_backend/internal/config"
	"dinein_backend/internal/middleware"
	"dinein_backend/internal/models"
	"dinein_backend/internal/payment"
	"dinein_backend/internal/realtime"
	"dinein_backend/internal/repositories"
	"dinein_backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret        = "router-test-secret"
	testWebhookSecret = "router-test-webhook"
)

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	hub    *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	cfg := &config.Config{
		JWTSecret:          testSecret,
		TaxRate:            decimal.RequireFromString("0.10"),
		MergeOpenOrders:    true,
		WSHeartbeatTimeout: time.Minute,
		CORSAllowedOrigins: []string{"*"},
		PaymentProvider:    config.PaymentProviderMock,

		PaymentWebhookSecret: testWebhookSecret,
	}
	err := Setup(engine, Dependencies{
		Config:    cfg,
		Orders:    repositories.NewMemoryOrderRepository(),
		Hub:       hub,
		Processor: payment.NewMockProcessor(0),
	})
	require.NoError(t, err)
	return &testServer{t: t, engine: engine, hub: hub}
}

func (s *testServer) token(role models.Role, userID string) string {
	s.t.Helper()
	tok, err := utils.SignToken([]byte(testSecret), utils.Claims{UserID: userID, Role: string(role), RestaurantID: "r1"}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

// do sends a request as the given session. An empty token means a guest at table.
func (s *testServer) do(method, path, token, table string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set(middleware.HeaderRestaurantID, "r1")
		req.Header.Set(middleware.HeaderTableID, table)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

// webhook sends a provider callback carrying secret instead of a token.
func (s *testServer) webhook(path, secret string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderWebhookSecret, secret)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o), w.Body.String())
	return o
}

type errorBody struct {
	Error utils.APIError `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.APIError {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}

func orderBody() map[string]interface{} {
	return map[string]interface{}{
		"restaurantId": "r1",
		"tableId":      "t1",
		"items": []map[string]interface{}{
			{"menuItemId": "m-burger", "name": "Burger", "unitPrice": "10.00", "quantity": 2},
		},
	}
}

func (s *testServer) createOrder() models.Order {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/orders", "", "t1", orderBody())
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Order  models.Order `json:"order"`
		Merged bool         `json:"merged"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(s.t, resp.Merged)
	return resp.Order
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndMergeOrders(t *testing.T) {
	s := newTestServer(t)
	first := s.createOrder()
	assert.Equal(t, models.OrderStatusPending, first.Status)
	assert.True(t, first.Total.Equal(decimal.RequireFromString("22.00")), first.Total.String())

	w := s.do(http.MethodPost, "/api/v1/orders", "", "t1", orderBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"merged":true`)

	w = s.do(http.MethodPost, "/api/v1/orders", "", "t1", map[string]interface{}{"restaurantId": "r1", "tableId": "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, utils.ErrCodeValidationFailed, decodeError(t, w).Code)
}

func TestListOrdersIsStaffOnly(t *testing.T) {
	s := newTestServer(t)
	s.createOrder()

	w := s.do(http.MethodGet, "/api/v1/orders", "", "t1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/orders?status=pending", s.token(models.RoleWaiter, "w1"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data     []models.Order `json:"data"`
		Total    int            `json:"total"`
		Page     int            `json:"page"`
		PageSize int            `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PageSize)

	w = s.do(http.MethodGet, "/api/v1/orders?page=0", s.token(models.RoleWaiter, "w1"), "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder()
	waiter := s.token(models.RoleWaiter, "w1")
	cook := s.token(models.RoleKitchenStaff, "k1")

	w := s.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/accept", cook, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/accept", waiter, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusAccepted, decodeOrder(t, w).Status)

	w = s.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/status", waiter, "", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusConflict, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, utils.ErrCodeInvalidTransition, apiErr.Code)
	assert.Equal(t, "accepted", apiErr.Context["currentStatus"])
	assert.NotEmpty(t, apiErr.Context["allowedNext"])

	w = s.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/status", waiter, "", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	itemID := o.Items[0].ID
	for _, status := range []string{"preparing", "ready"} {
		w = s.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/items/"+itemID+"/status", cook, "", map[string]string{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, models.OrderStatusReady, decodeOrder(t, w).Status)

	w = s.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/items/missing/status", cook, "", map[string]string{"status": "served"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuestScope(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder()

	w := s.do(http.MethodGet, "/api/v1/orders/"+o.ID, "", "t1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/orders/"+o.ID, "", "t2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/orders/does-not-exist", "", "t1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder()
	waiter := s.token(models.RoleWaiter, "w1")

	w := s.do(http.MethodPost, "/api/v1/payments/confirm", "", "t1", map[string]string{"orderId": o.ID, "paymentReference": "pi_1"})
	assert.Equal(t, http.StatusForbidden, w.Code, "guests cannot mark their own order paid")

	w = s.do(http.MethodPost, "/api/v1/payments/confirm", waiter, "", map[string]string{"orderId": o.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/payments/confirm", waiter, "", map[string]string{"orderId": o.ID, "paymentReference": "decline_1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = s.webhook("/api/v1/payments/confirm", "not-the-secret", map[string]string{"orderId": o.ID, "paymentReference": "pi_1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.webhook("/api/v1/payments/confirm", testWebhookSecret, map[string]string{"orderId": o.ID, "paymentReference": "pi_1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusPaid, decodeOrder(t, w).PaymentStatus)

	body := map[string]string{"orderId": o.ID, "reason": "wrong table"}
	w = s.do(http.MethodPost, "/api/v1/payments/refund", waiter, "", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/payments/refund", s.token(models.RoleAdmin, "a1"), "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusRefunded, decodeOrder(t, w).PaymentStatus)
}

func TestStaffConfirmsCardPayment(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder()

	w := s.do(http.MethodPost, "/api/v1/payments/confirm", s.token(models.RoleKitchenStaff, "k1"), "",
		map[string]string{"orderId": o.ID, "paymentReference": "pi_2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/payments/confirm", s.token(models.RoleWaiter, "w1"), "",
		map[string]string{"orderId": o.ID, "paymentReference": "pi_2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	paid := decodeOrder(t, w)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, "pi_2", paid.Payment.Reference)
}

func TestCashPaymentOverHTTP(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder()

	w := s.do(http.MethodPost, "/api/v1/orders/"+o.ID+"/request-cash-payment", "", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusPendingCash, decodeOrder(t, w).PaymentStatus)

	cash := map[string]string{"amountReceived": "30.00", "tipAmount": "2.00"}
	w = s.do(http.MethodPost, "/api/v1/orders/"+o.ID+"/confirm-cash-payment", "", "t1", cash)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/orders/"+o.ID+"/confirm-cash-payment", s.token(models.RoleWaiter, "w1"), "", cash)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusPaid, decodeOrder(t, w).PaymentStatus)
}

func TestWebsocketReceivesOrderEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + s.token(models.RoleWaiter, "w1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	room := realtime.RoleRoom("r1", models.RoleWaiter)
	require.Eventually(t, func() bool { return s.hub.RoomSize(room) == 1 }, 2*time.Second, 10*time.Millisecond)

	o := s.createOrder()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "order:new", ev.Name)
	assert.Contains(t, string(ev.Data), o.ID)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

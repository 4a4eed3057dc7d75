package integration

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"payment-settlement-core/config"
	gw "payment-settlement-core/internal/adapter/gateway"
	httpHandler "payment-settlement-core/internal/adapter/http/handler"
	redisStorage "payment-settlement-core/internal/adapter/storage/redis"
	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewaySecret = "integration-secret"

// signParams mirrors the gateway wire protocol: hex HMAC-SHA256 over the
// sorted non-empty key=value pairs, excluding the sign field itself.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// gatewayStub stands in for the external payment gateway. It answers the
// create and refund endpoints with the standard envelope.
func gatewayStub(t *testing.T) *httptest.Server {
	t.Helper()
	var seq atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payments", func(w http.ResponseWriter, r *http.Request) {
		n := seq.Add(1)
		fmt.Fprintf(w, `{"code":"OK","data":{"gateway_order_id":"GW-%d","payment_url":"https://pay.example/GW-%d"}}`, n, n)
	})
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		n := seq.Add(1)
		fmt.Fprintf(w, `{"code":"OK","data":{"gateway_refund_id":"GWR-%d","trade_status":"WAIT_BUYER_PAY"}}`, n)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type apiStack struct {
	router     *gin.Engine
	orders     *inMemoryOrderRepo
	sink       *collectorSink
	orderSvc   ports.OrderService
	refundSvc  ports.RefundService
	reconciler ports.ReconcilerService
}

func newAPIStack(t *testing.T) *apiStack {
	t.Helper()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	orders := newInMemoryOrderRepo()
	operators := newInMemoryOperatorRepo()
	audits := newInMemoryAuditRepo()
	transactor := inMemoryTransactor{}
	sink := &collectorSink{}

	lock := redisStorage.NewOrderLock(rdb, 2*time.Second, 3, 5*time.Millisecond, log)
	idem := redisStorage.NewIdempotencyCache(rdb)

	stub := gatewayStub(t)
	registry := gw.NewRegistry()
	registry.Register(gw.NewHostedAdapter(domain.MethodAlipay, config.GatewayConfig{
		Endpoint:   stub.URL,
		MerchantID: "MCH-IT",
		Secret:     gatewaySecret,
		NotifyURL:  "https://settlement.example/callbacks/alipay",
		Timeout:    2 * time.Second,
	}))

	confirmations := service.NewConfirmationTracker(nil, log)
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("integration-jwt-secret", time.Hour, "settlement-core")
	auditSvc := service.NewAuditService(audits, log)

	authSvc := service.NewAuthService(operators, hashSvc, tokenSvc)
	orderSvc := service.NewOrderService(orders, registry, idem, transactor, lock, sink, auditSvc, log)
	reconciler := service.NewReconciler(orders, registry, transactor, lock, confirmations, sink, log)
	refundSvc := service.NewRefundService(orders, registry, transactor, lock, sink, auditSvc, log)
	reportingSvc := service.NewReportingService(orders)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:       authSvc,
		OrderSvc:      orderSvc,
		RefundSvc:     refundSvc,
		ReconcilerSvc: reconciler,
		ReportingSvc:  reportingSvc,
		TokenSvc:      tokenSvc,
		Logger:        log,
	})

	return &apiStack{
		router:     router,
		orders:     orders,
		sink:       sink,
		orderSvc:   orderSvc,
		refundSvc:  refundSvc,
		reconciler: reconciler,
	}
}

func (s *apiStack) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decodeData unwraps the success envelope into out.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.ErrorCode
}

func (s *apiStack) operatorToken(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "ops_admin",
		"password": "correct horse battery",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "ops_admin",
		"password": "correct horse battery",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login struct {
		Token string `json:"token"`
	}
	decodeData(t, w, &login)
	require.NotEmpty(t, login.Token)
	return login.Token
}

func (s *apiStack) createOrder(t *testing.T, merchantOrderID, amount string) orderView {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"merchant_order_id": merchantOrderID,
		"user_id":           "user-42",
		"amount":            amount,
		"currency":          "CNY",
		"method":            "ALIPAY",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order orderView
	decodeData(t, w, &order)
	return order
}

type orderView struct {
	ID              string  `json:"id"`
	MerchantOrderID string  `json:"merchant_order_id"`
	Status          string  `json:"status"`
	GatewayOrderID  string  `json:"gateway_order_id"`
	PaymentURL      string  `json:"payment_url"`
	PaidAmount      *string `json:"paid_amount"`
	Refunds         []struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	} `json:"refunds"`
}

// successCallback builds a signed success notification for the order.
func successCallback(merchantOrderID, gatewayOrderID, amount string) map[string]string {
	params := map[string]string{
		"out_trade_no":     merchantOrderID,
		"gateway_order_id": gatewayOrderID,
		"trade_status":     "TRADE_SUCCESS",
		"total_amount":     amount,
		"currency":         "CNY",
		"paid_at":          time.Now().UTC().Format(time.RFC3339),
	}
	params["sign"] = signParams(params, gatewaySecret)
	return params
}

func TestHealthEndpoint(t *testing.T) {
	s := newAPIStack(t)
	w := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	s := newAPIStack(t)

	order := s.createOrder(t, "M-IT-1", "128.00")
	assert.Equal(t, "PENDING", order.Status)
	assert.NotEmpty(t, order.GatewayOrderID)
	assert.NotEmpty(t, order.PaymentURL)
	assert.Len(t, s.sink.byName("payment_order.created"), 1)

	w := s.do(t, http.MethodPost, "/api/v1/callbacks/alipay",
		successCallback("M-IT-1", order.GatewayOrderID, "128.00"), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SUCCESS", w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var settled orderView
	decodeData(t, w, &settled)
	assert.Equal(t, "SUCCEEDED", settled.Status)
	require.NotNil(t, settled.PaidAmount)
	assert.Equal(t, "128", *settled.PaidAmount)

	// Redelivery of the same outcome is acknowledged without a second event.
	w = s.do(t, http.MethodPost, "/api/v1/callbacks/alipay",
		successCallback("M-IT-1", order.GatewayOrderID, "128.00"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCESS", w.Body.String())
	assert.Len(t, s.sink.byName("payment_order.succeeded"), 1)
}

func TestCallbackWithBadSignatureRejected(t *testing.T) {
	s := newAPIStack(t)
	order := s.createOrder(t, "M-IT-2", "55.00")

	params := successCallback("M-IT-2", order.GatewayOrderID, "55.00")
	params["trade_status"] = "TRADE_CLOSED" // tampered after signing

	w := s.do(t, http.MethodPost, "/api/v1/callbacks/alipay", params, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_001", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil, "")
	var current orderView
	decodeData(t, w, &current)
	assert.Equal(t, "PENDING", current.Status)
}

func TestCallbackAmountMismatchRejected(t *testing.T) {
	s := newAPIStack(t)
	order := s.createOrder(t, "M-IT-3", "200.00")

	params := map[string]string{
		"out_trade_no":     "M-IT-3",
		"gateway_order_id": order.GatewayOrderID,
		"trade_status":     "TRADE_SUCCESS",
		"total_amount":     "1.00",
		"currency":         "CNY",
	}
	params["sign"] = signParams(params, gatewaySecret)

	w := s.do(t, http.MethodPost, "/api/v1/callbacks/alipay", params, "")
	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.Equal(t, "SEC_002", errorCode(t, w))
	assert.Empty(t, s.sink.byName("payment_order.succeeded"))
}

func TestDuplicateLiveOrderRejected(t *testing.T) {
	s := newAPIStack(t)
	s.createOrder(t, "M-IT-4", "10.00")

	w := s.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"merchant_order_id": "M-IT-4",
		"user_id":           "user-42",
		"amount":            "10.00",
		"currency":          "CNY",
		"method":            "ALIPAY",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PAY_003", errorCode(t, w))
}

func TestCreateOrderRejectsBadAmount(t *testing.T) {
	s := newAPIStack(t)
	w := s.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"merchant_order_id": "M-IT-5",
		"user_id":           "user-42",
		"amount":            "not-a-number",
		"currency":          "CNY",
		"method":            "ALIPAY",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PAY_001", errorCode(t, w))
}

func TestRefundOverHTTP(t *testing.T) {
	s := newAPIStack(t)
	token := s.operatorToken(t)

	order := s.createOrder(t, "M-IT-6", "300.00")
	w := s.do(t, http.MethodPost, "/api/v1/callbacks/alipay",
		successCallback("M-IT-6", order.GatewayOrderID, "300.00"), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Refunds require an operator token.
	w = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/refunds", map[string]string{
		"amount":   "120.00",
		"currency": "CNY",
		"reason":   "partial return",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/refunds", map[string]string{
		"amount":   "120.00",
		"currency": "CNY",
		"reason":   "partial return",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var refund struct {
		Status          string `json:"status"`
		GatewayRefundID string `json:"gateway_refund_id"`
	}
	decodeData(t, w, &refund)
	assert.Equal(t, "PENDING", refund.Status)
	assert.NotEmpty(t, refund.GatewayRefundID)
	assert.Len(t, s.sink.byName("refund.created"), 1)

	// The over-balance follow-up is rejected against the reserved balance.
	w = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/refunds", map[string]string{
		"amount":   "200.00",
		"currency": "CNY",
		"reason":   "too much",
	}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PAY_006", errorCode(t, w))
}

func TestStatisticsOverHTTP(t *testing.T) {
	s := newAPIStack(t)
	token := s.operatorToken(t)

	order := s.createOrder(t, "M-IT-7", "77.50")
	s.createOrder(t, "M-IT-8", "20.00")
	w := s.do(t, http.MethodPost, "/api/v1/callbacks/alipay",
		successCallback("M-IT-7", order.GatewayOrderID, "77.50"), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/statistics", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats struct {
		TotalOrders         int64             `json:"total_orders"`
		SucceededCount      int64             `json:"succeeded_count"`
		TotalPaidByCurrency map[string]string `json:"total_paid_by_currency"`
	}
	decodeData(t, w, &stats)
	assert.Equal(t, int64(2), stats.TotalOrders)
	assert.Equal(t, int64(1), stats.SucceededCount)
	assert.Equal(t, "77.5", stats.TotalPaidByCurrency["CNY"])
}

func TestOrderListByUser(t *testing.T) {
	s := newAPIStack(t)
	s.createOrder(t, "M-IT-9", "10.00")
	s.createOrder(t, "M-IT-10", "20.00")

	w := s.do(t, http.MethodGet, "/api/v1/orders?user_id=user-42&page=1&limit=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var list struct {
		Orders []orderView `json:"orders"`
		Total  int64       `json:"total"`
	}
	decodeData(t, w, &list)
	assert.Equal(t, int64(2), list.Total)
	assert.Len(t, list.Orders, 2)
}

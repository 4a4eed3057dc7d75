package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-settlement-core/config"
	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cryptoOrder(t *testing.T) *domain.PaymentOrder {
	t.Helper()
	order, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: "M-600",
		UserID:          "u-6",
		Amount:          domain.MustMoney("150.00", "USDT"),
		Method:          domain.MethodUSDTTRC20,
		ExpireTime:      time.Now().Add(time.Hour),
	}, time.Now())
	require.NoError(t, err)
	return order
}

func TestCryptoAdapter_CreatePayment_AllocatesAddress(t *testing.T) {
	var got map[string]string
	srv := gatewayStub(t, "/v1/deposits", map[string]string{
		"gateway_order_id": "DEP-600",
		"address":          "TGeneratedDepositAddress",
		"qr_code":          "qr-data",
	}, &got)
	defer srv.Close()

	adapter := NewCryptoAdapter(domain.MethodUSDTTRC20, hostedConfig(srv.URL))
	data, err := adapter.CreatePayment(context.Background(), cryptoOrder(t))
	require.NoError(t, err)

	assert.Equal(t, "DEP-600", data.GatewayOrderID)
	assert.Equal(t, "TGeneratedDepositAddress", data.CryptoAddress)
	assert.Empty(t, data.PaymentURL)

	assert.Equal(t, "TRON", got["network"])
	assert.Equal(t, "USDT_TRC20", got["asset"])
	assert.True(t, verifySignature(got, testSecret))
}

func TestCryptoAdapter_QueryPayment_CarriesConfirmations(t *testing.T) {
	srv := gatewayStub(t, "/v1/deposits/query", map[string]any{
		"gateway_order_id": "DEP-600",
		"status":           "PROCESSING",
		"amount":           "150.00",
		"currency":         "USDT",
		"tx_hash":          "abc123",
		"confirmations":    9,
	}, nil)
	defer srv.Close()

	adapter := NewCryptoAdapter(domain.MethodUSDTERC20, hostedConfig(srv.URL))
	data, err := adapter.QueryPayment(context.Background(), "DEP-600")
	require.NoError(t, err)

	assert.Equal(t, ports.OutcomePending, data.Outcome)
	assert.Equal(t, "abc123", data.TxHash)
	assert.Equal(t, 9, data.Confirmations)
	require.NotNil(t, data.PaidAmount)
}

func TestCryptoAdapter_ParseCallback_Confirmations(t *testing.T) {
	adapter := NewCryptoAdapter(domain.MethodBTC, config.GatewayConfig{Secret: testSecret})
	raw := signedCallback(t, map[string]string{
		"out_trade_no":     "M-600",
		"gateway_order_id": "DEP-600",
		"trade_status":     "SUCCESS",
		"total_amount":     "150.00",
		"currency":         "USDT",
		"tx_hash":          "abc123",
		"confirmations":    "4",
	})

	cb, err := adapter.ParseCallback(raw)
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeSuccess, cb.Outcome)
	assert.Equal(t, "abc123", cb.TxHash)
	assert.Equal(t, 4, cb.Confirmations)
}

func TestRPCConfirmationSource_QueriesIndexer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tx/abc123", r.URL.Path)
		_, _ = w.Write([]byte(`{"confirmations": 17}`))
	}))
	defer srv.Close()

	source := NewRPCConfirmationSource(map[string]string{"TRON": srv.URL}, time.Second)
	n, err := source.Confirmations(context.Background(), "TRON", "abc123")
	require.NoError(t, err)
	assert.Equal(t, 17, n)
}

func TestRPCConfirmationSource_UnknownNetwork(t *testing.T) {
	source := NewRPCConfirmationSource(map[string]string{"TRON": "http://unused"}, time.Second)
	_, err := source.Confirmations(context.Background(), "BITCOIN", "abc123")
	assert.Error(t, err)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	adapter := NewHostedAdapter(domain.MethodAlipay, config.GatewayConfig{Secret: testSecret})
	reg.Register(adapter)

	got, err := reg.Adapter(domain.MethodAlipay)
	require.NoError(t, err)
	assert.Same(t, adapter, got.(*HostedAdapter))

	_, err = reg.Adapter(domain.MethodWechat)
	assert.Error(t, err, "unregistered rails are rejected")

	assert.Contains(t, reg.Methods(), "ALIPAY")
}

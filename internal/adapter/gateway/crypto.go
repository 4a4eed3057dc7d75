package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-settlement-core/config"
	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
)

// CryptoAdapter implements ports.GatewayAdapter for crypto rails backed by a
// custody service: it allocates a deposit address per order, and the custody
// service notifies us as the deposit transaction gathers confirmations.
type CryptoAdapter struct {
	method domain.PaymentMethod
	cfg    config.GatewayConfig
	client *apiClient
}

// NewCryptoAdapter creates an adapter for a crypto payment rail.
func NewCryptoAdapter(method domain.PaymentMethod, cfg config.GatewayConfig) *CryptoAdapter {
	return &CryptoAdapter{
		method: method,
		cfg:    cfg,
		client: newAPIClient(cfg.Endpoint, cfg.Secret, cfg.Timeout),
	}
}

// Method returns the rail this adapter serves.
func (a *CryptoAdapter) Method() domain.PaymentMethod { return a.method }

// CreatePayment allocates a deposit address for the order.
func (a *CryptoAdapter) CreatePayment(ctx context.Context, order *domain.PaymentOrder) (*ports.CreatePaymentData, error) {
	params := map[string]string{
		"merchant_id":  a.cfg.MerchantID,
		"out_trade_no": order.MerchantOrderID(),
		"network":      a.method.Network(),
		"asset":        a.method.Code(),
		"amount":       order.Amount().Amount().String(),
		"currency":     order.Amount().Currency(),
		"notify_url":   a.cfg.NotifyURL,
		"expire_at":    order.ExpireTime().UTC().Format(time.RFC3339),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	data, err := a.client.post(ctx, "/v1/deposits", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GatewayOrderID string `json:"gateway_order_id"`
		Address        string `json:"address"`
		QRCode         string `json:"qr_code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode deposit response: %w", err))
	}

	return &ports.CreatePaymentData{
		GatewayOrderID: payload.GatewayOrderID,
		CryptoAddress:  payload.Address,
		QRCode:         payload.QRCode,
	}, nil
}

// QueryPayment asks the custody service for the deposit state, including the
// observed transaction hash and its confirmation count.
func (a *CryptoAdapter) QueryPayment(ctx context.Context, gatewayOrderID string) (*ports.QueryPaymentData, error) {
	params := map[string]string{
		"merchant_id":      a.cfg.MerchantID,
		"gateway_order_id": gatewayOrderID,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	data, err := a.client.post(ctx, "/v1/deposits/query", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GatewayOrderID string `json:"gateway_order_id"`
		Status         string `json:"status"`
		Amount         string `json:"amount"`
		Currency       string `json:"currency"`
		TxHash         string `json:"tx_hash"`
		Confirmations  int    `json:"confirmations"`
		ConfirmedAt    string `json:"confirmed_at"`
		FailureReason  string `json:"failure_reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode deposit query: %w", err))
	}

	result := &ports.QueryPaymentData{
		GatewayOrderID: payload.GatewayOrderID,
		Outcome:        mapTradeStatus(a.method.Code(), payload.Status),
		FailureReason:  payload.FailureReason,
		TxHash:         payload.TxHash,
		Confirmations:  payload.Confirmations,
	}
	if payload.Amount != "" {
		paid, err := domain.ParseMoney(payload.Amount, payload.Currency)
		if err != nil {
			return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("parse deposit amount: %w", err))
		}
		result.PaidAmount = &paid
	}
	if t, err := time.Parse(time.RFC3339, payload.ConfirmedAt); err == nil {
		result.PaidAt = &t
	}
	return result, nil
}

// ParseCallback verifies a custody notification's HMAC and maps it to
// CallbackData, confirmation count included.
func (a *CryptoAdapter) ParseCallback(raw []byte) (*ports.CallbackData, error) {
	return parseSignedCallback(raw, a.method, a.cfg.Secret)
}

// Refund requests an on-chain withdrawal back to the payer's address.
func (a *CryptoAdapter) Refund(ctx context.Context, gatewayOrderID, refundID string, amount domain.Money) (*ports.RefundData, error) {
	params := map[string]string{
		"merchant_id":      a.cfg.MerchantID,
		"gateway_order_id": gatewayOrderID,
		"out_refund_no":    refundID,
		"amount":           amount.Amount().String(),
		"currency":         amount.Currency(),
		"notify_url":       a.cfg.NotifyURL,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	data, err := a.client.post(ctx, "/v1/withdrawals", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GatewayRefundID string `json:"gateway_refund_id"`
		Status          string `json:"status"`
		FailureReason   string `json:"failure_reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode withdrawal response: %w", err))
	}

	return &ports.RefundData{
		GatewayRefundID: payload.GatewayRefundID,
		Outcome:         mapTradeStatus(a.method.Code(), payload.Status),
		FailureReason:   payload.FailureReason,
	}, nil
}

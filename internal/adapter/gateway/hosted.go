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

// tradeStatusByRail maps each rail's trade-status vocabulary into the
// internal outcome set. Anything unlisted maps to pending; an unknown
// status is never treated as success.
var tradeStatusByRail = map[string]map[string]ports.PaymentOutcome{
	domain.MethodAlipay.Code(): {
		"TRADE_SUCCESS":  ports.OutcomeSuccess,
		"TRADE_FINISHED": ports.OutcomeSuccess,
		"TRADE_CLOSED":   ports.OutcomeFailed,
		"WAIT_BUYER_PAY": ports.OutcomePending,
	},
	domain.MethodWechat.Code(): {
		"SUCCESS":    ports.OutcomeSuccess,
		"PAYERROR":   ports.OutcomeFailed,
		"CLOSED":     ports.OutcomeFailed,
		"REVOKED":    ports.OutcomeFailed,
		"NOTPAY":     ports.OutcomePending,
		"USERPAYING": ports.OutcomePending,
	},
}

// genericTradeStatus covers rails speaking the uniform vocabulary
// (UnionPay, card and bank-transfer processors, crypto custody).
var genericTradeStatus = map[string]ports.PaymentOutcome{
	"SUCCESS":    ports.OutcomeSuccess,
	"SUCCEEDED":  ports.OutcomeSuccess,
	"FAILED":     ports.OutcomeFailed,
	"CLOSED":     ports.OutcomeFailed,
	"PENDING":    ports.OutcomePending,
	"PROCESSING": ports.OutcomePending,
}

// mapTradeStatus resolves a rail-reported status to an internal outcome.
func mapTradeStatus(methodCode, status string) ports.PaymentOutcome {
	if vocab, ok := tradeStatusByRail[methodCode]; ok {
		if outcome, ok := vocab[status]; ok {
			return outcome
		}
		return ports.OutcomePending
	}
	if outcome, ok := genericTradeStatus[status]; ok {
		return outcome
	}
	return ports.OutcomePending
}

// HostedAdapter implements ports.GatewayAdapter for traditional rails that
// redirect the payer to a gateway-hosted page or QR code and notify us by
// signed callback.
type HostedAdapter struct {
	method domain.PaymentMethod
	cfg    config.GatewayConfig
	client *apiClient
}

// NewHostedAdapter creates an adapter for a traditional payment rail.
func NewHostedAdapter(method domain.PaymentMethod, cfg config.GatewayConfig) *HostedAdapter {
	return &HostedAdapter{
		method: method,
		cfg:    cfg,
		client: newAPIClient(cfg.Endpoint, cfg.Secret, cfg.Timeout),
	}
}

// Method returns the rail this adapter serves.
func (a *HostedAdapter) Method() domain.PaymentMethod { return a.method }

// CreatePayment registers the order with the gateway and returns the payment
// credential (hosted page URL and/or QR code).
func (a *HostedAdapter) CreatePayment(ctx context.Context, order *domain.PaymentOrder) (*ports.CreatePaymentData, error) {
	params := map[string]string{
		"merchant_id":  a.cfg.MerchantID,
		"out_trade_no": order.MerchantOrderID(),
		"method":       a.method.Code(),
		"total_amount": order.Amount().Amount().String(),
		"currency":     order.Amount().Currency(),
		"notify_url":   a.cfg.NotifyURL,
		"expire_at":    order.ExpireTime().UTC().Format(time.RFC3339),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	data, err := a.client.post(ctx, "/v1/payments", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GatewayOrderID string `json:"gateway_order_id"`
		PaymentURL     string `json:"payment_url"`
		QRCode         string `json:"qr_code"`
		DeepLink       string `json:"deep_link"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode create response: %w", err))
	}

	return &ports.CreatePaymentData{
		GatewayOrderID: payload.GatewayOrderID,
		PaymentURL:     payload.PaymentURL,
		QRCode:         payload.QRCode,
		DeepLink:       payload.DeepLink,
	}, nil
}

// QueryPayment asks the gateway for the current state of an order.
func (a *HostedAdapter) QueryPayment(ctx context.Context, gatewayOrderID string) (*ports.QueryPaymentData, error) {
	params := map[string]string{
		"merchant_id":      a.cfg.MerchantID,
		"gateway_order_id": gatewayOrderID,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	data, err := a.client.post(ctx, "/v1/payments/query", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GatewayOrderID string `json:"gateway_order_id"`
		TradeStatus    string `json:"trade_status"`
		PaidAmount     string `json:"paid_amount"`
		Currency       string `json:"currency"`
		PaidAt         string `json:"paid_at"`
		FailureReason  string `json:"failure_reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode query response: %w", err))
	}

	result := &ports.QueryPaymentData{
		GatewayOrderID: payload.GatewayOrderID,
		Outcome:        mapTradeStatus(a.method.Code(), payload.TradeStatus),
		FailureReason:  payload.FailureReason,
	}
	if payload.PaidAmount != "" {
		paid, err := domain.ParseMoney(payload.PaidAmount, payload.Currency)
		if err != nil {
			return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("parse paid amount: %w", err))
		}
		result.PaidAmount = &paid
	}
	if t, err := time.Parse(time.RFC3339, payload.PaidAt); err == nil {
		result.PaidAt = &t
	}
	return result, nil
}

// ParseCallback verifies a notification's HMAC and maps it to CallbackData.
// Signature verification happens before any field is interpreted.
func (a *HostedAdapter) ParseCallback(raw []byte) (*ports.CallbackData, error) {
	return parseSignedCallback(raw, a.method, a.cfg.Secret)
}

// Refund asks the gateway to return amount to the payer.
func (a *HostedAdapter) Refund(ctx context.Context, gatewayOrderID, refundID string, amount domain.Money) (*ports.RefundData, error) {
	params := map[string]string{
		"merchant_id":      a.cfg.MerchantID,
		"gateway_order_id": gatewayOrderID,
		"out_refund_no":    refundID,
		"refund_amount":    amount.Amount().String(),
		"currency":         amount.Currency(),
		"notify_url":       a.cfg.NotifyURL,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	data, err := a.client.post(ctx, "/v1/refunds", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GatewayRefundID string `json:"gateway_refund_id"`
		TradeStatus     string `json:"trade_status"`
		FailureReason   string `json:"failure_reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode refund response: %w", err))
	}

	return &ports.RefundData{
		GatewayRefundID: payload.GatewayRefundID,
		Outcome:         mapTradeStatus(a.method.Code(), payload.TradeStatus),
		FailureReason:   payload.FailureReason,
	}, nil
}

// parseSignedCallback is the shared callback path for every rail: decode the
// flat parameter object, verify the HMAC, then lift fields into CallbackData.
func parseSignedCallback(raw []byte, method domain.PaymentMethod, secret string) (*ports.CallbackData, error) {
	var params map[string]string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, apperror.Validation("malformed callback body")
	}

	if !verifySignature(params, secret) {
		return nil, apperror.ErrInvalidSignature()
	}

	if params["out_trade_no"] == "" {
		return nil, apperror.Validation("callback missing out_trade_no")
	}

	cb := &ports.CallbackData{
		Kind:            ports.CallbackKindPayment,
		MerchantOrderID: params["out_trade_no"],
		GatewayOrderID:  params["gateway_order_id"],
		Outcome:         mapTradeStatus(method.Code(), params["trade_status"]),
		FailureReason:   params["failure_reason"],
		GatewayRefundID: params["gateway_refund_id"],
		TxHash:          params["tx_hash"],
	}
	if params["gateway_refund_id"] != "" {
		cb.Kind = ports.CallbackKindRefund
	}

	if params["total_amount"] != "" {
		amount, err := domain.ParseMoney(params["total_amount"], params["currency"])
		if err != nil {
			return nil, apperror.Validation("callback carries unparseable amount")
		}
		cb.TotalAmount = amount
	}
	if t, err := time.Parse(time.RFC3339, params["paid_at"]); err == nil {
		cb.PaidAt = &t
	}
	if params["confirmations"] != "" {
		var n int
		if _, err := fmt.Sscanf(params["confirmations"], "%d", &n); err == nil {
			cb.Confirmations = n
		}
	}
	return cb, nil
}

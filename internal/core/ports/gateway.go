package ports

import (
	"context"
	"time"

	"payment-settlement-core/internal/core/domain"
)

// PaymentOutcome is the internal vocabulary every rail's trade status maps
// into. Unrecognized gateway statuses map to OutcomePending, never to
// success.
type PaymentOutcome string

const (
	OutcomeSuccess PaymentOutcome = "SUCCESS"
	OutcomeFailed  PaymentOutcome = "FAILED"
	OutcomePending PaymentOutcome = "PENDING"
)

// CallbackKind distinguishes payment callbacks from refund callbacks.
type CallbackKind string

const (
	CallbackKindPayment CallbackKind = "PAYMENT"
	CallbackKindRefund  CallbackKind = "REFUND"
)

// CreatePaymentData is the uniform result of GatewayAdapter.CreatePayment.
// Exactly one of PaymentURL, QRCode, DeepLink, CryptoAddress is expected to
// be set, depending on the rail.
type CreatePaymentData struct {
	GatewayOrderID string
	PaymentURL     string
	QRCode         string
	DeepLink       string
	CryptoAddress  string
	ExpireAt       *time.Time
}

// QueryPaymentData is the uniform result of an idempotent status probe.
type QueryPaymentData struct {
	GatewayOrderID string
	Outcome        PaymentOutcome
	PaidAmount     *domain.Money
	PaidAt         *time.Time
	FailureReason  string
	// Crypto rails only.
	TxHash        string
	Confirmations int
}

// CallbackData is the verified, parsed content of an asynchronous gateway
// notification. ParseCallback only returns it after the rail-specific
// signature check passed.
type CallbackData struct {
	Kind            CallbackKind
	MerchantOrderID string // outTradeNo, our correlation key
	GatewayOrderID  string
	TotalAmount     domain.Money
	Outcome         PaymentOutcome
	PaidAt          *time.Time
	FailureReason   string
	// Refund callbacks.
	GatewayRefundID string
	// Crypto rails only.
	TxHash        string
	Confirmations int
}

// RefundData is the uniform result of a gateway refund request.
type RefundData struct {
	GatewayRefundID string
	Outcome         PaymentOutcome
	FailureReason   string
}

// GatewayAdapter is the uniform four-operation contract implemented once per
// payment rail. Business-level rejections are carried in the returned data
// (Outcome/FailureReason); errors are reserved for transport faults
// (retryable), signature failures, and terminal gateway rejections, which the
// apperror taxonomy keeps distinguishable.
type GatewayAdapter interface {
	Method() domain.PaymentMethod
	CreatePayment(ctx context.Context, order *domain.PaymentOrder) (*CreatePaymentData, error)
	QueryPayment(ctx context.Context, gatewayOrderID string) (*QueryPaymentData, error)
	ParseCallback(raw []byte) (*CallbackData, error)
	Refund(ctx context.Context, gatewayOrderID, refundID string, amount domain.Money) (*RefundData, error)
}

// GatewayRegistry resolves the adapter for a payment method.
type GatewayRegistry interface {
	Adapter(method domain.PaymentMethod) (GatewayAdapter, error)
}

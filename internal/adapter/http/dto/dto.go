package dto

import (
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
)

// RegisterRequest is the request body for operator registration.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	OperatorID string `json:"operator_id"`
	Username   string `json:"username"`
}

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateOrderRequest is the request body for payment order creation.
// Amounts travel as decimal strings; floats never touch money.
type CreateOrderRequest struct {
	MerchantOrderID string `json:"merchant_order_id" binding:"required,max=100,safe_id"`
	UserID          string `json:"user_id" binding:"required,max=100,safe_id"`
	Amount          string `json:"amount" binding:"required,max=32"`
	Currency        string `json:"currency" binding:"required,len=3"`
	Method          string `json:"method" binding:"required,max=20"`
	ExpireSeconds   int64  `json:"expire_seconds" binding:"omitempty,min=60,max=86400"`
}

// CreateRefundRequest is the request body for refund creation.
type CreateRefundRequest struct {
	Amount   string `json:"amount" binding:"required,max=32"`
	Currency string `json:"currency" binding:"required,len=3"`
	Reason   string `json:"reason" binding:"required,max=255"`
}

// RefundResponse is the API view of a refund.
type RefundResponse struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"order_id"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	Reason          string  `json:"reason"`
	Status          string  `json:"status"`
	GatewayRefundID string  `json:"gateway_refund_id,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// OrderResponse is the API view of a payment order.
type OrderResponse struct {
	ID              string           `json:"id"`
	MerchantOrderID string           `json:"merchant_order_id"`
	UserID          string           `json:"user_id"`
	Amount          string           `json:"amount"`
	Currency        string           `json:"currency"`
	Method          string           `json:"method"`
	Status          string           `json:"status"`
	GatewayOrderID  string           `json:"gateway_order_id,omitempty"`
	PaymentURL      string           `json:"payment_url,omitempty"`
	QRCode          string           `json:"qr_code,omitempty"`
	PaidAmount      *string          `json:"paid_amount,omitempty"`
	PaidAt          *string          `json:"paid_at,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	ExpireTime      string           `json:"expire_time"`
	Refunds         []RefundResponse `json:"refunds,omitempty"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
}

// OrderListResponse wraps a paginated order list.
type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// MethodStatsResponse is the per-rail line of the statistics response.
type MethodStatsResponse struct {
	Method         string `json:"method"`
	Currency       string `json:"currency"`
	TotalOrders    int64  `json:"total_orders"`
	SucceededCount int64  `json:"succeeded_count"`
	TotalPaid      string `json:"total_paid"`
}

// StatisticsResponse is the response for settlement statistics.
type StatisticsResponse struct {
	TotalOrders         int64                 `json:"total_orders"`
	SucceededCount      int64                 `json:"succeeded_count"`
	FailedCount         int64                 `json:"failed_count"`
	TotalPaidByCurrency map[string]string     `json:"total_paid_by_currency"`
	ByMethod            []MethodStatsResponse `json:"by_method"`
}

// ToOrderResponse maps a domain order to its API view.
func ToOrderResponse(order *domain.PaymentOrder) OrderResponse {
	resp := OrderResponse{
		ID:              order.ID().String(),
		MerchantOrderID: order.MerchantOrderID(),
		UserID:          order.UserID(),
		Amount:          order.Amount().Amount().String(),
		Currency:        order.Amount().Currency(),
		Method:          order.Method().Code(),
		Status:          string(order.Status()),
		GatewayOrderID:  order.GatewayOrderID(),
		PaymentURL:      order.PaymentURL(),
		QRCode:          order.QRCode(),
		FailureReason:   order.FailureReason(),
		ExpireTime:      order.ExpireTime().UTC().Format(time.RFC3339),
		CreatedAt:       order.CreatedAt().UTC().Format(time.RFC3339),
		UpdatedAt:       order.UpdatedAt().UTC().Format(time.RFC3339),
	}
	if paid := order.PaidAmount(); paid != nil {
		s := paid.Amount().String()
		resp.PaidAmount = &s
	}
	if paidAt := order.PaidAt(); paidAt != nil {
		s := paidAt.UTC().Format(time.RFC3339)
		resp.PaidAt = &s
	}
	for _, r := range order.Refunds() {
		resp.Refunds = append(resp.Refunds, ToRefundResponse(r))
	}
	return resp
}

// ToRefundResponse maps a domain refund to its API view.
func ToRefundResponse(r *domain.Refund) RefundResponse {
	resp := RefundResponse{
		ID:              r.ID().String(),
		OrderID:         r.OrderID().String(),
		Amount:          r.Amount().Amount().String(),
		Currency:        r.Amount().Currency(),
		Reason:          r.Reason(),
		Status:          string(r.Status()),
		GatewayRefundID: r.GatewayRefundID(),
		CreatedAt:       r.CreatedAt().UTC().Format(time.RFC3339),
	}
	if done := r.CompletedAt(); done != nil {
		s := done.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// ToStatisticsResponse maps aggregated statistics to their API view.
func ToStatisticsResponse(stats *ports.OrderStatistics) StatisticsResponse {
	resp := StatisticsResponse{
		TotalOrders:         stats.TotalOrders,
		SucceededCount:      stats.SucceededCount,
		FailedCount:         stats.FailedCount,
		TotalPaidByCurrency: make(map[string]string, len(stats.TotalPaidByCurrency)),
	}
	for currency, total := range stats.TotalPaidByCurrency {
		resp.TotalPaidByCurrency[currency] = total.String()
	}
	for _, m := range stats.ByMethod {
		resp.ByMethod = append(resp.ByMethod, MethodStatsResponse{
			Method:         m.Method,
			Currency:       m.Currency,
			TotalOrders:    m.TotalOrders,
			SucceededCount: m.SucceededCount,
			TotalPaid:      m.TotalPaid.String(),
		})
	}
	return resp
}

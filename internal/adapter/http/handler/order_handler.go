package handler

import (
	"strconv"
	"time"

	"payment-settlement-core/internal/adapter/http/dto"
	"payment-settlement-core/internal/adapter/http/middleware"
	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
	"payment-settlement-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey carries the client-chosen creation idempotency key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// defaultOrderTTL applies when the client does not set expire_seconds.
const defaultOrderTTL = 30 * time.Minute

// OrderHandler handles payment order endpoints.
type OrderHandler struct {
	orderSvc ports.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc ports.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// Create handles POST /api/v1/orders.
func (h *OrderHandler) Create(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := domain.ParseMoney(req.Amount, req.Currency)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}
	method, err := domain.ParseMethod(req.Method)
	if err != nil {
		response.Error(c, apperror.ErrUnknownMethod(req.Method))
		return
	}

	ttl := defaultOrderTTL
	if req.ExpireSeconds > 0 {
		ttl = time.Duration(req.ExpireSeconds) * time.Second
	}

	order, err := h.orderSvc.CreateOrder(c.Request.Context(), ports.CreateOrderRequest{
		MerchantOrderID: req.MerchantOrderID,
		UserID:          req.UserID,
		IdempotencyKey:  c.GetHeader(HeaderIdempotencyKey),
		Amount:          amount,
		Method:          method,
		ExpireTime:      time.Now().UTC().Add(ttl),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToOrderResponse(order))
}

// Get handles GET /api/v1/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	order, err := h.orderSvc.GetOrder(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToOrderResponse(order))
}

// List handles GET /api/v1/orders?user_id=&page=&limit=.
func (h *OrderHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.Error(c, apperror.Validation("user_id is required"))
		return
	}
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 20)

	orders, total, err := h.orderSvc.ListByUser(c.Request.Context(), userID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.OrderListResponse{Total: total, Page: page, Limit: limit}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, dto.ToOrderResponse(order))
	}
	response.OK(c, resp)
}

// Close handles POST /api/v1/orders/:id/close.
func (h *OrderHandler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	if err := h.orderSvc.CloseOrder(c.Request.Context(), id, operatorFromCtx(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"status": "closed"})
}

// Cancel handles POST /api/v1/orders/:id/cancel.
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	if err := h.orderSvc.CancelOrder(c.Request.Context(), id, operatorFromCtx(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"status": "cancelled"})
}

// operatorFromCtx returns the authenticated operator id string.
func operatorFromCtx(c *gin.Context) string {
	if v, ok := c.Get(middleware.CtxOperatorID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id.String()
		}
	}
	return ""
}

func intQuery(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

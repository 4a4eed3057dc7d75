package handler

import (
	"payment-settlement-core/internal/adapter/http/dto"
	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
	"payment-settlement-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RefundHandler handles refund endpoints.
type RefundHandler struct {
	refundSvc ports.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refundSvc ports.RefundService) *RefundHandler {
	return &RefundHandler{refundSvc: refundSvc}
}

// Create handles POST /api/v1/orders/:id/refunds.
func (h *RefundHandler) Create(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	var req dto.CreateRefundRequest
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

	refund, err := h.refundSvc.CreateRefund(c.Request.Context(), orderID, amount, req.Reason, operatorFromCtx(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToRefundResponse(refund))
}

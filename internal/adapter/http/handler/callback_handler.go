package handler

import (
	"io"
	"net/http"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
	"payment-settlement-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CallbackHandler receives asynchronous gateway notifications.
type CallbackHandler struct {
	reconciler ports.ReconcilerService
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(reconciler ports.ReconcilerService) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler}
}

// Notify handles POST /api/v1/callbacks/:method. The raw body is handed to
// the rail's adapter untouched; signature verification happens there, before
// any field is trusted.
func (h *CallbackHandler) Notify(c *gin.Context) {
	method, err := domain.ParseMethod(c.Param("method"))
	if err != nil {
		response.Error(c, apperror.ErrUnknownMethod(c.Param("method")))
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read callback body"))
		return
	}

	if err := h.reconciler.HandleCallback(c.Request.Context(), method, raw); err != nil {
		response.Error(c, err)
		return
	}

	// Gateways expect a literal acknowledgement body, not an envelope.
	c.String(http.StatusOK, "SUCCESS")
}

// Probe handles POST /api/v1/orders/:id/probe, an operator-triggered gateway
// re-query for an order suspected of a lost callback.
func (h *CallbackHandler) Probe(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	if err := h.reconciler.ProbeOrder(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"status": "probed"})
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operator is a back-office user allowed to close, cancel, and refund orders.
type Operator struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEntry records an administrative action against an order. Administrative
// close/cancel/refund paths are audited separately from gateway-driven
// transitions.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	OperatorID string    `json:"operator_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Action     string    `json:"action"` // close, cancel, refund
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

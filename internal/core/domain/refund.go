package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RefundStatus is the lifecycle state of a refund.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusSucceeded  RefundStatus = "SUCCEEDED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

// IsTerminal reports whether the refund reached a final state.
func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusSucceeded || s == RefundStatusFailed
}

// Refund is a sub-entity owned by a PaymentOrder. It runs its own small state
// machine: PENDING -> PROCESSING -> {SUCCEEDED, FAILED}. Terminal transitions
// are idempotent for a repeated identical outcome (duplicate refund callbacks)
// and reject a conflicting outcome.
type Refund struct {
	id              uuid.UUID
	orderID         uuid.UUID
	amount          Money
	reason          string
	operatorID      string
	status          RefundStatus
	gatewayRefundID string
	completedAt     *time.Time
	createdAt       time.Time
}

// newRefund is only reachable through PaymentOrder.CreateRefund, which
// enforces the parent-order invariants.
func newRefund(orderID uuid.UUID, amount Money, reason, operatorID string, now time.Time) *Refund {
	return &Refund{
		id:         uuid.New(),
		orderID:    orderID,
		amount:     amount,
		reason:     reason,
		operatorID: operatorID,
		status:     RefundStatusPending,
		createdAt:  now,
	}
}

func (r *Refund) ID() uuid.UUID           { return r.id }
func (r *Refund) OrderID() uuid.UUID      { return r.orderID }
func (r *Refund) Amount() Money           { return r.amount }
func (r *Refund) Reason() string          { return r.reason }
func (r *Refund) OperatorID() string      { return r.operatorID }
func (r *Refund) Status() RefundStatus    { return r.status }
func (r *Refund) GatewayRefundID() string { return r.gatewayRefundID }
func (r *Refund) CompletedAt() *time.Time { return r.completedAt }
func (r *Refund) CreatedAt() time.Time    { return r.createdAt }

// UpdateGatewayInfo attaches the gateway's refund identifier. The status is
// untouched; a refund stays PENDING until the gateway reports progress. Only
// valid before a terminal outcome.
func (r *Refund) UpdateGatewayInfo(gatewayRefundID string) error {
	if r.status.IsTerminal() {
		return fmt.Errorf("refund %s: cannot update gateway info in status %s", r.id, r.status)
	}
	r.gatewayRefundID = gatewayRefundID
	return nil
}

// MarkProcessing records that the gateway has accepted the refund and is
// working it.
func (r *Refund) MarkProcessing() error {
	if r.status.IsTerminal() {
		return fmt.Errorf("refund %s: cannot move to PROCESSING from %s", r.id, r.status)
	}
	r.status = RefundStatusProcessing
	return nil
}

// MarkSucceeded finalizes the refund. A repeated call is ErrDuplicateDelivery;
// a call after MarkFailed is a conflicting outcome.
func (r *Refund) MarkSucceeded(now time.Time) error {
	switch r.status {
	case RefundStatusSucceeded:
		return ErrDuplicateDelivery
	case RefundStatusFailed:
		return fmt.Errorf("refund %s: conflicting outcome SUCCEEDED after FAILED: %w", r.id, ErrConflictingOutcome)
	}
	r.status = RefundStatusSucceeded
	r.completedAt = &now
	return nil
}

// MarkFailed finalizes the refund. A repeated call is ErrDuplicateDelivery;
// a call after MarkSucceeded is a conflicting outcome.
func (r *Refund) MarkFailed(now time.Time) error {
	switch r.status {
	case RefundStatusFailed:
		return ErrDuplicateDelivery
	case RefundStatusSucceeded:
		return fmt.Errorf("refund %s: conflicting outcome FAILED after SUCCEEDED: %w", r.id, ErrConflictingOutcome)
	}
	r.status = RefundStatusFailed
	r.completedAt = &now
	return nil
}

// RefundSnapshot is the persistence view of a Refund.
type RefundSnapshot struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Amount          Money
	Reason          string
	OperatorID      string
	Status          RefundStatus
	GatewayRefundID string
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// Snapshot returns the persistence view of the refund.
func (r *Refund) Snapshot() RefundSnapshot {
	return RefundSnapshot{
		ID:              r.id,
		OrderID:         r.orderID,
		Amount:          r.amount,
		Reason:          r.reason,
		OperatorID:      r.operatorID,
		Status:          r.status,
		GatewayRefundID: r.gatewayRefundID,
		CompletedAt:     r.completedAt,
		CreatedAt:       r.createdAt,
	}
}

// RehydrateRefund rebuilds a Refund from storage. It bypasses the state
// machine guards and must only be used by repositories.
func RehydrateRefund(s RefundSnapshot) *Refund {
	return &Refund{
		id:              s.ID,
		orderID:         s.OrderID,
		amount:          s.Amount,
		reason:          s.Reason,
		operatorID:      s.OperatorID,
		status:          s.Status,
		gatewayRefundID: s.GatewayRefundID,
		completedAt:     s.CompletedAt,
		createdAt:       s.CreatedAt,
	}
}

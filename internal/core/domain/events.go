package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a business-significant fact queued on an aggregate and published
// only after the state it records has been durably committed. Event IDs are
// deterministic per (order, event name) so downstream consumers can
// deduplicate redelivered events.
type Event interface {
	EventID() uuid.UUID
	EventName() string
	OccurredAt() time.Time
}

// deterministicEventID derives a stable UUID from the order id and event name.
func deterministicEventID(orderID uuid.UUID, name string, discriminator string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(orderID.String()+":"+name+":"+discriminator))
}

type baseEvent struct {
	ID   uuid.UUID `json:"event_id"`
	Name string    `json:"event_name"`
	At   time.Time `json:"occurred_at"`
}

func (e baseEvent) EventID() uuid.UUID    { return e.ID }
func (e baseEvent) EventName() string     { return e.Name }
func (e baseEvent) OccurredAt() time.Time { return e.At }

// PaymentOrderCreated is emitted when a new payment order enters PENDING.
type PaymentOrderCreated struct {
	baseEvent
	OrderID         uuid.UUID `json:"order_id"`
	MerchantOrderID string    `json:"merchant_order_id"`
	Amount          Money     `json:"amount"`
	Method          string    `json:"method"`
}

// PaymentSucceeded is emitted exactly once, when an order settles.
type PaymentSucceeded struct {
	baseEvent
	OrderID         uuid.UUID `json:"order_id"`
	MerchantOrderID string    `json:"merchant_order_id"`
	Amount          Money     `json:"amount"`
	PaidAmount      Money     `json:"paid_amount"`
	Method          string    `json:"method"`
	PaidAt          time.Time `json:"paid_at"`
}

// PaymentFailed is emitted when an order fails at the gateway.
type PaymentFailed struct {
	baseEvent
	OrderID         uuid.UUID `json:"order_id"`
	MerchantOrderID string    `json:"merchant_order_id"`
	Amount          Money     `json:"amount"`
	Method          string    `json:"method"`
	Reason          string    `json:"reason"`
}

// RefundCreated is emitted when a refund is appended to a settled order.
type RefundCreated struct {
	baseEvent
	OrderID         uuid.UUID `json:"order_id"`
	MerchantOrderID string    `json:"merchant_order_id"`
	RefundID        uuid.UUID `json:"refund_id"`
	Amount          Money     `json:"amount"`
	Method          string    `json:"method"`
	Reason          string    `json:"reason"`
}

func newOrderCreated(o *PaymentOrder, at time.Time) PaymentOrderCreated {
	return PaymentOrderCreated{
		baseEvent: baseEvent{
			ID:   deterministicEventID(o.id, "payment_order.created", ""),
			Name: "payment_order.created",
			At:   at,
		},
		OrderID:         o.id,
		MerchantOrderID: o.merchantOrderID,
		Amount:          o.amount,
		Method:          o.method.Code(),
	}
}

func newPaymentSucceeded(o *PaymentOrder, at time.Time) PaymentSucceeded {
	return PaymentSucceeded{
		baseEvent: baseEvent{
			ID:   deterministicEventID(o.id, "payment_order.succeeded", ""),
			Name: "payment_order.succeeded",
			At:   at,
		},
		OrderID:         o.id,
		MerchantOrderID: o.merchantOrderID,
		Amount:          o.amount,
		PaidAmount:      *o.paidAmount,
		Method:          o.method.Code(),
		PaidAt:          *o.paidAt,
	}
}

func newPaymentFailed(o *PaymentOrder, at time.Time) PaymentFailed {
	return PaymentFailed{
		baseEvent: baseEvent{
			ID:   deterministicEventID(o.id, "payment_order.failed", ""),
			Name: "payment_order.failed",
			At:   at,
		},
		OrderID:         o.id,
		MerchantOrderID: o.merchantOrderID,
		Amount:          o.amount,
		Method:          o.method.Code(),
		Reason:          o.failureReason,
	}
}

func newRefundCreated(o *PaymentOrder, r *Refund, at time.Time) RefundCreated {
	return RefundCreated{
		baseEvent: baseEvent{
			ID:   deterministicEventID(o.id, "refund.created", r.id.String()),
			Name: "refund.created",
			At:   at,
		},
		OrderID:         o.id,
		MerchantOrderID: o.merchantOrderID,
		RefundID:        r.id,
		Amount:          r.amount,
		Method:          o.method.Code(),
		Reason:          r.reason,
	}
}

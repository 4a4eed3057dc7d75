package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by the order and refund state machines.
var (
	// ErrDuplicateDelivery marks a terminal transition repeated with the same
	// outcome. Callers treat it as an idempotent accept: no state change, no
	// event re-publication, but the duplicate is counted for observability.
	ErrDuplicateDelivery = errors.New("duplicate delivery of an already applied outcome")

	// ErrConflictingOutcome marks a terminal transition that contradicts the
	// outcome already recorded. Never coerced, always surfaced.
	ErrConflictingOutcome = errors.New("conflicting outcome for a settled entity")

	// ErrNotRefundable is returned when a refund is requested against an order
	// that has not settled.
	ErrNotRefundable = errors.New("order is not in a refundable state")

	// ErrRefundExceedsBalance is returned when a refund would push the total
	// refunded past the paid amount.
	ErrRefundExceedsBalance = errors.New("refund amount exceeds refundable balance")
)

// OrderStatus is the lifecycle state of a payment order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusSucceeded  OrderStatus = "SUCCEEDED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusExpired    OrderStatus = "EXPIRED"
	OrderStatusClosed     OrderStatus = "CLOSED"
)

// IsTerminal reports whether no further business-driven transition is
// expected from this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusSucceeded, OrderStatusFailed, OrderStatusCancelled, OrderStatusExpired, OrderStatusClosed:
		return true
	}
	return false
}

// IsLive reports whether the order can still settle (PENDING or PROCESSING).
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// PaymentOrder is the aggregate root of the settlement core. All mutation
// goes through guarded transition methods; status only ever moves forward
// through the lifecycle graph, paidAmount is set exactly once, and the sum of
// succeeded refunds never exceeds paidAmount.
type PaymentOrder struct {
	id              uuid.UUID
	merchantOrderID string
	userID          string
	idempotencyKey  string
	amount          Money
	method          PaymentMethod
	status          OrderStatus
	gatewayOrderID  string
	paymentURL      string
	qrCode          string
	paidAmount      *Money
	paidAt          *time.Time
	failureReason   string
	expireTime      time.Time
	closedAt        *time.Time
	closedBy        string
	createdAt       time.Time
	updatedAt       time.Time
	refunds         []*Refund
	events          []Event
}

// CreateOrderCommand is the validated input for NewPaymentOrder.
type CreateOrderCommand struct {
	MerchantOrderID string
	UserID          string
	IdempotencyKey  string
	Amount          Money
	Method          PaymentMethod
	ExpireTime      time.Time
}

// NewPaymentOrder validates the command and returns a fresh aggregate in
// PENDING. It does not contact any gateway; that is the calling use case's
// job, followed by UpdateGatewayInfo.
func NewPaymentOrder(cmd CreateOrderCommand, now time.Time) (*PaymentOrder, error) {
	if cmd.MerchantOrderID == "" {
		return nil, fmt.Errorf("payment order: empty merchant order id")
	}
	if !cmd.Amount.IsPositive() {
		return nil, fmt.Errorf("payment order: amount must be positive, got %s", cmd.Amount)
	}
	if cmd.Method.IsZero() {
		return nil, fmt.Errorf("payment order: payment method is required")
	}
	if !cmd.ExpireTime.After(now) {
		return nil, fmt.Errorf("payment order: expire time %s is not in the future", cmd.ExpireTime)
	}

	o := &PaymentOrder{
		id:              uuid.New(),
		merchantOrderID: cmd.MerchantOrderID,
		userID:          cmd.UserID,
		idempotencyKey:  cmd.IdempotencyKey,
		amount:          cmd.Amount,
		method:          cmd.Method,
		status:          OrderStatusPending,
		expireTime:      cmd.ExpireTime,
		createdAt:       now,
		updatedAt:       now,
	}
	o.queue(newOrderCreated(o, now))
	return o, nil
}

func (o *PaymentOrder) ID() uuid.UUID           { return o.id }
func (o *PaymentOrder) MerchantOrderID() string { return o.merchantOrderID }
func (o *PaymentOrder) UserID() string          { return o.userID }
func (o *PaymentOrder) IdempotencyKey() string  { return o.idempotencyKey }
func (o *PaymentOrder) Amount() Money           { return o.amount }
func (o *PaymentOrder) Method() PaymentMethod   { return o.method }
func (o *PaymentOrder) Status() OrderStatus     { return o.status }
func (o *PaymentOrder) GatewayOrderID() string  { return o.gatewayOrderID }
func (o *PaymentOrder) PaymentURL() string      { return o.paymentURL }
func (o *PaymentOrder) QRCode() string          { return o.qrCode }
func (o *PaymentOrder) PaidAmount() *Money      { return o.paidAmount }
func (o *PaymentOrder) PaidAt() *time.Time      { return o.paidAt }
func (o *PaymentOrder) FailureReason() string   { return o.failureReason }
func (o *PaymentOrder) ExpireTime() time.Time   { return o.expireTime }
func (o *PaymentOrder) ClosedAt() *time.Time    { return o.closedAt }
func (o *PaymentOrder) ClosedBy() string        { return o.closedBy }
func (o *PaymentOrder) CreatedAt() time.Time    { return o.createdAt }
func (o *PaymentOrder) UpdatedAt() time.Time    { return o.updatedAt }

// Refunds returns the append-only refund list.
func (o *PaymentOrder) Refunds() []*Refund { return o.refunds }

// Refund looks up an owned refund by id.
func (o *PaymentOrder) Refund(id uuid.UUID) (*Refund, bool) {
	for _, r := range o.refunds {
		if r.id == id {
			return r, true
		}
	}
	return nil, false
}

// RefundByGatewayID looks up an owned refund by the gateway's refund id.
func (o *PaymentOrder) RefundByGatewayID(gatewayRefundID string) (*Refund, bool) {
	if gatewayRefundID == "" {
		return nil, false
	}
	for _, r := range o.refunds {
		if r.gatewayRefundID == gatewayRefundID {
			return r, true
		}
	}
	return nil, false
}

// IsExpired reports whether the order passed its expiry while still live.
func (o *PaymentOrder) IsExpired(now time.Time) bool {
	return o.status.IsLive() && now.After(o.expireTime)
}

// UpdateGatewayInfo attaches gateway correlation data after the create call
// returns. Allowed only while the order is live; does not change status.
func (o *PaymentOrder) UpdateGatewayInfo(gatewayOrderID, paymentURL, qrCode string, now time.Time) error {
	if !o.status.IsLive() {
		return fmt.Errorf("order %s: cannot attach gateway info in status %s", o.id, o.status)
	}
	o.gatewayOrderID = gatewayOrderID
	if paymentURL != "" {
		o.paymentURL = paymentURL
	}
	if qrCode != "" {
		o.qrCode = qrCode
	}
	o.updatedAt = now
	return nil
}

// MarkProcessing records that the gateway acknowledged the order without
// settling it yet. Idempotent if already PROCESSING.
func (o *PaymentOrder) MarkProcessing(now time.Time) error {
	switch o.status {
	case OrderStatusProcessing:
		return nil
	case OrderStatusPending:
		o.status = OrderStatusProcessing
		o.updatedAt = now
		return nil
	}
	return fmt.Errorf("order %s: cannot move to PROCESSING from %s", o.id, o.status)
}

// MarkSucceeded settles the order. This is the primary defense against
// duplicate or replayed callbacks double-crediting: a repeat with the same
// outcome is ErrDuplicateDelivery, any other terminal state is a conflicting
// outcome, and paidAmount is set exactly once.
func (o *PaymentOrder) MarkSucceeded(gatewayOrderID string, paidAmount Money, paidAt time.Time) error {
	switch {
	case o.status == OrderStatusSucceeded:
		return ErrDuplicateDelivery
	case o.status.IsTerminal():
		return fmt.Errorf("order %s: SUCCEEDED after %s: %w", o.id, o.status, ErrConflictingOutcome)
	}
	if paidAmount.Currency() != o.amount.Currency() {
		return fmt.Errorf("order %s: paid currency %s does not match order currency %s",
			o.id, paidAmount.Currency(), o.amount.Currency())
	}

	o.status = OrderStatusSucceeded
	o.paidAmount = &paidAmount
	o.paidAt = &paidAt
	if gatewayOrderID != "" {
		o.gatewayOrderID = gatewayOrderID
	}
	o.updatedAt = paidAt
	o.queue(newPaymentSucceeded(o, paidAt))
	return nil
}

// MarkFailed records a gateway failure. Allowed only from a live status;
// a repeat with the same outcome is ErrDuplicateDelivery.
func (o *PaymentOrder) MarkFailed(reason string, now time.Time) error {
	switch {
	case o.status == OrderStatusFailed:
		return ErrDuplicateDelivery
	case o.status.IsTerminal():
		return fmt.Errorf("order %s: FAILED after %s: %w", o.id, o.status, ErrConflictingOutcome)
	}
	o.status = OrderStatusFailed
	o.failureReason = reason
	o.updatedAt = now
	o.queue(newPaymentFailed(o, now))
	return nil
}

// Cancel explicitly abandons a live order. Fails on terminal states so a
// cancel that lost the race against a success callback is surfaced, not
// silently absorbed.
func (o *PaymentOrder) Cancel(operatorID string, now time.Time) error {
	if !o.status.IsLive() {
		return fmt.Errorf("order %s: cannot cancel in status %s", o.id, o.status)
	}
	o.status = OrderStatusCancelled
	o.closedBy = operatorID
	o.updatedAt = now
	return nil
}

// MarkExpired transitions a live order past its expiry to EXPIRED.
func (o *PaymentOrder) MarkExpired(now time.Time) error {
	if !o.status.IsLive() {
		return fmt.Errorf("order %s: cannot expire in status %s", o.id, o.status)
	}
	if now.Before(o.expireTime) {
		return fmt.Errorf("order %s: expire time %s not reached", o.id, o.expireTime)
	}
	o.status = OrderStatusExpired
	o.updatedAt = now
	return nil
}

// Close is the administrative finalization. It is reachable from any status
// except CLOSED itself and implies neither success nor failure: it never
// touches paidAmount or failureReason.
func (o *PaymentOrder) Close(operatorID string, now time.Time) error {
	if o.status == OrderStatusClosed {
		return ErrDuplicateDelivery
	}
	o.status = OrderStatusClosed
	o.closedAt = &now
	o.closedBy = operatorID
	o.updatedAt = now
	return nil
}

// RefundableAmount is paidAmount minus every refund that is not FAILED.
// Pending and processing refunds reserve their amount so that an in-flight
// refund completing later cannot push the succeeded-refund total past
// paidAmount. Zero for unsettled orders.
func (o *PaymentOrder) RefundableAmount() Money {
	if o.paidAmount == nil {
		return ZeroMoney(o.amount.Currency())
	}
	remaining := *o.paidAmount
	for _, r := range o.refunds {
		if r.status == RefundStatusFailed {
			continue
		}
		sub, err := remaining.Sub(r.amount)
		if err != nil {
			// Refund currencies always match paidAmount; a negative here would
			// mean the bound invariant was already broken.
			continue
		}
		remaining = sub
	}
	return remaining
}

// CreateRefund appends a new PENDING refund. Requires the order to be
// SUCCEEDED and the amount to fit the remaining refundable balance.
func (o *PaymentOrder) CreateRefund(amount Money, reason, operatorID string, now time.Time) (*Refund, error) {
	if o.status != OrderStatusSucceeded {
		return nil, fmt.Errorf("order %s: status %s: %w", o.id, o.status, ErrNotRefundable)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("order %s: refund amount must be positive, got %s", o.id, amount)
	}
	remaining := o.RefundableAmount()
	cmp, err := amount.Cmp(remaining)
	if err != nil {
		return nil, fmt.Errorf("order %s: refund %s: %w", o.id, amount, err)
	}
	if cmp > 0 {
		return nil, fmt.Errorf("order %s: refund %s against balance %s: %w", o.id, amount, remaining, ErrRefundExceedsBalance)
	}

	r := newRefund(o.id, amount, reason, operatorID, now)
	o.refunds = append(o.refunds, r)
	o.updatedAt = now
	o.queue(newRefundCreated(o, r, now))
	return r, nil
}

// PullEvents drains the queued domain events. The use case publishes them
// only after the repository save has committed.
func (o *PaymentOrder) PullEvents() []Event {
	ev := o.events
	o.events = nil
	return ev
}

func (o *PaymentOrder) queue(e Event) {
	o.events = append(o.events, e)
}

// OrderSnapshot is the persistence view of a PaymentOrder, without refunds.
type OrderSnapshot struct {
	ID              uuid.UUID
	MerchantOrderID string
	UserID          string
	IdempotencyKey  string
	Amount          Money
	Method          PaymentMethod
	Status          OrderStatus
	GatewayOrderID  string
	PaymentURL      string
	QRCode          string
	PaidAmount      *Money
	PaidAt          *time.Time
	FailureReason   string
	ExpireTime      time.Time
	ClosedAt        *time.Time
	ClosedBy        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Snapshot returns the persistence view of the order.
func (o *PaymentOrder) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:              o.id,
		MerchantOrderID: o.merchantOrderID,
		UserID:          o.userID,
		IdempotencyKey:  o.idempotencyKey,
		Amount:          o.amount,
		Method:          o.method,
		Status:          o.status,
		GatewayOrderID:  o.gatewayOrderID,
		PaymentURL:      o.paymentURL,
		QRCode:          o.qrCode,
		PaidAmount:      o.paidAmount,
		PaidAt:          o.paidAt,
		FailureReason:   o.failureReason,
		ExpireTime:      o.expireTime,
		ClosedAt:        o.closedAt,
		ClosedBy:        o.closedBy,
		CreatedAt:       o.createdAt,
		UpdatedAt:       o.updatedAt,
	}
}

// RehydrateOrder rebuilds an aggregate from storage. It bypasses the state
// machine guards and must only be used by repositories.
func RehydrateOrder(s OrderSnapshot, refunds []*Refund) *PaymentOrder {
	return &PaymentOrder{
		id:              s.ID,
		merchantOrderID: s.MerchantOrderID,
		userID:          s.UserID,
		idempotencyKey:  s.IdempotencyKey,
		amount:          s.Amount,
		method:          s.Method,
		status:          s.Status,
		gatewayOrderID:  s.GatewayOrderID,
		paymentURL:      s.PaymentURL,
		qrCode:          s.QRCode,
		paidAmount:      s.PaidAmount,
		paidAt:          s.PaidAt,
		failureReason:   s.FailureReason,
		expireTime:      s.ExpireTime,
		closedAt:        s.ClosedAt,
		closedBy:        s.ClosedBy,
		createdAt:       s.CreatedAt,
		updatedAt:       s.UpdatedAt,
		refunds:         refunds,
	}
}

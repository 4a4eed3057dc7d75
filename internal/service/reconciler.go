package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconcilerImpl implements ports.ReconcilerService. It is the single code
// path through which gateway-reported outcomes reach the order state machine,
// whether they arrive as callbacks or as probe results.
type ReconcilerImpl struct {
	orderRepo     ports.PaymentOrderRepository
	gateways      ports.GatewayRegistry
	transactor    ports.DBTransactor
	lock          ports.OrderLock
	confirmations *ConfirmationTracker
	events        ports.EventSink
	log           zerolog.Logger
}

// NewReconciler creates a new ReconcilerImpl.
func NewReconciler(
	orderRepo ports.PaymentOrderRepository,
	gateways ports.GatewayRegistry,
	transactor ports.DBTransactor,
	lock ports.OrderLock,
	confirmations *ConfirmationTracker,
	events ports.EventSink,
	log zerolog.Logger,
) *ReconcilerImpl {
	return &ReconcilerImpl{
		orderRepo:     orderRepo,
		gateways:      gateways,
		transactor:    transactor,
		lock:          lock,
		confirmations: confirmations,
		events:        events,
		log:           log,
	}
}

// outcome is a parsed callback or probe result reduced to what the state
// machine needs.
type outcome struct {
	kind            ports.CallbackKind
	gatewayOrderID  string
	amount          *domain.Money // nil when the source reported none
	result          ports.PaymentOutcome
	paidAt          *time.Time
	failureReason   string
	gatewayRefundID string
	txHash          string
	confirmations   int
}

// HandleCallback verifies and applies a raw gateway notification.
// A nil return tells the HTTP layer to acknowledge; the gateway retries on
// anything else.
func (s *ReconcilerImpl) HandleCallback(ctx context.Context, method domain.PaymentMethod, raw []byte) error {
	adapter, err := s.gateways.Adapter(method)
	if err != nil {
		return err
	}

	cb, err := adapter.ParseCallback(raw)
	if err != nil {
		s.log.Warn().Err(err).
			Str("method", method.Code()).
			Msg("callback rejected before parsing completed")
		return err
	}

	order, err := s.resolveOrder(ctx, cb.MerchantOrderID, cb.GatewayOrderID)
	if err != nil {
		return err
	}

	oc := outcome{
		kind:            cb.Kind,
		gatewayOrderID:  cb.GatewayOrderID,
		amount:          &cb.TotalAmount,
		result:          cb.Outcome,
		paidAt:          cb.PaidAt,
		failureReason:   cb.FailureReason,
		gatewayRefundID: cb.GatewayRefundID,
		txHash:          cb.TxHash,
		confirmations:   cb.Confirmations,
	}
	return s.apply(ctx, order.ID(), method, oc)
}

// ProbeOrder re-queries the gateway for an order suspected of a lost callback
// and routes the answer through the same application path.
func (s *ReconcilerImpl) ProbeOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find order: %w", err))
	}
	if order == nil {
		return apperror.ErrNotFound("order")
	}
	if !order.Status().IsLive() {
		return nil
	}
	if order.GatewayOrderID() == "" {
		return nil // never reached the gateway, nothing to probe
	}

	adapter, err := s.gateways.Adapter(order.Method())
	if err != nil {
		return err
	}

	data, err := adapter.QueryPayment(ctx, order.GatewayOrderID())
	if err != nil {
		return err
	}

	oc := outcome{
		kind:           ports.CallbackKindPayment,
		gatewayOrderID: data.GatewayOrderID,
		amount:         data.PaidAmount,
		result:         data.Outcome,
		paidAt:         data.PaidAt,
		failureReason:  data.FailureReason,
		txHash:         data.TxHash,
		confirmations:  data.Confirmations,
	}
	return s.apply(ctx, order.ID(), order.Method(), oc)
}

// resolveOrder finds the order a notification belongs to. Multiple attempts
// can share a merchant order id across retries; prefer the attempt whose
// gateway id matches, then a live attempt, then the newest.
func (s *ReconcilerImpl) resolveOrder(ctx context.Context, merchantOrderID, gatewayOrderID string) (*domain.PaymentOrder, error) {
	candidates, err := s.orderRepo.FindByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find by merchant order id: %w", err))
	}
	if len(candidates) == 0 {
		s.log.Warn().
			Str("merchant_order_id", merchantOrderID).
			Msg("callback for unknown order")
		return nil, apperror.ErrNotFound("order")
	}

	if gatewayOrderID != "" {
		for _, c := range candidates {
			if c.GatewayOrderID() == gatewayOrderID {
				return c, nil
			}
		}
	}
	for _, c := range candidates {
		if c.Status().IsLive() {
			return c, nil
		}
	}

	newest := candidates[0]
	for _, c := range candidates[1:] {
		if c.CreatedAt().After(newest.CreatedAt()) {
			newest = c
		}
	}
	return newest, nil
}

// apply runs the reconciliation under the order lock and a transaction with
// the same boundary, re-reading the row so the decision is made against
// current state.
func (s *ReconcilerImpl) apply(ctx context.Context, orderID uuid.UUID, method domain.PaymentMethod, oc outcome) error {
	var settled *domain.PaymentOrder

	err := s.lock.WithLock(ctx, orderID, func(ctx context.Context) error {
		dbTx, err := s.transactor.Begin(ctx)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		order, err := s.orderRepo.FindByIDForUpdate(ctx, dbTx, orderID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("find order: %w", err))
		}
		if order == nil {
			return apperror.ErrNotFound("order")
		}

		var applyErr error
		if oc.kind == ports.CallbackKindRefund {
			applyErr = s.applyRefund(order, oc)
		} else {
			applyErr = s.applyPayment(ctx, order, method, oc)
		}

		switch {
		case errors.Is(applyErr, domain.ErrDuplicateDelivery):
			s.log.Info().
				Str("order_id", order.ID().String()).
				Str("status", string(order.Status())).
				Msg("duplicate gateway notification, acknowledged without change")
			return nil
		case errors.Is(applyErr, domain.ErrConflictingOutcome):
			s.log.Error().
				Str("order_id", order.ID().String()).
				Str("status", string(order.Status())).
				Str("reported", string(oc.result)).
				Msg("gateway reported an outcome conflicting with settled state")
			return apperror.ErrConflictingOutcome()
		case applyErr != nil:
			return applyErr
		}

		if err := s.orderRepo.Save(ctx, dbTx, order); err != nil {
			return apperror.InternalError(fmt.Errorf("save order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit: %w", err))
		}
		settled = order
		return nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		events := settled.PullEvents()
		if len(events) > 0 {
			if err := s.events.Publish(ctx, events); err != nil {
				s.log.Error().Err(err).
					Str("order_id", settled.ID().String()).
					Msg("failed to publish domain events")
			}
		}
	}
	return nil
}

// applyPayment moves the order according to a payment notification.
func (s *ReconcilerImpl) applyPayment(ctx context.Context, order *domain.PaymentOrder, method domain.PaymentMethod, oc outcome) error {
	now := time.Now().UTC()

	switch oc.result {
	case ports.OutcomeSuccess:
		amount := order.Amount()
		if oc.amount != nil {
			amount = *oc.amount
		}
		// Tampered or truncated notifications must not settle the order.
		if !amount.Equal(order.Amount()) {
			s.log.Error().
				Str("order_id", order.ID().String()).
				Str("expected", order.Amount().String()).
				Str("reported", amount.String()).
				Msg("ALERT: callback amount does not match order amount")
			return apperror.ErrAmountMismatch()
		}

		// A redelivered success notification against a settled order must not
		// re-enter the confirmation gate; MarkSucceeded resolves it as a
		// duplicate or a conflict.
		if method.IsCrypto() && !order.Status().IsTerminal() {
			confirmed := s.confirmations.Effective(ctx, method.Network(), oc.txHash, oc.confirmations)
			if confirmed < method.RequiredConfirmations() {
				s.log.Info().
					Str("order_id", order.ID().String()).
					Str("tx_hash", oc.txHash).
					Int("confirmations", confirmed).
					Int("required", method.RequiredConfirmations()).
					Msg("deposit seen, awaiting confirmations")
				return order.MarkProcessing(now)
			}
		}

		paidAt := now
		if oc.paidAt != nil {
			paidAt = *oc.paidAt
		}
		return order.MarkSucceeded(oc.gatewayOrderID, amount, paidAt)

	case ports.OutcomeFailed:
		reason := oc.failureReason
		if reason == "" {
			reason = "gateway reported failure"
		}
		return order.MarkFailed(reason, now)

	default:
		// Pending on an already-settled order is stale news, not a conflict.
		if order.Status().IsTerminal() {
			return domain.ErrDuplicateDelivery
		}
		return order.MarkProcessing(now)
	}
}

// applyRefund moves the matching refund according to a refund notification.
func (s *ReconcilerImpl) applyRefund(order *domain.PaymentOrder, oc outcome) error {
	refund, ok := order.RefundByGatewayID(oc.gatewayRefundID)
	if !ok {
		s.log.Warn().
			Str("order_id", order.ID().String()).
			Str("gateway_refund_id", oc.gatewayRefundID).
			Msg("refund callback for unknown refund")
		return apperror.ErrNotFound("refund")
	}

	now := time.Now().UTC()
	switch oc.result {
	case ports.OutcomeSuccess:
		return refund.MarkSucceeded(now)
	case ports.OutcomeFailed:
		return refund.MarkFailed(now)
	default:
		// Pending on an already-settled refund is stale news.
		if refund.Status().IsTerminal() {
			return domain.ErrDuplicateDelivery
		}
		return refund.MarkProcessing()
	}
}

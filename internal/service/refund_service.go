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

// RefundServiceImpl implements ports.RefundService.
type RefundServiceImpl struct {
	orderRepo  ports.PaymentOrderRepository
	gateways   ports.GatewayRegistry
	transactor ports.DBTransactor
	lock       ports.OrderLock
	events     ports.EventSink
	audit      ports.AuditService
	log        zerolog.Logger
}

// NewRefundService creates a new RefundServiceImpl.
func NewRefundService(
	orderRepo ports.PaymentOrderRepository,
	gateways ports.GatewayRegistry,
	transactor ports.DBTransactor,
	lock ports.OrderLock,
	events ports.EventSink,
	audit ports.AuditService,
	log zerolog.Logger,
) *RefundServiceImpl {
	return &RefundServiceImpl{
		orderRepo:  orderRepo,
		gateways:   gateways,
		transactor: transactor,
		lock:       lock,
		events:     events,
		audit:      audit,
		log:        log,
	}
}

// CreateRefund records a refund against a settled order and dispatches it to
// the gateway. The refund row is committed PENDING before the gateway call so
// its amount is reserved against the refundable balance even if the dispatch
// result is lost.
func (s *RefundServiceImpl) CreateRefund(ctx context.Context, orderID uuid.UUID, amount domain.Money, reason, operatorID string) (*domain.Refund, error) {
	var (
		refund *domain.Refund
		method domain.PaymentMethod
	)

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

		refund, err = order.CreateRefund(amount, reason, operatorID, time.Now().UTC())
		switch {
		case errors.Is(err, domain.ErrNotRefundable):
			return apperror.ErrOrderNotRefundable()
		case errors.Is(err, domain.ErrRefundExceedsBalance):
			return apperror.ErrRefundExceedsBalance()
		case err != nil:
			return err
		}
		method = order.Method()

		if err := s.orderRepo.Save(ctx, dbTx, order); err != nil {
			return apperror.InternalError(fmt.Errorf("save order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit: %w", err))
		}

		events := order.PullEvents()
		if len(events) > 0 {
			if pubErr := s.events.Publish(ctx, events); pubErr != nil {
				s.log.Error().Err(pubErr).
					Str("order_id", order.ID().String()).
					Msg("failed to publish domain events")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, operatorID, orderID, "refund.create", fmt.Sprintf("amount=%s reason=%s", amount, reason))

	if err := s.dispatch(ctx, orderID, method, refund); err != nil {
		// The refund stays PENDING; a later callback or manual retry
		// resolves it. Creation itself succeeded.
		s.log.Warn().Err(err).
			Str("order_id", orderID.String()).
			Str("refund_id", refund.ID().String()).
			Msg("refund dispatch failed, left pending")
	}

	return refund, nil
}

// dispatch sends the refund to the gateway and records the returned gateway
// refund id, plus any immediately-known terminal outcome.
func (s *RefundServiceImpl) dispatch(ctx context.Context, orderID uuid.UUID, method domain.PaymentMethod, created *domain.Refund) error {
	adapter, err := s.gateways.Adapter(method)
	if err != nil {
		return err
	}

	var gatewayOrderID string
	if order, err := s.orderRepo.FindByID(ctx, orderID); err == nil && order != nil {
		gatewayOrderID = order.GatewayOrderID()
	}

	data, err := adapter.Refund(ctx, gatewayOrderID, created.ID().String(), created.Amount())
	if err != nil {
		return err
	}

	return s.lock.WithLock(ctx, orderID, func(ctx context.Context) error {
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

		refund, ok := order.Refund(created.ID())
		if !ok {
			return apperror.ErrNotFound("refund")
		}
		if refund.Status().IsTerminal() {
			// A callback already settled it while the dispatch was in flight.
			*created = *refund
			return nil
		}

		if err := refund.UpdateGatewayInfo(data.GatewayRefundID); err != nil {
			return err
		}

		now := time.Now().UTC()
		var applyErr error
		switch data.Outcome {
		case ports.OutcomeSuccess:
			applyErr = refund.MarkSucceeded(now)
		case ports.OutcomeFailed:
			applyErr = refund.MarkFailed(now)
		}
		if applyErr != nil && !errors.Is(applyErr, domain.ErrDuplicateDelivery) {
			return applyErr
		}

		if err := s.orderRepo.Save(ctx, dbTx, order); err != nil {
			return apperror.InternalError(fmt.Errorf("save order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit: %w", err))
		}

		// Mirror the gateway outcome into the caller's copy.
		*created = *refund
		return nil
	})
}

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

const idempotencyTTL = 24 * time.Hour

// OrderServiceImpl implements ports.OrderService.
type OrderServiceImpl struct {
	orderRepo  ports.PaymentOrderRepository
	gateways   ports.GatewayRegistry
	idempCache ports.IdempotencyCache
	transactor ports.DBTransactor
	lock       ports.OrderLock
	events     ports.EventSink
	audit      ports.AuditService
	log        zerolog.Logger
}

// NewOrderService creates a new OrderServiceImpl.
func NewOrderService(
	orderRepo ports.PaymentOrderRepository,
	gateways ports.GatewayRegistry,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	lock ports.OrderLock,
	events ports.EventSink,
	audit ports.AuditService,
	log zerolog.Logger,
) *OrderServiceImpl {
	return &OrderServiceImpl{
		orderRepo:  orderRepo,
		gateways:   gateways,
		idempCache: idempCache,
		transactor: transactor,
		lock:       lock,
		events:     events,
		audit:      audit,
		log:        log,
	}
}

// CreateOrder creates a payment order and registers it with the gateway for
// its rail. Re-submissions carrying the same idempotency key return the
// original order; a second live attempt for the same merchant order is
// rejected.
func (s *OrderServiceImpl) CreateOrder(ctx context.Context, req ports.CreateOrderRequest) (*domain.PaymentOrder, error) {
	if req.IdempotencyKey != "" {
		if existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			// Replay is scoped to the same merchant order. A recycled key
			// pointing at a different order is a caller bug, not a replay.
			if existing.MerchantOrderID() != req.MerchantOrderID {
				return nil, apperror.Validation("idempotency key already used for a different merchant order")
			}
			return existing, nil
		}
	}

	live, err := s.orderRepo.FindLiveByMerchantOrderID(ctx, req.MerchantOrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check live attempt: %w", err))
	}
	if live != nil {
		return nil, apperror.ErrDuplicateOrder()
	}

	order, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: req.MerchantOrderID,
		UserID:          req.UserID,
		IdempotencyKey:  req.IdempotencyKey,
		Amount:          req.Amount,
		Method:          req.Method,
		ExpireTime:      req.ExpireTime,
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	// Persist PENDING first so the one-live-attempt constraint is claimed
	// before any money-moving call leaves the process.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	if err := s.orderRepo.Create(ctx, dbTx, order); err != nil {
		_ = dbTx.Rollback(ctx)
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit create: %w", err))
	}

	s.publishEvents(ctx, order)

	adapter, err := s.gateways.Adapter(req.Method)
	if err != nil {
		return nil, err
	}

	data, gwErr := adapter.CreatePayment(ctx, order)

	dbTx, err = s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	switch {
	case gwErr == nil:
		credential := data.PaymentURL
		if credential == "" {
			credential = data.DeepLink
		}
		qr := data.QRCode
		if qr == "" {
			qr = data.CryptoAddress
		}
		if err := order.UpdateGatewayInfo(data.GatewayOrderID, credential, qr, now); err != nil {
			return nil, err
		}
	case apperror.IsRetryable(gwErr):
		// Transport fault: the order stays PENDING and a later probe or
		// callback settles it.
		s.log.Warn().Err(gwErr).
			Str("order_id", order.ID().String()).
			Str("method", req.Method.Code()).
			Msg("gateway create unreachable, order left pending")
	default:
		reason := "gateway rejected order creation"
		var appErr *apperror.AppError
		if errors.As(gwErr, &appErr) {
			reason = appErr.Message
		}
		if err := order.MarkFailed(reason, now); err != nil {
			return nil, err
		}
	}

	if err := s.orderRepo.Save(ctx, dbTx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit gateway info: %w", err))
	}

	s.publishEvents(ctx, order)

	if req.IdempotencyKey != "" {
		if err := s.idempCache.Set(ctx, req.IdempotencyKey, []byte(order.ID().String()), idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Msg("failed to cache idempotency key")
		}
	}

	if gwErr != nil && !apperror.IsRetryable(gwErr) {
		return nil, gwErr
	}
	return order, nil
}

// findByIdempotencyKey checks Redis first, then the database.
func (s *OrderServiceImpl) findByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentOrder, error) {
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		id, err := uuid.Parse(string(cached))
		if err == nil {
			order, err := s.orderRepo.FindByID(ctx, id)
			if err != nil {
				return nil, apperror.InternalError(fmt.Errorf("load cached order: %w", err))
			}
			if order != nil {
				return order, nil
			}
		}
	}

	order, err := s.orderRepo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	return order, nil
}

// GetOrder returns the order with the given id.
func (s *OrderServiceImpl) GetOrder(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	return order, nil
}

// ListByUser returns a page of the user's orders, newest first.
func (s *OrderServiceImpl) ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	orders, total, err := s.orderRepo.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list orders: %w", err))
	}
	return orders, total, nil
}

// CloseOrder archives an order. Allowed from any state except CLOSED; it
// never rewrites the settlement outcome.
func (s *OrderServiceImpl) CloseOrder(ctx context.Context, id uuid.UUID, operatorID string) error {
	err := s.mutateUnderLock(ctx, id, func(order *domain.PaymentOrder, now time.Time) error {
		return order.Close(operatorID, now)
	})
	if errors.Is(err, domain.ErrDuplicateDelivery) {
		return nil
	}
	if err != nil {
		return err
	}
	s.audit.Record(ctx, operatorID, id, "order.close", "")
	return nil
}

// CancelOrder cancels a live order. Terminal orders cannot be cancelled, so
// an operator racing a successful payment gets an error instead of a silent
// no-op.
func (s *OrderServiceImpl) CancelOrder(ctx context.Context, id uuid.UUID, operatorID string) error {
	err := s.mutateUnderLock(ctx, id, func(order *domain.PaymentOrder, now time.Time) error {
		return order.Cancel(operatorID, now)
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, operatorID, id, "order.cancel", "")
	return nil
}

// mutateUnderLock runs a state transition under the per-order lock and a
// database transaction sharing the same boundary, then publishes any events
// the transition queued.
func (s *OrderServiceImpl) mutateUnderLock(ctx context.Context, id uuid.UUID, fn func(*domain.PaymentOrder, time.Time) error) error {
	var mutated *domain.PaymentOrder

	err := s.lock.WithLock(ctx, id, func(ctx context.Context) error {
		dbTx, err := s.transactor.Begin(ctx)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		order, err := s.orderRepo.FindByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("find order: %w", err))
		}
		if order == nil {
			return apperror.ErrNotFound("order")
		}

		if err := fn(order, time.Now().UTC()); err != nil {
			return err
		}

		if err := s.orderRepo.Save(ctx, dbTx, order); err != nil {
			return apperror.InternalError(fmt.Errorf("save order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit: %w", err))
		}
		mutated = order
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvents(ctx, mutated)
	return nil
}

// publishEvents drains the aggregate's queued events into the sink. Failures
// are logged, not returned: sink delivery is at-least-once and a consumer
// reconciles via the deterministic event ids.
func (s *OrderServiceImpl) publishEvents(ctx context.Context, order *domain.PaymentOrder) {
	events := order.PullEvents()
	if len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events); err != nil {
		s.log.Error().Err(err).
			Str("order_id", order.ID().String()).
			Int("count", len(events)).
			Msg("failed to publish domain events")
	}
}

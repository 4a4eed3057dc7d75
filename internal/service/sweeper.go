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

// sweepOperator is recorded as the closing actor for swept orders.
const sweepOperator = "system:sweeper"

// ExpirySweeper periodically moves live orders past their expire time to
// EXPIRED and archives them. It is the liveness backstop for orders whose
// payer simply walked away.
type ExpirySweeper struct {
	orderRepo  ports.PaymentOrderRepository
	transactor ports.DBTransactor
	lock       ports.OrderLock
	events     ports.EventSink
	log        zerolog.Logger
	interval   time.Duration
	batchSize  int
}

// NewExpirySweeper creates a new ExpirySweeper.
func NewExpirySweeper(
	orderRepo ports.PaymentOrderRepository,
	transactor ports.DBTransactor,
	lock ports.OrderLock,
	events ports.EventSink,
	log zerolog.Logger,
	interval time.Duration,
	batchSize int,
) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		orderRepo:  orderRepo,
		transactor: transactor,
		lock:       lock,
		events:     events,
		log:        log,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: finds a batch of overdue live orders and expires each
// under its own lock. Contended orders are skipped; the next pass picks them
// up if they are still live.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	ids, err := s.orderRepo.FindExpiredIDs(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list expired orders")
		return
	}
	if len(ids) == 0 {
		return
	}

	var swept, skipped int
	for _, id := range ids {
		switch err := s.sweepOne(ctx, id); {
		case err == nil:
			swept++
		case apperror.IsRetryable(err):
			skipped++
		default:
			s.log.Warn().Err(err).Str("order_id", id.String()).Msg("failed to expire order")
		}
	}
	s.log.Info().Int("swept", swept).Int("skipped", skipped).Int("candidates", len(ids)).Msg("expiry sweep pass")
}

func (s *ExpirySweeper) sweepOne(ctx context.Context, id uuid.UUID) error {
	var expired *domain.PaymentOrder

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
			return nil
		}
		// Re-check after acquiring the lock: a callback may have settled the
		// order between the candidate scan and here.
		now := time.Now().UTC()
		if !order.IsExpired(now) {
			return nil
		}

		if err := order.MarkExpired(now); err != nil {
			return err
		}
		if err := order.Close(sweepOperator, now); err != nil && !errors.Is(err, domain.ErrDuplicateDelivery) {
			return err
		}

		if err := s.orderRepo.Save(ctx, dbTx, order); err != nil {
			return apperror.InternalError(fmt.Errorf("save order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit: %w", err))
		}
		expired = order
		return nil
	})
	if err != nil {
		return err
	}

	if expired != nil {
		if events := expired.PullEvents(); len(events) > 0 {
			if err := s.events.Publish(ctx, events); err != nil {
				s.log.Error().Err(err).Str("order_id", expired.ID().String()).Msg("failed to publish domain events")
			}
		}
	}
	return nil
}

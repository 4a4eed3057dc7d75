package integration

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// fakeTx satisfies pgx.Tx for services that only Begin/Commit/Rollback.
// The in-memory repos commit on Save, so the transaction itself is a no-op.
type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

type inMemoryTransactor struct{}

func (inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

// inMemoryOrderRepo mimics the Postgres repo against a snapshot map: reads
// rehydrate fresh aggregates and writes persist snapshots, so state only
// becomes visible through Save, like a committed row.
type inMemoryOrderRepo struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]domain.OrderSnapshot
	refunds map[uuid.UUID][]domain.RefundSnapshot // keyed by order id
}

func newInMemoryOrderRepo() *inMemoryOrderRepo {
	return &inMemoryOrderRepo{
		orders:  make(map[uuid.UUID]domain.OrderSnapshot),
		refunds: make(map[uuid.UUID][]domain.RefundSnapshot),
	}
}

func (r *inMemoryOrderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.PaymentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := order.Snapshot()
	// One live attempt per merchant order, as the partial unique index enforces.
	for _, existing := range r.orders {
		if existing.MerchantOrderID == s.MerchantOrderID && existing.Status.IsLive() {
			return apperror.ErrDuplicateOrder()
		}
	}
	r.orders[s.ID] = s
	return nil
}

func (r *inMemoryOrderRepo) Save(ctx context.Context, tx pgx.Tx, order *domain.PaymentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := order.Snapshot()
	r.orders[s.ID] = s
	refunds := make([]domain.RefundSnapshot, 0, len(order.Refunds()))
	for _, refund := range order.Refunds() {
		refunds = append(refunds, refund.Snapshot())
	}
	r.refunds[s.ID] = refunds
	return nil
}

func (r *inMemoryOrderRepo) rehydrate(s domain.OrderSnapshot) *domain.PaymentOrder {
	refunds := make([]*domain.Refund, 0, len(r.refunds[s.ID]))
	for _, rs := range r.refunds[s.ID] {
		refunds = append(refunds, domain.RehydrateRefund(rs))
	}
	return domain.RehydrateOrder(s, refunds)
}

func (r *inMemoryOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return r.rehydrate(s), nil
}

func (r *inMemoryOrderRepo) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentOrder, error) {
	return r.FindByID(ctx, id)
}

func (r *inMemoryOrderRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.PaymentOrder, error) {
	var orders []*domain.PaymentOrder
	for _, id := range ids {
		order, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order != nil {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (r *inMemoryOrderRepo) FindByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*domain.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []*domain.PaymentOrder
	for _, s := range r.orders {
		if s.MerchantOrderID == merchantOrderID {
			orders = append(orders, r.rehydrate(s))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt().After(orders[j].CreatedAt()) })
	return orders, nil
}

func (r *inMemoryOrderRepo) FindLiveByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.orders {
		if s.MerchantOrderID == merchantOrderID && s.Status.IsLive() {
			return r.rehydrate(s), nil
		}
	}
	return nil, nil
}

func (r *inMemoryOrderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.orders {
		if s.IdempotencyKey == key {
			return r.rehydrate(s), nil
		}
	}
	return nil, nil
}

func (r *inMemoryOrderRepo) FindByUserID(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []*domain.PaymentOrder
	for _, s := range r.orders {
		if s.UserID == userID {
			orders = append(orders, r.rehydrate(s))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt().After(orders[j].CreatedAt()) })
	total := int64(len(orders))
	start := (page - 1) * limit
	if start >= len(orders) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[start:end], total, nil
}

func (r *inMemoryOrderRepo) FindExpiredIDs(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range r.orders {
		if s.Status.IsLive() && asOf.After(s.ExpireTime) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (r *inMemoryOrderRepo) GetStatistics(ctx context.Context, start, end time.Time) (*ports.OrderStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &ports.OrderStatistics{TotalPaidByCurrency: make(map[string]decimal.Decimal)}
	byMethod := make(map[string]*ports.MethodStatistics)
	for _, s := range r.orders {
		if s.CreatedAt.Before(start) || !s.CreatedAt.Before(end) {
			continue
		}
		key := s.Method.Code() + "/" + s.Amount.Currency()
		m, ok := byMethod[key]
		if !ok {
			m = &ports.MethodStatistics{Method: s.Method.Code(), Currency: s.Amount.Currency()}
			byMethod[key] = m
		}
		m.TotalOrders++
		stats.TotalOrders++
		switch s.Status {
		case domain.OrderStatusSucceeded:
			m.SucceededCount++
			stats.SucceededCount++
			if s.PaidAmount != nil {
				m.TotalPaid = m.TotalPaid.Add(s.PaidAmount.Amount())
				cur := s.PaidAmount.Currency()
				stats.TotalPaidByCurrency[cur] = stats.TotalPaidByCurrency[cur].Add(s.PaidAmount.Amount())
			}
		case domain.OrderStatusFailed:
			stats.FailedCount++
		}
	}
	keys := make([]string, 0, len(byMethod))
	for k := range byMethod {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stats.ByMethod = append(stats.ByMethod, *byMethod[k])
	}
	return stats, nil
}

type inMemoryOperatorRepo struct {
	mu        sync.Mutex
	operators map[string]domain.Operator // by username
}

func newInMemoryOperatorRepo() *inMemoryOperatorRepo {
	return &inMemoryOperatorRepo{operators: make(map[string]domain.Operator)}
}

func (r *inMemoryOperatorRepo) Create(ctx context.Context, op *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[strings.ToLower(op.Username)] = *op
	return nil
}

func (r *inMemoryOperatorRepo) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.operators[strings.ToLower(username)]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func newInMemoryAuditRepo() *inMemoryAuditRepo { return &inMemoryAuditRepo{} }

func (r *inMemoryAuditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *inMemoryAuditRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range r.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// collectorSink records published events for assertions.
type collectorSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *collectorSink) Publish(ctx context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *collectorSink) byName(name string) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

package ports

import (
	"context"
	"time"

	"payment-settlement-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PaymentOrderRepository defines persistence for payment orders and their
// refunds. Methods accepting pgx.Tx run inside transaction blocks so that the
// per-order lock scope and the transaction scope share one boundary.
type PaymentOrderRepository interface {
	// Create inserts a new order. It enforces the one-live-attempt-per-merchant-
	// order invariant and returns an error on a second live attempt.
	Create(ctx context.Context, tx pgx.Tx, order *domain.PaymentOrder) error
	// Save persists the order row and all refund rows in one transaction.
	Save(ctx context.Context, tx pgx.Tx, order *domain.PaymentOrder) error

	FindByID(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error)
	// FindByIDForUpdate reads the order with a row lock inside tx.
	FindByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentOrder, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.PaymentOrder, error)
	FindByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*domain.PaymentOrder, error)
	// FindLiveByMerchantOrderID returns the single non-terminal attempt for a
	// merchant order, or nil.
	FindLiveByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentOrder, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentOrder, error)
	FindByUserID(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error)
	// FindExpiredIDs returns ids of live orders whose expire time passed.
	FindExpiredIDs(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error)

	GetStatistics(ctx context.Context, start, end time.Time) (*OrderStatistics, error)
}

// OrderStatistics aggregates settlement outcomes over a period.
type OrderStatistics struct {
	TotalOrders    int64
	SucceededCount int64
	FailedCount    int64
	// TotalPaidByCurrency sums paid amounts of succeeded orders per currency.
	// No FX conversion is attempted.
	TotalPaidByCurrency map[string]decimal.Decimal
	ByMethod            []MethodStatistics
}

// MethodStatistics is the per-rail breakdown inside OrderStatistics.
type MethodStatistics struct {
	Method         string
	TotalOrders    int64
	SucceededCount int64
	TotalPaid      decimal.Decimal
	Currency       string
}

// OperatorRepository defines persistence for back-office operators.
type OperatorRepository interface {
	Create(ctx context.Context, op *domain.Operator) error
	GetByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

// AuditRepository records administrative actions.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.AuditEntry, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

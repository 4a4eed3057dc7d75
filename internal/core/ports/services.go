package ports

import (
	"context"
	"time"

	"payment-settlement-core/internal/core/domain"

	"github.com/google/uuid"
)

// --- Infrastructure Ports ---

// OrderLock serializes state-changing operations per order. WithLock runs fn
// while holding the exclusive lock for orderID; acquisition retries with
// backoff for a bounded number of attempts and fails closed on exhaustion.
// Operations on different orders proceed in parallel.
type OrderLock interface {
	WithLock(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context) error) error
}

// EventSink receives domain events after the state they record has been
// durably committed. Delivery is at-least-once; events carry deterministic
// ids for consumer-side deduplication.
type EventSink interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// ConfirmationSource reports the current confirmation count for a blockchain
// transaction, queried from a network RPC node or indexer.
type ConfirmationSource interface {
	Confirmations(ctx context.Context, network, txHash string) (int, error)
}

// IdempotencyCache is the Redis-layer fast path for creation idempotency:
// it maps an idempotency key to the already-created order id.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// HealthChecker reports the liveness of one external dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}

// HashService handles operator password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles operator JWT operations.
type TokenService interface {
	Generate(operatorID uuid.UUID, username string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OperatorID uuid.UUID
	Username   string
}

// --- Service Ports (Business Logic) ---

// CreateOrderRequest holds validated input for order creation.
type CreateOrderRequest struct {
	MerchantOrderID string
	UserID          string
	IdempotencyKey  string
	Amount          domain.Money
	Method          domain.PaymentMethod
	ExpireTime      time.Time
}

// OrderService is the order-creation and administrative surface.
type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.PaymentOrder, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error)
	ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error)
	CloseOrder(ctx context.Context, id uuid.UUID, operatorID string) error
	CancelOrder(ctx context.Context, id uuid.UUID, operatorID string) error
}

// ReconcilerService merges asynchronous gateway notifications into the local
// state machine exactly once.
type ReconcilerService interface {
	// HandleCallback verifies, validates, and applies a raw gateway callback
	// for the given rail. A nil return means the HTTP layer should ack so the
	// gateway stops redelivering.
	HandleCallback(ctx context.Context, method domain.PaymentMethod, raw []byte) error
	// ProbeOrder re-queries the gateway for a live order suspected of a lost
	// callback and applies the result through the same reconciliation path.
	ProbeOrder(ctx context.Context, orderID uuid.UUID) error
}

// RefundService creates refunds and dispatches them to the gateway.
type RefundService interface {
	CreateRefund(ctx context.Context, orderID uuid.UUID, amount domain.Money, reason, operatorID string) (*domain.Refund, error)
}

// ReportingService exposes settlement statistics and order listings.
type ReportingService interface {
	GetStatistics(ctx context.Context, start, end time.Time) (*OrderStatistics, error)
}

// AuthService authenticates back-office operators.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*domain.Operator, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry
}

// AuditService records administrative actions against orders.
type AuditService interface {
	Record(ctx context.Context, operatorID string, orderID uuid.UUID, action, detail string)
}

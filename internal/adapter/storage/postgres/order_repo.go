package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// orderColumns is the SELECT list shared by every order read. Amounts come
// back as text and are parsed into decimals to avoid float round-trips.
const orderColumns = `id, merchant_order_id, user_id, idempotency_key, amount::text, currency,
	method, status, gateway_order_id, payment_url, qr_code, paid_amount::text, paid_at,
	failure_reason, expire_time, closed_at, closed_by, created_at, updated_at`

const refundColumns = `id, order_id, amount::text, currency, reason, operator_id, status,
	gateway_refund_id, completed_at, created_at`

// OrderRepo implements ports.PaymentOrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create inserts a new order inside tx. The partial unique index on
// (merchant_order_id) over live statuses turns a second live attempt into a
// duplicate-order error regardless of request interleaving.
func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.PaymentOrder) error {
	s := order.Snapshot()
	query := `INSERT INTO payment_orders (id, merchant_order_id, user_id, idempotency_key, amount, currency,
		method, status, gateway_order_id, payment_url, qr_code, paid_amount, paid_at,
		failure_reason, expire_time, closed_at, closed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := tx.Exec(ctx, query,
		s.ID, s.MerchantOrderID, s.UserID, nullString(s.IdempotencyKey),
		s.Amount.Amount().String(), s.Amount.Currency(),
		s.Method.Code(), string(s.Status), s.GatewayOrderID, s.PaymentURL, s.QRCode,
		nullMoney(s.PaidAmount), s.PaidAt,
		s.FailureReason, s.ExpireTime, s.ClosedAt, nullString(s.ClosedBy),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.ErrDuplicateOrder()
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Save persists the order row and upserts every refund inside tx.
func (r *OrderRepo) Save(ctx context.Context, tx pgx.Tx, order *domain.PaymentOrder) error {
	s := order.Snapshot()
	query := `UPDATE payment_orders SET status = $2, gateway_order_id = $3, payment_url = $4, qr_code = $5,
		paid_amount = $6, paid_at = $7, failure_reason = $8, closed_at = $9, closed_by = $10, updated_at = $11
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		s.ID, string(s.Status), s.GatewayOrderID, s.PaymentURL, s.QRCode,
		nullMoney(s.PaidAmount), s.PaidAt, s.FailureReason, s.ClosedAt, nullString(s.ClosedBy), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", s.ID)
	}

	for _, refund := range order.Refunds() {
		rs := refund.Snapshot()
		refundQuery := `INSERT INTO refunds (id, order_id, amount, currency, reason, operator_id, status,
			gateway_refund_id, completed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
				gateway_refund_id = EXCLUDED.gateway_refund_id,
				completed_at = EXCLUDED.completed_at`

		_, err := tx.Exec(ctx, refundQuery,
			rs.ID, rs.OrderID, rs.Amount.Amount().String(), rs.Amount.Currency(),
			rs.Reason, rs.OperatorID, string(rs.Status),
			rs.GatewayRefundID, rs.CompletedAt, rs.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert refund %s: %w", rs.ID, err)
		}
	}
	return nil
}

// FindByID fetches an order with its refunds, or nil when absent.
func (r *OrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE id = $1`
	return r.loadOne(ctx, r.pool, query, id)
}

// FindByIDForUpdate fetches an order with a row lock inside tx.
func (r *OrderRepo) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE id = $1 FOR UPDATE`
	return r.loadOne(ctx, tx, query, id)
}

// FindByIDs fetches a batch of orders, refunds included.
func (r *OrderRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.PaymentOrder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	snapshots, err := scanOrderRows(rows)
	if err != nil {
		return nil, err
	}
	return r.attachRefunds(ctx, snapshots)
}

// FindByMerchantOrderID returns every attempt recorded for a merchant order.
func (r *OrderRepo) FindByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE merchant_order_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, merchantOrderID)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	snapshots, err := scanOrderRows(rows)
	if err != nil {
		return nil, err
	}
	return r.attachRefunds(ctx, snapshots)
}

// FindLiveByMerchantOrderID returns the single live attempt, or nil.
func (r *OrderRepo) FindLiveByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders
		WHERE merchant_order_id = $1 AND status IN ('PENDING', 'PROCESSING')`
	return r.loadOne(ctx, r.pool, query, merchantOrderID)
}

// FindByIdempotencyKey returns the order created under key, or nil.
func (r *OrderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE idempotency_key = $1`
	return r.loadOne(ctx, r.pool, query, key)
}

// FindByUserID returns a page of the user's orders, newest first, with the
// total count.
func (r *OrderRepo) FindByUserID(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payment_orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	snapshots, err := scanOrderRows(rows)
	if err != nil {
		return nil, 0, err
	}
	orders, err := r.attachRefunds(ctx, snapshots)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// FindExpiredIDs returns ids of live orders whose expire time has passed.
func (r *OrderRepo) FindExpiredIDs(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM payment_orders
		WHERE status IN ('PENDING', 'PROCESSING') AND expire_time < $1
		ORDER BY expire_time LIMIT $2`

	rows, err := r.pool.Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetStatistics aggregates settlement outcomes over [start, end).
func (r *OrderRepo) GetStatistics(ctx context.Context, start, end time.Time) (*ports.OrderStatistics, error) {
	query := `SELECT method, currency,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'SUCCEEDED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COALESCE(SUM(paid_amount) FILTER (WHERE status = 'SUCCEEDED'), 0)::text
		FROM payment_orders
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY method, currency
		ORDER BY method, currency`

	rows, err := r.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate orders: %w", err)
	}
	defer rows.Close()

	stats := &ports.OrderStatistics{
		TotalPaidByCurrency: make(map[string]decimal.Decimal),
	}
	for rows.Next() {
		var (
			m        ports.MethodStatistics
			failed   int64
			paidText string
		)
		if err := rows.Scan(&m.Method, &m.Currency, &m.TotalOrders, &m.SucceededCount, &failed, &paidText); err != nil {
			return nil, fmt.Errorf("scan statistics row: %w", err)
		}
		paid, err := decimal.NewFromString(paidText)
		if err != nil {
			return nil, fmt.Errorf("parse paid total: %w", err)
		}
		m.TotalPaid = paid

		stats.TotalOrders += m.TotalOrders
		stats.SucceededCount += m.SucceededCount
		stats.FailedCount += failed
		stats.TotalPaidByCurrency[m.Currency] = stats.TotalPaidByCurrency[m.Currency].Add(paid)
		stats.ByMethod = append(stats.ByMethod, m)
	}
	return stats, rows.Err()
}

// querier lets loadOne run against either the pool or an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *OrderRepo) loadOne(ctx context.Context, q querier, query string, arg any) (*domain.PaymentOrder, error) {
	snapshot, err := scanOrder(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	refunds, err := r.loadRefunds(ctx, snapshot.ID)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateOrder(*snapshot, refunds), nil
}

func (r *OrderRepo) attachRefunds(ctx context.Context, snapshots []*domain.OrderSnapshot) ([]*domain.PaymentOrder, error) {
	orders := make([]*domain.PaymentOrder, 0, len(snapshots))
	for _, s := range snapshots {
		refunds, err := r.loadRefunds(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		orders = append(orders, domain.RehydrateOrder(*s, refunds))
	}
	return orders, nil
}

func (r *OrderRepo) loadRefunds(ctx context.Context, orderID uuid.UUID) ([]*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE order_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("select refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		var (
			s          domain.RefundSnapshot
			amountText string
			currency   string
			status     string
		)
		if err := rows.Scan(&s.ID, &s.OrderID, &amountText, &currency, &s.Reason, &s.OperatorID,
			&status, &s.GatewayRefundID, &s.CompletedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		amount, err := domain.ParseMoney(amountText, currency)
		if err != nil {
			return nil, fmt.Errorf("refund %s: %w", s.ID, err)
		}
		s.Amount = amount
		s.Status = domain.RefundStatus(status)
		refunds = append(refunds, domain.RehydrateRefund(s))
	}
	return refunds, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.OrderSnapshot, error) {
	var (
		s              domain.OrderSnapshot
		idempotencyKey *string
		amountText     string
		currency       string
		methodCode     string
		status         string
		paidText       *string
		closedBy       *string
	)
	err := row.Scan(&s.ID, &s.MerchantOrderID, &s.UserID, &idempotencyKey, &amountText, &currency,
		&methodCode, &status, &s.GatewayOrderID, &s.PaymentURL, &s.QRCode, &paidText, &s.PaidAt,
		&s.FailureReason, &s.ExpireTime, &s.ClosedAt, &closedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	amount, err := domain.ParseMoney(amountText, currency)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", s.ID, err)
	}
	s.Amount = amount

	method, err := domain.ParseMethod(methodCode)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", s.ID, err)
	}
	s.Method = method
	s.Status = domain.OrderStatus(status)

	if idempotencyKey != nil {
		s.IdempotencyKey = *idempotencyKey
	}
	if closedBy != nil {
		s.ClosedBy = *closedBy
	}
	if paidText != nil {
		paid, err := domain.ParseMoney(*paidText, currency)
		if err != nil {
			return nil, fmt.Errorf("order %s paid amount: %w", s.ID, err)
		}
		s.PaidAmount = &paid
	}
	return &s, nil
}

func scanOrderRows(rows pgx.Rows) ([]*domain.OrderSnapshot, error) {
	defer rows.Close()
	var snapshots []*domain.OrderSnapshot
	for rows.Next() {
		s, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullMoney(m *domain.Money) *string {
	if m == nil {
		return nil
	}
	v := m.Amount().String()
	return &v
}

package postgres

import (
	"context"
	"fmt"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"

	"github.com/google/uuid"
)

type auditRepo struct {
	pool Pool
}

// NewAuditRepository creates a PostgreSQL-backed AuditRepository.
func NewAuditRepository(pool Pool) ports.AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, operator_id, order_id, action, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.OperatorID, entry.OrderID, entry.Action, entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, operator_id, order_id, action, detail, created_at
		 FROM audit_entries WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.OperatorID, &e.OrderID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

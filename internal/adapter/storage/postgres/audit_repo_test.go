package postgres

import (
	"context"
	"testing"
	"time"

	"payment-settlement-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		OperatorID: "op-1",
		OrderID:    uuid.New(),
		Action:     "close",
		Detail:     "manual close before expiry",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(entry.ID, entry.OperatorID, entry.OrderID, entry.Action, entry.Detail, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewAuditRepository(mock)
	require.NoError(t, repo.Append(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_ListByOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	orderID := uuid.New()
	now := time.Now().UTC()
	cols := []string{"id", "operator_id", "order_id", "action", "detail", "created_at"}
	mock.ExpectQuery("SELECT id, operator_id, order_id, action, detail, created_at").
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), "op-1", orderID, "refund", "partial return", now.Add(-time.Minute)).
			AddRow(uuid.New(), "op-2", orderID, "close", "", now))

	repo := NewAuditRepository(mock)
	entries, err := repo.ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "refund", entries[0].Action)
	assert.Equal(t, "op-2", entries[1].OperatorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

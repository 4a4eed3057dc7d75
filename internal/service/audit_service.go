package service

import (
	"context"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// Record appends an audit entry asynchronously (fire-and-forget).
func (s *auditService) Record(ctx context.Context, operatorID string, orderID uuid.UUID, action, detail string) {
	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		OperatorID: operatorID,
		OrderID:    orderID,
		Action:     action,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}

	go func() {
		s.log.Info().
			Str("operator_id", entry.OperatorID).
			Str("order_id", entry.OrderID.String()).
			Str("action", entry.Action).
			Msg("audit")

		if s.repo != nil {
			if err := s.repo.Append(context.Background(), entry); err != nil {
				s.log.Warn().Err(err).Str("action", entry.Action).Msg("failed to persist audit entry")
			}
		}
	}()
}

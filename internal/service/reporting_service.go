package service

import (
	"context"
	"fmt"
	"time"

	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	orderRepo ports.PaymentOrderRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(orderRepo ports.PaymentOrderRepository) ports.ReportingService {
	return &reportingService{orderRepo: orderRepo}
}

// GetStatistics aggregates settlement outcomes over [start, end). Paid totals
// are reported per currency; no FX conversion is attempted.
func (s *reportingService) GetStatistics(ctx context.Context, start, end time.Time) (*ports.OrderStatistics, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if !start.IsZero() && !start.Before(end) {
		return nil, apperror.Validation("start must be before end")
	}

	stats, err := s.orderRepo.GetStatistics(ctx, start, end)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("aggregate statistics: %w", err))
	}
	return stats, nil
}

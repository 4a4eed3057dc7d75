package handler

import (
	"time"

	"payment-settlement-core/internal/adapter/http/dto"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
	"payment-settlement-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// StatsHandler handles settlement statistics endpoints.
type StatsHandler struct {
	reportingSvc ports.ReportingService
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(reportingSvc ports.ReportingService) *StatsHandler {
	return &StatsHandler{reportingSvc: reportingSvc}
}

// GetStatistics handles GET /api/v1/statistics?start=&end= (RFC 3339).
func (h *StatsHandler) GetStatistics(c *gin.Context) {
	var start, end time.Time
	var err error

	if s := c.Query("start"); s != "" {
		if start, err = time.Parse(time.RFC3339, s); err != nil {
			response.Error(c, apperror.Validation("start must be RFC 3339"))
			return
		}
	}
	if s := c.Query("end"); s != "" {
		if end, err = time.Parse(time.RFC3339, s); err != nil {
			response.Error(c, apperror.Validation("end must be RFC 3339"))
			return
		}
	}

	stats, err := h.reportingSvc.GetStatistics(c.Request.Context(), start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToStatisticsResponse(stats))
}

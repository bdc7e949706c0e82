package service

import (
	"context"
	"fmt"

	"prayerflow/internal/models"
	"prayerflow/internal/repository"
)

const topTemplateCount = 5

// StatsService aggregates queue metrics for reporting
type StatsService struct {
	messageRepo repository.MessageRepository
}

// NewStatsService creates a new stats service
func NewStatsService(messageRepo repository.MessageRepository) *StatsService {
	return &StatsService{messageRepo: messageRepo}
}

// GetQueueStats returns delivery and response rates over the whole queue
func (s *StatsService) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	agg, err := s.messageRepo.Aggregates(ctx, topTemplateCount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue: %w", err)
	}
	return BuildQueueStats(agg), nil
}

// BuildQueueStats derives rates from raw counts. Rates are percentages and
// are zero when their denominator is zero.
func BuildQueueStats(agg *models.QueueAggregates) *models.QueueStats {
	stats := &models.QueueStats{
		TotalEnqueued:    agg.Total,
		TotalSent:        agg.Sent,
		AvgDeliveryTime:  agg.AvgDeliverySecs,
		MessagesByType:   agg.MessagesByType,
		MessagesByStatus: agg.MessagesByStatus,
		TopTemplates:     agg.TopTemplates,
	}
	if agg.Total > 0 {
		stats.DeliveryRate = float64(agg.Sent) / float64(agg.Total) * 100
	}
	if agg.Sent > 0 {
		stats.ResponseRate = float64(agg.Responded) / float64(agg.Sent) * 100
	}
	if stats.MessagesByType == nil {
		stats.MessagesByType = map[models.Channel]int{}
	}
	if stats.MessagesByStatus == nil {
		stats.MessagesByStatus = map[models.MessageStatus]int{}
	}
	if stats.TopTemplates == nil {
		stats.TopTemplates = []models.TopTemplate{}
	}
	return stats
}

package repository

import (
	"context"

	"mailforge/models"
)

func (s *Store) AppendEvent(ctx context.Context, ev *models.EmailEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

// CampaignEvents lists a campaign's event log, newest first
func (s *Store) CampaignEvents(ctx context.Context, campaignID uint, limit int) ([]models.EmailEvent, error) {
	var events []models.EmailEvent
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("occurred_at desc").Limit(limit).Find(&events).Error
	return events, err
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailforge/models"
)

// Store is the gorm-backed implementation of every store interface the
// engine packages declare. The engines only ever see those interfaces;
// tests swap in fakes.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// counterColumns whitelists the campaign counter columns that may be
// incremented through IncrementCampaignCounter.
var counterColumns = map[string]bool{
	"sent_count":   true,
	"failed_count": true,
	"open_count":   true,
	"click_count":  true,
	"bounce_count": true,
	"reply_count":  true,
}

func (s *Store) GetCampaign(ctx context.Context, id uint) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *Store) IncrementCampaignCounter(ctx context.Context, campaignID uint, column string) error {
	if !counterColumns[column] {
		return fmt.Errorf("unknown campaign counter %q", column)
	}
	return s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Update(column, gorm.Expr(column+" + ?", 1)).Error
}

func (s *Store) CountRecipients(ctx context.Context, campaignID uint) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("campaign_id = ?", campaignID).Count(&n).Error
	return int(n), err
}

// AddRecipients inserts pending records, skipping contacts already attached
// to the campaign. ON CONFLICT DO NOTHING keeps the (campaign, contact)
// uniqueness without a read-before-write.
func (s *Store) AddRecipients(ctx context.Context, campaignID uint, contactIDs []uint) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}
	records := make([]models.CampaignRecipient, 0, len(contactIDs))
	for _, contactID := range contactIDs {
		records = append(records, models.CampaignRecipient{
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     models.RecipientPending,
		})
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records)
	if res.Error != nil {
		return 0, res.Error
	}

	added := int(res.RowsAffected)
	if added > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Update("total_recipients", gorm.Expr("total_recipients + ?", added)).Error; err != nil {
			return added, err
		}
	}
	return added, nil
}

// RemovePendingRecipients deletes the given contacts' records while still
// pending; recipients that progressed are kept for reporting.
func (s *Store) RemovePendingRecipients(ctx context.Context, campaignID uint, contactIDs []uint) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("campaign_id = ? AND contact_id IN ? AND status = ?",
			campaignID, contactIDs, models.RecipientPending).
		Delete(&models.CampaignRecipient{})
	if res.Error != nil {
		return 0, res.Error
	}

	removed := int(res.RowsAffected)
	if removed > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Update("total_recipients", gorm.Expr("total_recipients - ?", removed)).Error; err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) CancelPendingRecipients(ctx context.Context, campaignID uint, at time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.RecipientPending).
		Updates(map[string]interface{}{
			"status":       models.RecipientCancelled,
			"cancelled_at": at,
		})
	return int(res.RowsAffected), res.Error
}

func (s *Store) GetRecipient(ctx context.Context, campaignID, contactID uint) (*models.CampaignRecipient, error) {
	var rec models.CampaignRecipient
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND contact_id = ?", campaignID, contactID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimRecipient is the pipeline's sole concurrency guard: a single
// conditional update whose affected-row count decides the winner, instead
// of a separate read/write/read dance.
func (s *Store) ClaimRecipient(ctx context.Context, recipientID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("id = ? AND status = ?", recipientID, models.RecipientPending).
		Update("status", models.RecipientProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) SaveRecipient(ctx context.Context, rec *models.CampaignRecipient) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *Store) PendingRecipients(ctx context.Context, campaignID uint, segmentID *uint, limit int) ([]models.CampaignRecipient, error) {
	q := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, models.RecipientPending)
	if segmentID != nil {
		q = q.Where("segment_id = ?", *segmentID)
	}
	var recs []models.CampaignRecipient
	err := q.Order("id").Limit(limit).Find(&recs).Error
	return recs, err
}

func (s *Store) RecipientStatusCounts(ctx context.Context, campaignID uint) (map[models.RecipientStatus]int, error) {
	return s.statusCounts(ctx, "campaign_id", campaignID)
}

func (s *Store) SegmentStatusCounts(ctx context.Context, segmentID uint) (map[models.RecipientStatus]int, error) {
	return s.statusCounts(ctx, "segment_id", segmentID)
}

func (s *Store) statusCounts(ctx context.Context, column string, id uint) (map[models.RecipientStatus]int, error) {
	var rows []struct {
		Status models.RecipientStatus
		N      int
	}
	err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Select("status, count(*) as n").
		Where(column+" = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.RecipientStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

func (s *Store) GetSegment(ctx context.Context, id uint) (*models.Segment, error) {
	var seg models.Segment
	err := s.db.WithContext(ctx).First(&seg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

func (s *Store) SaveSegment(ctx context.Context, seg *models.Segment) error {
	return s.db.WithContext(ctx).Save(seg).Error
}

func (s *Store) CreateSegment(ctx context.Context, seg *models.Segment) error {
	return s.db.WithContext(ctx).Create(seg).Error
}

func (s *Store) ListSegments(ctx context.Context, campaignID uint) ([]models.Segment, error) {
	var segs []models.Segment
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("position").Find(&segs).Error
	return segs, err
}

func (s *Store) DeleteSegments(ctx context.Context, campaignID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CampaignRecipient{}).
			Where("campaign_id = ?", campaignID).
			Update("segment_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("campaign_id = ?", campaignID).Delete(&models.Segment{}).Error
	})
}

func (s *Store) RecipientRecordIDs(ctx context.Context, campaignID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("campaign_id = ?", campaignID).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) AssignSegment(ctx context.Context, recipientIDs []uint, segmentID uint) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("id IN ?", recipientIDs).
		Update("segment_id", segmentID).Error
}

func (s *Store) GetContact(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Preload("Company").First(&contact, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *Store) SaveContact(ctx context.Context, contact *models.Contact) error {
	return s.db.WithContext(ctx).Save(contact).Error
}

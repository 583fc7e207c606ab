package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mailforge/models"
)

func (s *Store) GetSequence(ctx context.Context, id uint) (*models.Sequence, error) {
	var seq models.Sequence
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number")
		}).
		First(&seq, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (s *Store) SaveSequence(ctx context.Context, seq *models.Sequence) error {
	return s.db.WithContext(ctx).Save(seq).Error
}

func (s *Store) GetStep(ctx context.Context, id uint) (*models.SequenceStep, error) {
	var step models.SequenceStep
	err := s.db.WithContext(ctx).First(&step, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *Store) IncrementStepSent(ctx context.Context, stepID uint) error {
	return s.db.WithContext(ctx).Model(&models.SequenceStep{}).
		Where("id = ?", stepID).
		Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error
}

func (s *Store) GetEnrollment(ctx context.Context, id uint) (*models.SequenceContact, error) {
	var sc models.SequenceContact
	err := s.db.WithContext(ctx).First(&sc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) GetEnrollmentByContact(ctx context.Context, sequenceID, contactID uint) (*models.SequenceContact, error) {
	var sc models.SequenceContact
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND contact_id = ?", sequenceID, contactID).
		First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, sc *models.SequenceContact) error {
	return s.db.WithContext(ctx).Create(sc).Error
}

func (s *Store) SaveEnrollment(ctx context.Context, sc *models.SequenceContact) error {
	return s.db.WithContext(ctx).Save(sc).Error
}

func (s *Store) DueEnrollments(ctx context.Context, before time.Time, limit int) ([]models.SequenceContact, error) {
	var due []models.SequenceContact
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_send_at IS NOT NULL AND next_send_at <= ?",
			models.EnrollmentActive, before).
		Order("next_send_at").Limit(limit).Find(&due).Error
	return due, err
}

func (s *Store) HasClosedWonDeal(ctx context.Context, contactID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("contact_id = ? AND status = ?", contactID, models.DealClosedWon).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) CreateSequenceEmail(ctx context.Context, email *models.SequenceEmail) error {
	return s.db.WithContext(ctx).Create(email).Error
}

// FindStepEmail returns the latest send record for one enrollment's step,
// or nil when the step has never been attempted.
func (s *Store) FindStepEmail(ctx context.Context, sequenceContactID, stepID uint) (*models.SequenceEmail, error) {
	var email models.SequenceEmail
	err := s.db.WithContext(ctx).
		Where("sequence_contact_id = ? AND step_id = ?", sequenceContactID, stepID).
		Order("id DESC").
		First(&email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (s *Store) GetSequenceEmail(ctx context.Context, id uint) (*models.SequenceEmail, error) {
	var email models.SequenceEmail
	err := s.db.WithContext(ctx).First(&email, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (s *Store) SaveSequenceEmail(ctx context.Context, email *models.SequenceEmail) error {
	return s.db.WithContext(ctx).Save(email).Error
}

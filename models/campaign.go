package models

import (
	"time"

	"gorm.io/gorm"
)

// Audience types
const (
	AudienceContact = "contact"
	AudienceCompany = "company"
)

// Campaign represents a one-time bulk send to a selected audience
type Campaign struct {
	gorm.Model

	// Campaign details
	Name    string `gorm:"not null" json:"name"`
	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// Audience selection
	AudienceType string `gorm:"default:'contact'" json:"audience_type"` // contact, company

	// Scheduling
	Status      CampaignStatus `gorm:"default:'draft'" json:"status"` // draft, scheduled, in_progress, paused, completed, failed
	ScheduledAt *time.Time     `json:"scheduled_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`

	// Statistics (denormalized for dashboards)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`
	OpenCount       int `gorm:"default:0" json:"open_count"`
	ClickCount      int `gorm:"default:0" json:"click_count"`
	BounceCount     int `gorm:"default:0" json:"bounce_count"`
	ReplyCount      int `gorm:"default:0" json:"reply_count"`

	// Relations
	Recipients []CampaignRecipient `gorm:"foreignKey:CampaignID" json:"recipients,omitempty"`
	Segments   []Segment           `gorm:"foreignKey:CampaignID" json:"segments,omitempty"`
}

// CampaignRecipient is the per-contact delivery/engagement state for one campaign.
// Unique per (campaign, contact).
type CampaignRecipient struct {
	gorm.Model
	CampaignID uint  `gorm:"not null;index;uniqueIndex:idx_campaign_contact" json:"campaign_id"`
	ContactID  uint  `gorm:"not null;uniqueIndex:idx_campaign_contact" json:"contact_id"`
	SegmentID  *uint `gorm:"index" json:"segment_id,omitempty"`

	Status        RecipientStatus `gorm:"default:'pending';index" json:"status"` // pending, processing, sent, delivered, opened, clicked, responded, bounced, failed, cancelled, unsubscribed, demo_scheduled
	MessageID     string          `gorm:"index" json:"message_id"`
	FailureReason string          `json:"failure_reason"`

	// Per-state timestamps
	SentAt         *time.Time `json:"sent_at"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	OpenedAt       *time.Time `json:"opened_at"`
	ClickedAt      *time.Time `json:"clicked_at"`
	RespondedAt    *time.Time `json:"responded_at"`
	BouncedAt      *time.Time `json:"bounced_at"`
	FailedAt       *time.Time `json:"failed_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`

	// Relations
	Campaign Campaign `json:"-"`
	Contact  Contact  `json:"-"`
}

// Segment is a disjoint, independently sendable partition of a campaign's recipients
type Segment struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	Position   int  `gorm:"not null" json:"position"`

	Status SegmentStatus `gorm:"default:'draft'" json:"status"` // draft, in_progress, completed, failed

	// Optional overrides; empty falls back to the campaign's subject/body
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	SentAt      *time.Time `json:"sent_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Campaign Campaign `json:"-"`
}

// EffectiveSubject returns the segment override or the campaign's subject
func (s *Segment) EffectiveSubject(c *Campaign) string {
	if s.Subject != "" {
		return s.Subject
	}
	return c.Subject
}

// EffectiveBody returns the segment override or the campaign's body
func (s *Segment) EffectiveBody(c *Campaign) string {
	if s.Body != "" {
		return s.Body
	}
	return c.Body
}

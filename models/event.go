package models

import (
	"time"

	"gorm.io/gorm"
)

// Event types recorded by the tracking recorder.
const (
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventClicked   = "clicked"
	EventBounced   = "bounced"
	EventComplaint = "complaint"
	EventResponded = "responded"
)

// EmailEvent is an immutable record of a delivery/engagement signal.
// Events are append-only; status rollups derive from them but never mutate
// the event itself.
type EmailEvent struct {
	gorm.Model
	CampaignID uint `gorm:"index" json:"campaign_id"`
	ContactID  uint `gorm:"index" json:"contact_id"`

	// Set when the event belongs to a sequence send rather than a campaign
	SequenceEmailID *uint `gorm:"index" json:"sequence_email_id,omitempty"`

	EventType  string    `gorm:"not null;index" json:"event_type"` // delivered, opened, clicked, bounced, complaint, responded
	OccurredAt time.Time `gorm:"not null" json:"occurred_at"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	URL       string `json:"url"`                      // clicked destination, when applicable
	Payload   string `gorm:"type:text" json:"payload"` // raw provider payload, when applicable
}

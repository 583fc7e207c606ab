package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence represents a multi-step drip of timed emails
type Sequence struct {
	gorm.Model

	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	Status      SequenceStatus `gorm:"default:'draft'" json:"status"` // draft, active, paused

	// Relations
	Steps    []SequenceStep    `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Contacts []SequenceContact `gorm:"foreignKey:SequenceID" json:"contacts,omitempty"`
}

// SequenceStep is one timed email in a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int `gorm:"not null" json:"step_number"`
	DelayDays  int `gorm:"not null" json:"delay_days"`

	// SendHour, when set, pins the send to that hour of day (0-23)
	SendHour *int `json:"send_hour,omitempty"`

	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`

	// Relations
	Sequence Sequence `json:"-"`
}

// SequenceContact is a per (sequence, contact) enrollment with a step cursor.
// Unique per (sequence, contact).
type SequenceContact struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index;uniqueIndex:idx_sequence_contact" json:"sequence_id"`
	ContactID  uint `gorm:"not null;uniqueIndex:idx_sequence_contact" json:"contact_id"`

	CurrentStep int              `gorm:"default:0" json:"current_step"`
	Status      EnrollmentStatus `gorm:"default:'active';index" json:"status"` // active, completed, exited
	NextSendAt  *time.Time       `gorm:"index" json:"next_send_at"`

	ExitReason  string     `json:"exit_reason"` // converted, unsubscribed, manual
	ExitedAt    *time.Time `json:"exited_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Sequence Sequence `json:"-"`
	Contact  Contact  `json:"-"`
}

// SequenceEmail is one record per step-send attempt for an enrollment
type SequenceEmail struct {
	gorm.Model
	SequenceContactID uint `gorm:"not null;index" json:"sequence_contact_id"`
	StepID            uint `gorm:"not null;index" json:"step_id"`

	Status    RecipientStatus `gorm:"default:'pending'" json:"status"` // pending, sent, delivered, opened, clicked, bounced, failed
	MessageID string          `gorm:"index" json:"message_id"`

	SentAt        *time.Time `json:"sent_at"`
	FailureReason string     `json:"failure_reason"`

	// Relations
	SequenceContact SequenceContact `json:"-"`
	Step            SequenceStep    `json:"-"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Company groups contacts for company-audience campaigns
type Company struct {
	gorm.Model
	Name    string `gorm:"not null;index" json:"name"`
	Domain  string `json:"domain"`
	Website string `json:"website"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:CompanyID" json:"contacts,omitempty"`
}

// Contact is a single person a campaign or sequence can reach
type Contact struct {
	gorm.Model
	CompanyID *uint `gorm:"index" json:"company_id,omitempty"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	JobTitle  string `json:"job_title"`

	// Pipeline stage: none, contacted, engaged, demo, customer
	Stage string `gorm:"default:'none'" json:"stage"`

	// Status flags
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`

	LastContact *time.Time `json:"last_contact"`

	// Relations
	Company *Company `json:"company,omitempty"`
	Deals   []Deal   `gorm:"foreignKey:ContactID" json:"deals,omitempty"`
}

// FullName joins first and last name, tolerating either being empty
func (c *Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Deal statuses
const (
	DealOpen       = "open"
	DealClosedWon  = "closed_won"
	DealClosedLost = "closed_lost"
)

// Deal tracks a sales opportunity for a contact; a closed_won deal counts as
// a conversion for sequence exit criteria
type Deal struct {
	gorm.Model
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	Name   string `json:"name"`
	Status string `gorm:"default:'open'" json:"status"`

	ClosedAt *time.Time `json:"closed_at"`

	// Relations
	Contact Contact `json:"-"`
}

package models

// CampaignStatus enumerates campaign lifecycle states
type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignPaused     CampaignStatus = "paused"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

// RecipientStatus enumerates per-recipient delivery/engagement states
type RecipientStatus string

const (
	RecipientPending       RecipientStatus = "pending"
	RecipientProcessing    RecipientStatus = "processing"
	RecipientSent          RecipientStatus = "sent"
	RecipientDelivered     RecipientStatus = "delivered"
	RecipientOpened        RecipientStatus = "opened"
	RecipientClicked       RecipientStatus = "clicked"
	RecipientResponded     RecipientStatus = "responded"
	RecipientBounced       RecipientStatus = "bounced"
	RecipientFailed        RecipientStatus = "failed"
	RecipientCancelled     RecipientStatus = "cancelled"
	RecipientUnsubscribed  RecipientStatus = "unsubscribed"
	RecipientDemoScheduled RecipientStatus = "demo_scheduled"
)

// SegmentStatus enumerates segment lifecycle states
type SegmentStatus string

const (
	SegmentDraft      SegmentStatus = "draft"
	SegmentInProgress SegmentStatus = "in_progress"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// SequenceStatus enumerates sequence lifecycle states
type SequenceStatus string

const (
	SequenceDraft  SequenceStatus = "draft"
	SequenceActive SequenceStatus = "active"
	SequencePaused SequenceStatus = "paused"
)

// EnrollmentStatus enumerates per-contact sequence enrollment states
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// Exit reasons recorded when an enrollment leaves a sequence early.
const (
	ExitConverted    = "converted"
	ExitUnsubscribed = "unsubscribed"
	ExitManual       = "manual"
)

// engagementRank orders recipient statuses along the delivery lattice:
// pending -> processing -> sent -> delivered -> opened -> clicked/responded.
// A status update never moves a recipient to a lower rank, so a late-arriving
// "opened" event cannot downgrade a recipient that already clicked.
var engagementRank = map[RecipientStatus]int{
	RecipientPending:    0,
	RecipientProcessing: 1,
	RecipientSent:       2,
	RecipientDelivered:  3,
	RecipientOpened:     4,
	RecipientClicked:    5,
	RecipientResponded:  6,
}

// EngagementRank returns the lattice rank for a status, or -1 for statuses
// outside the progress lattice (bounced, failed, cancelled, unsubscribed).
func EngagementRank(s RecipientStatus) int {
	if r, ok := engagementRank[s]; ok {
		return r
	}
	return -1
}

// Advances reports whether moving from to next is a forward move on the
// engagement lattice.
func Advances(from, to RecipientStatus) bool {
	fr, tr := EngagementRank(from), EngagementRank(to)
	if fr == -1 || tr == -1 {
		return false
	}
	return tr > fr
}

// IsTerminal reports whether a recipient status can no longer re-enter the
// pending pipeline.
func (s RecipientStatus) IsTerminal() bool {
	switch s {
	case RecipientBounced, RecipientFailed, RecipientCancelled, RecipientUnsubscribed:
		return true
	}
	return false
}

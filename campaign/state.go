package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/utils"
)

var (
	// ErrIllegalTransition is an expected user-facing condition: the
	// requested action is not permitted in the campaign's current state.
	// It is reported to the caller without mutation and never logged as
	// an error.
	ErrIllegalTransition = errors.New("action not permitted in current state")

	// ErrUnknownStatus marks a campaign whose stored status is outside the
	// known set. Operations degrade to draft behavior, but the condition is
	// surfaced so corrupt data cannot silently pass as healthy.
	ErrUnknownStatus = errors.New("unrecognized campaign status")

	// ErrNoRecipients rejects sending a campaign nobody would receive
	ErrNoRecipients = errors.New("campaign has no recipients")
)

// transitions is the legality table: for each state, the set of states it
// may move to. Legality is a pure function of (current, target); the
// operation methods enforce it implicitly by only implementing legal moves.
var transitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.CampaignDraft:      {models.CampaignScheduled, models.CampaignInProgress},
	models.CampaignScheduled:  {models.CampaignInProgress, models.CampaignDraft},
	models.CampaignInProgress: {models.CampaignPaused, models.CampaignCompleted},
	models.CampaignPaused:     {models.CampaignInProgress, models.CampaignCompleted},
	models.CampaignCompleted:  {models.CampaignDraft},
	models.CampaignFailed:     {},
}

// CanTransition reports whether a campaign in state from may move to state to
func CanTransition(from, to models.CampaignStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the states reachable from the given state
func AllowedTransitions(from models.CampaignStatus) []models.CampaignStatus {
	return transitions[from]
}

// Normalize maps a stored status onto the known set. Unrecognized input
// falls back to draft so a campaign with corrupt data stays operable, and
// the caller gets ErrUnknownStatus to log or assert on.
func Normalize(status models.CampaignStatus) (models.CampaignStatus, error) {
	if _, ok := transitions[status]; ok {
		return status, nil
	}
	return models.CampaignDraft, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
}

// StateStore is the persistence the state machine needs. Recipient
// mutations here are bulk membership operations; per-recipient delivery
// state belongs to the pipeline.
type StateStore interface {
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	CountRecipients(ctx context.Context, campaignID uint) (int, error)
	// AddRecipients inserts pending records for the given contacts,
	// skipping contacts already present, and returns how many were added.
	AddRecipients(ctx context.Context, campaignID uint, contactIDs []uint) (int, error)
	// RemovePendingRecipients removes the given contacts' records if they
	// are still pending and returns how many were removed.
	RemovePendingRecipients(ctx context.Context, campaignID uint, contactIDs []uint) (int, error)
	// CancelPendingRecipients marks every pending recipient cancelled and
	// returns how many were cancelled.
	CancelPendingRecipients(ctx context.Context, campaignID uint, at time.Time) (int, error)
}

// TickEnqueuer kicks off a batch-dispatch tick once a campaign enters
// in_progress. Implemented over the job queue.
type TickEnqueuer interface {
	EnqueueDispatchTick(ctx context.Context, campaignID uint, segmentID *uint, delay time.Duration) error
}

// Machine drives campaign state transitions. Each state's legal operations
// are the match arms below; everything else is rejected with
// ErrIllegalTransition. The campaign never transitions itself.
type Machine struct {
	store StateStore
	ticks TickEnqueuer
	clock utils.Clock
	log   logrus.FieldLogger
}

func NewMachine(store StateStore, ticks TickEnqueuer, clock utils.Clock, log logrus.FieldLogger) *Machine {
	return &Machine{store: store, ticks: ticks, clock: clock, log: log}
}

// status normalizes the stored status, logging the degradation path once
// per call when the value is unrecognized.
func (m *Machine) status(c *models.Campaign) models.CampaignStatus {
	s, err := Normalize(c.Status)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"status":      c.Status,
		}).Warn("unrecognized campaign status, treating as draft")
	}
	return s
}

// CanProcess reports whether the batch dispatcher may act on this campaign
func (m *Machine) CanProcess(c *models.Campaign) bool {
	return m.status(c) == models.CampaignInProgress
}

// Schedule sets or moves the campaign's scheduled send time
func (m *Machine) Schedule(ctx context.Context, c *models.Campaign, at time.Time) error {
	switch m.status(c) {
	case models.CampaignDraft, models.CampaignScheduled:
		c.Status = models.CampaignScheduled
		c.ScheduledAt = &at
		return m.store.SaveCampaign(ctx, c)
	}
	return ErrIllegalTransition
}

// Send moves the campaign into in_progress and kicks the first dispatch tick
func (m *Machine) Send(ctx context.Context, c *models.Campaign) error {
	switch m.status(c) {
	case models.CampaignDraft, models.CampaignScheduled:
		n, err := m.store.CountRecipients(ctx, c.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoRecipients
		}
		now := m.clock()
		c.Status = models.CampaignInProgress
		c.StartedAt = &now
		if err := m.store.SaveCampaign(ctx, c); err != nil {
			return err
		}
		return m.ticks.EnqueueDispatchTick(ctx, c.ID, nil, 0)
	}
	return ErrIllegalTransition
}

// Pause stops future dispatch ticks from picking up recipients. Deliveries
// already handed to the queue are not touched.
func (m *Machine) Pause(ctx context.Context, c *models.Campaign) error {
	if m.status(c) != models.CampaignInProgress {
		return ErrIllegalTransition
	}
	c.Status = models.CampaignPaused
	return m.store.SaveCampaign(ctx, c)
}

// Resume puts a paused campaign back into in_progress and re-kicks dispatch
func (m *Machine) Resume(ctx context.Context, c *models.Campaign) error {
	if m.status(c) != models.CampaignPaused {
		return ErrIllegalTransition
	}
	c.Status = models.CampaignInProgress
	if err := m.store.SaveCampaign(ctx, c); err != nil {
		return err
	}
	return m.ticks.EnqueueDispatchTick(ctx, c.ID, nil, 0)
}

// Stop ends the campaign. What that means depends on the state: a scheduled
// campaign drops back to draft, a running or paused one completes after
// cancelling recipients still pending, and a completed one resets to draft.
func (m *Machine) Stop(ctx context.Context, c *models.Campaign) error {
	switch m.status(c) {
	case models.CampaignScheduled:
		c.Status = models.CampaignDraft
		c.ScheduledAt = nil
		return m.store.SaveCampaign(ctx, c)

	case models.CampaignInProgress, models.CampaignPaused:
		// Paused delegates to the in_progress stop: cancel what is still
		// pending, keep everything already sent.
		now := m.clock()
		if _, err := m.store.CancelPendingRecipients(ctx, c.ID, now); err != nil {
			return err
		}
		c.Status = models.CampaignCompleted
		c.CompletedAt = &now
		return m.store.SaveCampaign(ctx, c)

	case models.CampaignCompleted:
		c.Status = models.CampaignDraft
		c.ScheduledAt = nil
		c.StartedAt = nil
		c.CompletedAt = nil
		return m.store.SaveCampaign(ctx, c)
	}
	return ErrIllegalTransition
}

// AddRecipients attaches contacts to the campaign, skipping ids already
// present. Available in every state.
func (m *Machine) AddRecipients(ctx context.Context, c *models.Campaign, contactIDs []uint) (int, error) {
	m.status(c) // normalize for the unknown-status warning
	return m.store.AddRecipients(ctx, c.ID, contactIDs)
}

// RemoveRecipients detaches contacts whose records are still pending.
// Recipients that have progressed past pending are kept for reporting.
func (m *Machine) RemoveRecipients(ctx context.Context, c *models.Campaign, contactIDs []uint) (int, error) {
	m.status(c)
	return m.store.RemovePendingRecipients(ctx, c.ID, contactIDs)
}

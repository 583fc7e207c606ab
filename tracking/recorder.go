package tracking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/utils"
)

// Store is the persistence the recorder needs
type Store interface {
	AppendEvent(ctx context.Context, ev *models.EmailEvent) error
	GetRecipient(ctx context.Context, campaignID, contactID uint) (*models.CampaignRecipient, error)
	SaveRecipient(ctx context.Context, rec *models.CampaignRecipient) error
	GetContact(ctx context.Context, id uint) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
	IncrementCampaignCounter(ctx context.Context, campaignID uint, column string) error
	GetSequenceEmail(ctx context.Context, id uint) (*models.SequenceEmail, error)
	SaveSequenceEmail(ctx context.Context, email *models.SequenceEmail) error
}

// Event is one delivery/engagement signal handed to the recorder
type Event struct {
	CampaignID      uint
	ContactID       uint
	SequenceEmailID *uint
	Type            string
	OccurredAt      time.Time
	IPAddress       string
	UserAgent       string
	URL             string
	Payload         string
}

// Recorder appends immutable event records and rolls them up into recipient
// status. Rollups are monotonic on the engagement lattice: a late-arriving
// opened event never downgrades a recipient that already clicked or
// responded.
type Recorder struct {
	store Store
	clock utils.Clock
	log   logrus.FieldLogger
}

func NewRecorder(store Store, clock utils.Clock, log logrus.FieldLogger) *Recorder {
	return &Recorder{store: store, clock: clock, log: log}
}

// statusFor maps an event type to the recipient status it implies.
// Complaints map to nothing: the event is kept but status is untouched.
func statusFor(eventType string) (models.RecipientStatus, bool) {
	switch eventType {
	case models.EventDelivered:
		return models.RecipientDelivered, true
	case models.EventOpened:
		return models.RecipientOpened, true
	case models.EventClicked:
		return models.RecipientClicked, true
	case models.EventResponded:
		return models.RecipientResponded, true
	case models.EventBounced:
		return models.RecipientBounced, true
	}
	return "", false
}

// Record appends the event and updates recipient (or sequence email) status
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.clock()
	}

	record := &models.EmailEvent{
		CampaignID:      ev.CampaignID,
		ContactID:       ev.ContactID,
		SequenceEmailID: ev.SequenceEmailID,
		EventType:       ev.Type,
		OccurredAt:      occurredAt,
		IPAddress:       ev.IPAddress,
		UserAgent:       ev.UserAgent,
		URL:             ev.URL,
		Payload:         ev.Payload,
	}
	if err := r.store.AppendEvent(ctx, record); err != nil {
		return err
	}

	if ev.SequenceEmailID != nil {
		return r.rollupSequenceEmail(ctx, *ev.SequenceEmailID, ev.Type)
	}
	return r.rollupRecipient(ctx, ev, occurredAt)
}

func (r *Recorder) rollupRecipient(ctx context.Context, ev Event, occurredAt time.Time) error {
	rec, err := r.store.GetRecipient(ctx, ev.CampaignID, ev.ContactID)
	if err != nil {
		return err
	}
	if rec == nil {
		r.log.WithFields(logrus.Fields{
			"campaign_id": ev.CampaignID,
			"contact_id":  ev.ContactID,
			"event":       ev.Type,
		}).Warn("event for unknown recipient, recorded without rollup")
		return nil
	}

	switch ev.Type {
	case models.EventComplaint:
		// Recorded for audit but intentionally no status change; future
		// send suppression keys off the event log, not recipient status.
		r.log.WithFields(logrus.Fields{
			"campaign_id": ev.CampaignID,
			"contact_id":  ev.ContactID,
		}).Warn("spam complaint recorded")
		return nil

	case models.EventBounced:
		if rec.Status.IsTerminal() {
			return nil
		}
		rec.Status = models.RecipientBounced
		rec.BouncedAt = &occurredAt
		if err := r.store.SaveRecipient(ctx, rec); err != nil {
			return err
		}
		r.flagContactBounced(ctx, rec.ContactID)
		return r.store.IncrementCampaignCounter(ctx, rec.CampaignID, "bounce_count")
	}

	desired, ok := statusFor(ev.Type)
	if !ok {
		r.log.WithField("event", ev.Type).Warn("unknown event type, recorded only")
		return nil
	}

	prior := rec.Status
	if models.Advances(rec.Status, desired) {
		rec.Status = desired
		r.stampRecipient(rec, desired, occurredAt)
		if err := r.store.SaveRecipient(ctx, rec); err != nil {
			return err
		}
	}

	if counter := counterFor(ev.Type); counter != "" {
		if err := r.store.IncrementCampaignCounter(ctx, rec.CampaignID, counter); err != nil {
			return err
		}
	}

	// First engagement nudges the contact's pipeline stage forward once
	if (ev.Type == models.EventOpened || ev.Type == models.EventClicked) &&
		models.EngagementRank(prior) < models.EngagementRank(models.RecipientOpened) {
		r.nudgeContactStage(ctx, rec.ContactID)
	}
	return nil
}

func counterFor(eventType string) string {
	switch eventType {
	case models.EventOpened:
		return "open_count"
	case models.EventClicked:
		return "click_count"
	case models.EventResponded:
		return "reply_count"
	}
	return ""
}

func (r *Recorder) stampRecipient(rec *models.CampaignRecipient, status models.RecipientStatus, at time.Time) {
	switch status {
	case models.RecipientDelivered:
		if rec.DeliveredAt == nil {
			rec.DeliveredAt = &at
		}
	case models.RecipientOpened:
		if rec.OpenedAt == nil {
			rec.OpenedAt = &at
		}
	case models.RecipientClicked:
		if rec.ClickedAt == nil {
			rec.ClickedAt = &at
		}
	case models.RecipientResponded:
		if rec.RespondedAt == nil {
			rec.RespondedAt = &at
		}
	}
}

func (r *Recorder) rollupSequenceEmail(ctx context.Context, emailID uint, eventType string) error {
	email, err := r.store.GetSequenceEmail(ctx, emailID)
	if err != nil || email == nil {
		return err
	}
	desired, ok := statusFor(eventType)
	if !ok {
		return nil
	}
	if desired == models.RecipientBounced {
		if email.Status.IsTerminal() {
			return nil
		}
		email.Status = models.RecipientBounced
		return r.store.SaveSequenceEmail(ctx, email)
	}
	if models.Advances(email.Status, desired) {
		email.Status = desired
		return r.store.SaveSequenceEmail(ctx, email)
	}
	return nil
}

func (r *Recorder) nudgeContactStage(ctx context.Context, contactID uint) {
	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil || contact == nil {
		return
	}
	if contact.Stage == "none" || contact.Stage == "" {
		contact.Stage = "contacted"
		if err := r.store.SaveContact(ctx, contact); err != nil {
			r.log.WithError(err).WithField("contact_id", contactID).Warn("stage nudge failed")
		}
	}
}

func (r *Recorder) flagContactBounced(ctx context.Context, contactID uint) {
	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil || contact == nil {
		return
	}
	if !contact.IsBounced {
		contact.IsBounced = true
		if err := r.store.SaveContact(ctx, contact); err != nil {
			r.log.WithError(err).WithField("contact_id", contactID).Warn("bounce flag failed")
		}
	}
}

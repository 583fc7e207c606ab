package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/tracking"
	"mailforge/utils"
)

// PipelineStore is the persistence the per-recipient delivery pipeline needs
type PipelineStore interface {
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	GetRecipient(ctx context.Context, campaignID, contactID uint) (*models.CampaignRecipient, error)
	// ClaimRecipient atomically moves a recipient from pending to
	// processing via a single conditional update and reports whether this
	// caller won the claim. Two workers racing on the same record get
	// exactly one true.
	ClaimRecipient(ctx context.Context, recipientID uint) (bool, error)
	SaveRecipient(ctx context.Context, rec *models.CampaignRecipient) error
	GetContact(ctx context.Context, id uint) (*models.Contact, error)
	GetSegment(ctx context.Context, id uint) (*models.Segment, error)
	IncrementCampaignCounter(ctx context.Context, campaignID uint, column string) error
}

// Pipeline is the per-recipient delivery unit of work: claim the pending
// record, resolve content, inject tracking, deliver, finalize status. Each
// step is its own failure boundary; only rate limits escape upward so the
// queue's backoff policy owns the retry.
type Pipeline struct {
	store     PipelineStore
	transport utils.Transport
	tokens    *tracking.Tokenizer
	baseURL   string
	fromEmail string
	clock     utils.Clock
	log       logrus.FieldLogger
}

func NewPipeline(store PipelineStore, transport utils.Transport, tokens *tracking.Tokenizer,
	baseURL, fromEmail string, clock utils.Clock, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		store:     store,
		transport: transport,
		tokens:    tokens,
		baseURL:   baseURL,
		fromEmail: fromEmail,
		clock:     clock,
		log:       log,
	}
}

// Deliver runs the pipeline for one (campaign, contact) pair. It never
// returns an error for terminal per-recipient failures; those are absorbed
// into the recipient record so one bad address cannot poison the batch.
// utils.ErrRateLimited is the exception: it propagates for external retry.
func (p *Pipeline) Deliver(ctx context.Context, campaignID, contactID uint) error {
	logger := p.log.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"contact_id":  contactID,
	})

	// Claim. No record means nothing to update; a non-pending record means
	// another worker already took (or finished) this delivery.
	rec, err := p.store.GetRecipient(ctx, campaignID, contactID)
	if err != nil {
		logger.WithError(err).Error("recipient lookup failed")
		return nil
	}
	if rec == nil {
		logger.Warn("no recipient record, skipping delivery")
		return nil
	}
	if rec.Status != models.RecipientPending {
		return nil
	}
	claimed, err := p.store.ClaimRecipient(ctx, rec.ID)
	if err != nil {
		logger.WithError(err).Error("claim write failed")
		return nil
	}
	if !claimed {
		// Lost the race to a concurrent worker
		return nil
	}
	rec.Status = models.RecipientProcessing

	if err := p.send(ctx, rec, logger); err != nil {
		if errors.Is(err, utils.ErrRateLimited) {
			// Put the record back so the retried job can claim it again,
			// then let the queue's backoff decide when that happens.
			rec.Status = models.RecipientPending
			if saveErr := p.store.SaveRecipient(ctx, rec); saveErr != nil {
				logger.WithError(saveErr).Error("failed to release rate-limited recipient")
			}
			return err
		}

		// Anything else is terminal for this recipient: capture, mark
		// failed best-effort, move on.
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("campaign_id", fmt.Sprint(campaignID))
			scope.SetTag("contact_id", fmt.Sprint(contactID))
			sentry.CaptureException(err)
		})
		logger.WithError(err).Warn("delivery failed")

		now := p.clock()
		rec.Status = models.RecipientFailed
		rec.FailureReason = err.Error()
		rec.FailedAt = &now
		if saveErr := p.store.SaveRecipient(ctx, rec); saveErr != nil {
			logger.WithError(saveErr).Error("failed to mark recipient failed")
		}
		if cErr := p.store.IncrementCampaignCounter(ctx, campaignID, "failed_count"); cErr != nil {
			logger.WithError(cErr).Warn("failed_count update failed")
		}
		return nil
	}
	return nil
}

// send covers steps 2-4: resolve content, inject tracking, deliver, record
// the sent outcome. Every error return here lands in Deliver's failure
// handling.
func (p *Pipeline) send(ctx context.Context, rec *models.CampaignRecipient, logger logrus.FieldLogger) error {
	campaign, err := p.store.GetCampaign(ctx, rec.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	contact, err := p.store.GetContact(ctx, rec.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if campaign == nil || contact == nil {
		return fmt.Errorf("campaign or contact record missing")
	}

	subject := campaign.Subject
	body := campaign.Body
	if rec.SegmentID != nil {
		segment, err := p.store.GetSegment(ctx, *rec.SegmentID)
		if err != nil {
			return fmt.Errorf("load segment: %w", err)
		}
		subject = segment.EffectiveSubject(campaign)
		body = segment.EffectiveBody(campaign)
	}

	subject = utils.RenderTemplate(subject, contact)
	body = utils.RenderTemplate(body, contact)
	body = p.tokens.InjectTracking(body, p.baseURL, rec.CampaignID, rec.ContactID)

	messageID, err := p.transport.Send(ctx, utils.Email{
		From:    p.fromEmail,
		To:      contact.Email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}
	if messageID == "" {
		messageID = uuid.New().String()
	}

	now := p.clock()
	rec.Status = models.RecipientSent
	rec.MessageID = messageID
	rec.SentAt = &now
	if err := p.store.SaveRecipient(ctx, rec); err != nil {
		return fmt.Errorf("record sent outcome: %w", err)
	}
	if err := p.store.IncrementCampaignCounter(ctx, rec.CampaignID, "sent_count"); err != nil {
		logger.WithError(err).Warn("sent_count update failed")
	}
	return nil
}

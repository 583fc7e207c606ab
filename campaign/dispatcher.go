package campaign

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/queue"
	"mailforge/utils"
)

// DefaultPageSize bounds how many pending recipients one dispatch tick may
// fan out. Full pages requeue the tick with a delay instead of looping in
// process; that delay is the backpressure mechanism.
const DefaultPageSize = 50

// DefaultRequeueDelay spaces consecutive dispatch ticks for one campaign
const DefaultRequeueDelay = 10 * time.Second

// DispatchStore is the persistence the batch dispatcher needs
type DispatchStore interface {
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	// PendingRecipients returns up to limit pending recipients in id
	// order, optionally restricted to one segment.
	PendingRecipients(ctx context.Context, campaignID uint, segmentID *uint, limit int) ([]models.CampaignRecipient, error)
	// RecipientStatusCounts tallies the campaign's recipients by status
	RecipientStatusCounts(ctx context.Context, campaignID uint) (map[models.RecipientStatus]int, error)
	SaveCampaign(ctx context.Context, c *models.Campaign) error
}

// Dispatcher pages pending recipients for an in-progress campaign, enqueues
// one delivery task each, and reports whether more work remains. Handlers
// run at least once, so every decision here must hold under redelivery.
type Dispatcher struct {
	store        DispatchStore
	q            queue.Queue
	pageSize     int
	requeueDelay time.Duration
	clock        utils.Clock
	log          logrus.FieldLogger
}

// NewDispatcher builds a dispatcher with the given page size; values below 1
// fall back to DefaultPageSize.
func NewDispatcher(store DispatchStore, q queue.Queue, pageSize int, clock utils.Clock, log logrus.FieldLogger) *Dispatcher {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Dispatcher{
		store:        store,
		q:            q,
		pageSize:     pageSize,
		requeueDelay: DefaultRequeueDelay,
		clock:        clock,
		log:          log,
	}
}

// EnqueueDispatchTick satisfies the state machine's TickEnqueuer
func (d *Dispatcher) EnqueueDispatchTick(ctx context.Context, campaignID uint, segmentID *uint, delay time.Duration) error {
	return d.q.Publish(ctx, queue.TopicDispatchTick,
		queue.DispatchTickPayload{CampaignID: campaignID, SegmentID: segmentID}, delay)
}

// ProcessTick runs one dispatch page. It returns more=true when another
// tick should follow (and has already enqueued it). When no pending
// recipients remain and no deliveries are still in flight, the campaign is
// finalized: failed if every recipient failed, completed otherwise. A
// campaign with zero recipients is left untouched.
func (d *Dispatcher) ProcessTick(ctx context.Context, campaignID uint, segmentID *uint) (more bool, err error) {
	campaign, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if campaign == nil {
		d.log.WithField("campaign_id", campaignID).Warn("dispatch tick for missing campaign")
		return false, nil
	}
	if campaign.Status != models.CampaignInProgress {
		// Paused or stopped since the tick was enqueued; future ticks are
		// re-kicked by resume.
		return false, nil
	}

	page, err := d.store.PendingRecipients(ctx, campaignID, segmentID, d.pageSize)
	if err != nil {
		return false, err
	}

	if len(page) > 0 {
		for _, rec := range page {
			if err := d.q.Publish(ctx, queue.TopicDeliver,
				queue.DeliverPayload{CampaignID: rec.CampaignID, ContactID: rec.ContactID}, 0); err != nil {
				return false, err
			}
		}
		// Come back later for the remainder, or to observe the outcomes
		// of the deliveries just enqueued.
		if err := d.EnqueueDispatchTick(ctx, campaignID, segmentID, d.requeueDelay); err != nil {
			return false, err
		}
		return true, nil
	}

	if segmentID != nil {
		// Segment sends finalize through the segment rollup, not here
		if err := d.q.Publish(ctx, queue.TopicSegmentCheck,
			queue.SegmentCheckPayload{SegmentID: *segmentID}, d.requeueDelay); err != nil {
			return false, err
		}
		return false, nil
	}

	return d.finalize(ctx, campaign, segmentID)
}

func (d *Dispatcher) finalize(ctx context.Context, campaign *models.Campaign, segmentID *uint) (bool, error) {
	counts, err := d.store.RecipientStatusCounts(ctx, campaign.ID)
	if err != nil {
		return false, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		// Ambiguous: a campaign sent to nobody. Leave it alone rather
		// than force-completing it.
		d.log.WithField("campaign_id", campaign.ID).Debug("no recipients, dispatch is a no-op")
		return false, nil
	}

	if counts[models.RecipientProcessing] > 0 {
		// Deliveries still in flight; check again shortly
		if err := d.EnqueueDispatchTick(ctx, campaign.ID, segmentID, d.requeueDelay); err != nil {
			return false, err
		}
		return true, nil
	}

	now := d.clock()
	if counts[models.RecipientFailed] == total {
		campaign.Status = models.CampaignFailed
	} else {
		campaign.Status = models.CampaignCompleted
	}
	campaign.CompletedAt = &now
	if err := d.store.SaveCampaign(ctx, campaign); err != nil {
		return false, err
	}

	d.log.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
	}).Info("campaign finalized")
	return false, nil
}

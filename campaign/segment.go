package campaign

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/utils"
)

// SegmentStore is the persistence the segment distributor needs
type SegmentStore interface {
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	GetSegment(ctx context.Context, id uint) (*models.Segment, error)
	SaveSegment(ctx context.Context, s *models.Segment) error
	CreateSegment(ctx context.Context, s *models.Segment) error
	ListSegments(ctx context.Context, campaignID uint) ([]models.Segment, error)
	// DeleteSegments removes every segment of the campaign and clears the
	// segment reference on its recipients. Recipients themselves survive.
	DeleteSegments(ctx context.Context, campaignID uint) error
	// RecipientRecordIDs lists the campaign's recipient record ids in id order
	RecipientRecordIDs(ctx context.Context, campaignID uint) ([]uint, error)
	AssignSegment(ctx context.Context, recipientIDs []uint, segmentID uint) error
	// SegmentStatusCounts tallies one segment's recipients by status
	SegmentStatusCounts(ctx context.Context, segmentID uint) (map[models.RecipientStatus]int, error)
}

// Segmenter partitions a campaign's recipients into independently sendable
// segments and rolls segment outcomes back up into the campaign.
type Segmenter struct {
	store SegmentStore
	ticks TickEnqueuer
	clock utils.Clock
	log   logrus.FieldLogger
}

func NewSegmenter(store SegmentStore, ticks TickEnqueuer, clock utils.Clock, log logrus.FieldLogger) *Segmenter {
	return &Segmenter{store: store, ticks: ticks, clock: clock, log: log}
}

// CreateSegments replaces any existing segments with n fresh ones and
// assigns every recipient round-robin by id order: recipient i goes to
// segment i mod n, so for k recipients the first k mod n segments hold
// ceil(k/n) and the rest floor(k/n).
func (s *Segmenter) CreateSegments(ctx context.Context, campaignID uint, n int) ([]models.Segment, error) {
	if n < 1 {
		return nil, fmt.Errorf("segment count must be at least 1")
	}

	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil || campaign.Status != models.CampaignDraft {
		return nil, fmt.Errorf("%w: segments can only be created on a draft campaign", ErrIllegalTransition)
	}

	recipientIDs, err := s.store.RecipientRecordIDs(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(recipientIDs) == 0 {
		return nil, ErrNoRecipients
	}

	if err := s.store.DeleteSegments(ctx, campaignID); err != nil {
		return nil, err
	}

	segments := make([]models.Segment, n)
	for i := 0; i < n; i++ {
		segments[i] = models.Segment{
			CampaignID: campaignID,
			Position:   i + 1,
			Status:     models.SegmentDraft,
		}
		if err := s.store.CreateSegment(ctx, &segments[i]); err != nil {
			return nil, err
		}
	}

	// Bucket recipient ids per segment, then assign each bucket in one write
	buckets := make([][]uint, n)
	for i, id := range recipientIDs {
		buckets[i%n] = append(buckets[i%n], id)
	}
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		if err := s.store.AssignSegment(ctx, bucket, segments[i].ID); err != nil {
			return nil, err
		}
	}

	return segments, nil
}

// SendSegment starts delivery for one draft segment. The first segment sent
// promotes the campaign from draft to in_progress.
func (s *Segmenter) SendSegment(ctx context.Context, segmentID uint) error {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if segment == nil || segment.Status != models.SegmentDraft {
		return fmt.Errorf("%w: segment is not draft", ErrIllegalTransition)
	}

	campaign, err := s.store.GetCampaign(ctx, segment.CampaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		// The campaign was deleted out from under its segments
		return fmt.Errorf("%w: campaign no longer exists", ErrIllegalTransition)
	}

	now := s.clock()
	if campaign.Status == models.CampaignDraft {
		campaign.Status = models.CampaignInProgress
		campaign.StartedAt = &now
		if err := s.store.SaveCampaign(ctx, campaign); err != nil {
			return err
		}
	} else if campaign.Status != models.CampaignInProgress {
		return fmt.Errorf("%w: campaign is not sendable", ErrIllegalTransition)
	}

	segment.Status = models.SegmentInProgress
	segment.SentAt = &now
	if err := s.store.SaveSegment(ctx, segment); err != nil {
		return err
	}

	return s.ticks.EnqueueDispatchTick(ctx, campaign.ID, &segment.ID, 0)
}

// CompleteSegment tallies a segment's recipient outcomes once its
// deliveries drain. done=false means recipients are still in flight and
// the check should run again later. A segment fails only when every one of
// its recipients failed; afterwards, if every segment of the campaign is
// terminal, the campaign completes (or fails when no segment completed).
func (s *Segmenter) CompleteSegment(ctx context.Context, segmentID uint) (done bool, err error) {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return false, err
	}
	if segment == nil {
		return true, nil
	}
	if segment.Status != models.SegmentInProgress {
		// Already rolled up on a previous (redelivered) check
		return true, nil
	}

	counts, err := s.store.SegmentStatusCounts(ctx, segmentID)
	if err != nil {
		return false, err
	}
	if counts[models.RecipientPending] > 0 || counts[models.RecipientProcessing] > 0 {
		return false, nil
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	now := s.clock()
	if total > 0 && counts[models.RecipientFailed] == total {
		segment.Status = models.SegmentFailed
	} else {
		segment.Status = models.SegmentCompleted
	}
	segment.CompletedAt = &now
	if err := s.store.SaveSegment(ctx, segment); err != nil {
		return false, err
	}

	return true, s.rollupCampaign(ctx, segment.CampaignID)
}

// rollupCampaign finalizes the campaign once every segment has reached a
// terminal state. Failure is not contagious: one completed segment is
// enough for the campaign to end completed.
func (s *Segmenter) rollupCampaign(ctx context.Context, campaignID uint) error {
	segments, err := s.store.ListSegments(ctx, campaignID)
	if err != nil {
		return err
	}

	anyCompleted := false
	for _, seg := range segments {
		switch seg.Status {
		case models.SegmentCompleted:
			anyCompleted = true
		case models.SegmentFailed:
		default:
			// A segment is still draft or in flight; campaign stays open
			return nil
		}
	}

	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil || campaign.Status != models.CampaignInProgress {
		return nil
	}

	now := s.clock()
	if anyCompleted {
		campaign.Status = models.CampaignCompleted
	} else {
		campaign.Status = models.CampaignFailed
	}
	campaign.CompletedAt = &now

	s.log.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"status":      campaign.Status,
	}).Info("all segments terminal, campaign finalized")
	return s.store.SaveCampaign(ctx, campaign)
}

// DeleteSegments removes a campaign's segments while they are all still
// draft. Recipients keep their records; only the segment reference clears.
func (s *Segmenter) DeleteSegments(ctx context.Context, campaignID uint) error {
	segments, err := s.store.ListSegments(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg.Status != models.SegmentDraft {
			return fmt.Errorf("%w: segments already sending cannot be deleted", ErrIllegalTransition)
		}
	}
	return s.store.DeleteSegments(ctx, campaignID)
}

// UpdateSegment sets the subject/body overrides on a draft segment
func (s *Segmenter) UpdateSegment(ctx context.Context, segmentID uint, subject, body string) error {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if segment == nil || segment.Status != models.SegmentDraft {
		return fmt.Errorf("%w: only draft segments can be edited", ErrIllegalTransition)
	}
	segment.Subject = subject
	segment.Body = body
	return s.store.SaveSegment(ctx, segment)
}

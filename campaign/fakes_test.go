package campaign

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/queue"
	"mailforge/utils"
)

// fakeStore is a single in-memory implementation of every campaign store
// interface, keyed the way the persistent store is.
type fakeStore struct {
	campaigns  map[uint]*models.Campaign
	recipients map[uint]*models.CampaignRecipient
	segments   map[uint]*models.Segment
	contacts   map[uint]*models.Contact
	counters   map[string]int
	nextID     uint

	claimCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns:  make(map[uint]*models.Campaign),
		recipients: make(map[uint]*models.CampaignRecipient),
		segments:   make(map[uint]*models.Segment),
		contacts:   make(map[uint]*models.Contact),
		counters:   make(map[string]int),
	}
}

func (f *fakeStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addCampaign(c *models.Campaign) *models.Campaign {
	if c.ID == 0 {
		c.ID = f.id()
	}
	f.campaigns[c.ID] = c
	return c
}

func (f *fakeStore) addContact(c *models.Contact) *models.Contact {
	if c.ID == 0 {
		c.ID = f.id()
	}
	f.contacts[c.ID] = c
	return c
}

func (f *fakeStore) addRecipient(r *models.CampaignRecipient) *models.CampaignRecipient {
	if r.ID == 0 {
		r.ID = f.id()
	}
	if r.Status == "" {
		r.Status = models.RecipientPending
	}
	f.recipients[r.ID] = r
	return r
}

func (f *fakeStore) counter(campaignID uint, column string) int {
	return f.counters[fmt.Sprintf("%d:%s", campaignID, column)]
}

func (f *fakeStore) GetCampaign(_ context.Context, id uint) (*models.Campaign, error) {
	return f.campaigns[id], nil
}

func (f *fakeStore) SaveCampaign(_ context.Context, c *models.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeStore) IncrementCampaignCounter(_ context.Context, campaignID uint, column string) error {
	f.counters[fmt.Sprintf("%d:%s", campaignID, column)]++
	return nil
}

func (f *fakeStore) CountRecipients(_ context.Context, campaignID uint) (int, error) {
	n := 0
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AddRecipients(_ context.Context, campaignID uint, contactIDs []uint) (int, error) {
	added := 0
	for _, contactID := range contactIDs {
		exists := false
		for _, r := range f.recipients {
			if r.CampaignID == campaignID && r.ContactID == contactID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.addRecipient(&models.CampaignRecipient{CampaignID: campaignID, ContactID: contactID})
		added++
	}
	return added, nil
}

func (f *fakeStore) RemovePendingRecipients(_ context.Context, campaignID uint, contactIDs []uint) (int, error) {
	removed := 0
	for id, r := range f.recipients {
		if r.CampaignID != campaignID || r.Status != models.RecipientPending {
			continue
		}
		for _, contactID := range contactIDs {
			if r.ContactID == contactID {
				delete(f.recipients, id)
				removed++
				break
			}
		}
	}
	return removed, nil
}

func (f *fakeStore) CancelPendingRecipients(_ context.Context, campaignID uint, at time.Time) (int, error) {
	n := 0
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && r.Status == models.RecipientPending {
			r.Status = models.RecipientCancelled
			r.CancelledAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetRecipient(_ context.Context, campaignID, contactID uint) (*models.CampaignRecipient, error) {
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && r.ContactID == contactID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ClaimRecipient(_ context.Context, recipientID uint) (bool, error) {
	f.claimCalls++
	r, ok := f.recipients[recipientID]
	if !ok || r.Status != models.RecipientPending {
		return false, nil
	}
	r.Status = models.RecipientProcessing
	return true, nil
}

func (f *fakeStore) SaveRecipient(_ context.Context, rec *models.CampaignRecipient) error {
	f.recipients[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetContact(_ context.Context, id uint) (*models.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeStore) PendingRecipients(_ context.Context, campaignID uint, segmentID *uint, limit int) ([]models.CampaignRecipient, error) {
	var out []models.CampaignRecipient
	for _, r := range f.sortedRecipients(campaignID) {
		if r.Status != models.RecipientPending {
			continue
		}
		if segmentID != nil && (r.SegmentID == nil || *r.SegmentID != *segmentID) {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) RecipientStatusCounts(_ context.Context, campaignID uint) (map[models.RecipientStatus]int, error) {
	counts := make(map[models.RecipientStatus]int)
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (f *fakeStore) SegmentStatusCounts(_ context.Context, segmentID uint) (map[models.RecipientStatus]int, error) {
	counts := make(map[models.RecipientStatus]int)
	for _, r := range f.recipients {
		if r.SegmentID != nil && *r.SegmentID == segmentID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (f *fakeStore) GetSegment(_ context.Context, id uint) (*models.Segment, error) {
	return f.segments[id], nil
}

func (f *fakeStore) SaveSegment(_ context.Context, s *models.Segment) error {
	f.segments[s.ID] = s
	return nil
}

func (f *fakeStore) CreateSegment(_ context.Context, s *models.Segment) error {
	s.ID = f.id()
	f.segments[s.ID] = s
	return nil
}

func (f *fakeStore) ListSegments(_ context.Context, campaignID uint) ([]models.Segment, error) {
	var out []models.Segment
	for _, s := range f.segments {
		if s.CampaignID == campaignID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeStore) DeleteSegments(_ context.Context, campaignID uint) error {
	for id, s := range f.segments {
		if s.CampaignID == campaignID {
			delete(f.segments, id)
		}
	}
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			r.SegmentID = nil
		}
	}
	return nil
}

func (f *fakeStore) RecipientRecordIDs(_ context.Context, campaignID uint) ([]uint, error) {
	var ids []uint
	for _, r := range f.sortedRecipients(campaignID) {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (f *fakeStore) AssignSegment(_ context.Context, recipientIDs []uint, segmentID uint) error {
	for _, id := range recipientIDs {
		if r, ok := f.recipients[id]; ok {
			sid := segmentID
			r.SegmentID = &sid
		}
	}
	return nil
}

func (f *fakeStore) sortedRecipients(campaignID uint) []*models.CampaignRecipient {
	var out []*models.CampaignRecipient
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// published is one captured queue publish
type published struct {
	topic   string
	payload interface{}
	delay   time.Duration
}

// fakeQueue captures publishes without marshaling so tests can assert on
// the payload structs directly
type fakeQueue struct {
	jobs []published
}

func (q *fakeQueue) Publish(_ context.Context, topic string, payload interface{}, delay time.Duration) error {
	q.jobs = append(q.jobs, published{topic: topic, payload: payload, delay: delay})
	return nil
}

func (q *fakeQueue) Subscribe(string, queue.Handler) {}

func (q *fakeQueue) Start(context.Context) {}

func (q *fakeQueue) byTopic(topic string) []published {
	var out []published
	for _, j := range q.jobs {
		if j.topic == topic {
			out = append(out, j)
		}
	}
	return out
}

// fakeTicks records dispatch tick requests
type fakeTicks struct {
	ticks []published
}

func (f *fakeTicks) EnqueueDispatchTick(_ context.Context, campaignID uint, segmentID *uint, delay time.Duration) error {
	f.ticks = append(f.ticks, published{topic: "tick", payload: segmentID, delay: delay})
	_ = campaignID
	return nil
}

// fakeTransport records outgoing mail and can be primed to fail
type fakeTransport struct {
	sent []utils.Email
	err  error
}

func (t *fakeTransport) Send(_ context.Context, email utils.Email) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.sent = append(t.sent, email)
	return fmt.Sprintf("<msg-%d@test>", len(t.sent)), nil
}

func fixedClock(at time.Time) utils.Clock {
	return func() time.Time { return at }
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

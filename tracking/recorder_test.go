package tracking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailforge/models"
)

// recorderStore is an in-memory Store for recorder tests
type recorderStore struct {
	events     []*models.EmailEvent
	recipients map[uint]*models.CampaignRecipient
	contacts   map[uint]*models.Contact
	emails     map[uint]*models.SequenceEmail
	counters   map[string]int
}

func newRecorderStore() *recorderStore {
	return &recorderStore{
		recipients: make(map[uint]*models.CampaignRecipient),
		contacts:   make(map[uint]*models.Contact),
		emails:     make(map[uint]*models.SequenceEmail),
		counters:   make(map[string]int),
	}
}

func (s *recorderStore) AppendEvent(_ context.Context, ev *models.EmailEvent) error {
	ev.ID = uint(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

func (s *recorderStore) GetRecipient(_ context.Context, campaignID, contactID uint) (*models.CampaignRecipient, error) {
	for _, r := range s.recipients {
		if r.CampaignID == campaignID && r.ContactID == contactID {
			return r, nil
		}
	}
	return nil, nil
}

func (s *recorderStore) SaveRecipient(_ context.Context, rec *models.CampaignRecipient) error {
	s.recipients[rec.ID] = rec
	return nil
}

func (s *recorderStore) GetContact(_ context.Context, id uint) (*models.Contact, error) {
	return s.contacts[id], nil
}

func (s *recorderStore) SaveContact(_ context.Context, contact *models.Contact) error {
	s.contacts[contact.ID] = contact
	return nil
}

func (s *recorderStore) IncrementCampaignCounter(_ context.Context, campaignID uint, column string) error {
	s.counters[fmt.Sprintf("%d:%s", campaignID, column)]++
	return nil
}

func (s *recorderStore) GetSequenceEmail(_ context.Context, id uint) (*models.SequenceEmail, error) {
	return s.emails[id], nil
}

func (s *recorderStore) SaveSequenceEmail(_ context.Context, email *models.SequenceEmail) error {
	s.emails[email.ID] = email
	return nil
}

var recorderNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testRecorder(store *recorderStore) *Recorder {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRecorder(store, func() time.Time { return recorderNow }, log)
}

func recorderFixture(status models.RecipientStatus) (*recorderStore, *Recorder, *models.CampaignRecipient) {
	store := newRecorderStore()
	store.contacts[2] = &models.Contact{Email: "ada@example.com", Stage: "none"}
	store.contacts[2].ID = 2
	rec := &models.CampaignRecipient{CampaignID: 1, ContactID: 2, Status: status}
	rec.ID = 7
	store.recipients[rec.ID] = rec
	return store, testRecorder(store), rec
}

func TestRecordAppendsEvent(t *testing.T) {
	store, r, _ := recorderFixture(models.RecipientSent)

	err := r.Record(context.Background(), Event{
		CampaignID: 1, ContactID: 2, Type: models.EventOpened,
		IPAddress: "203.0.113.9", UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	ev := store.events[0]
	assert.Equal(t, models.EventOpened, ev.EventType)
	assert.Equal(t, recorderNow, ev.OccurredAt, "zero time defaults to the clock")
	assert.Equal(t, "203.0.113.9", ev.IPAddress)
}

func TestRecordAdvancesStatusMonotonically(t *testing.T) {
	store, r, rec := recorderFixture(models.RecipientSent)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventClicked}))
	assert.Equal(t, models.RecipientClicked, rec.Status)
	require.NotNil(t, rec.ClickedAt)

	// A late open arrives after the click: event kept, status untouched
	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventOpened}))
	assert.Equal(t, models.RecipientClicked, rec.Status, "lattice never moves backward")
	assert.Nil(t, rec.OpenedAt)
	assert.Len(t, store.events, 2, "the event log keeps everything")

	assert.Equal(t, 1, store.counters["1:click_count"])
	assert.Equal(t, 1, store.counters["1:open_count"], "counters track events, not status")
}

func TestRecordDuplicateOpenCountsButKeepsFirstStamp(t *testing.T) {
	store, r, rec := recorderFixture(models.RecipientSent)
	ctx := context.Background()

	first := recorderNow.Add(-time.Hour)
	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventOpened, OccurredAt: first}))
	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventOpened}))

	assert.Equal(t, models.RecipientOpened, rec.Status)
	require.NotNil(t, rec.OpenedAt)
	assert.Equal(t, first, *rec.OpenedAt)
	assert.Equal(t, 2, store.counters["1:open_count"])
}

func TestRecordBounceIsTerminal(t *testing.T) {
	store, r, rec := recorderFixture(models.RecipientSent)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventBounced}))
	assert.Equal(t, models.RecipientBounced, rec.Status)
	require.NotNil(t, rec.BouncedAt)
	assert.Equal(t, 1, store.counters["1:bounce_count"])
	assert.True(t, store.contacts[2].IsBounced, "bounce flags the contact record")

	// Engagement after a bounce is logged but cannot resurrect the recipient
	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventOpened}))
	assert.Equal(t, models.RecipientBounced, rec.Status)
	assert.Len(t, store.events, 2)
}

func TestRecordBounceDoesNotOverrideTerminal(t *testing.T) {
	_, r, rec := recorderFixture(models.RecipientUnsubscribed)

	require.NoError(t, r.Record(context.Background(), Event{CampaignID: 1, ContactID: 2, Type: models.EventBounced}))
	assert.Equal(t, models.RecipientUnsubscribed, rec.Status)
}

func TestRecordComplaintKeepsStatus(t *testing.T) {
	store, r, rec := recorderFixture(models.RecipientDelivered)

	require.NoError(t, r.Record(context.Background(), Event{CampaignID: 1, ContactID: 2, Type: models.EventComplaint}))
	assert.Equal(t, models.RecipientDelivered, rec.Status, "complaints are audit-only")
	assert.Len(t, store.events, 1)
	assert.Empty(t, store.counters)
}

func TestRecordUnknownRecipientStillRecorded(t *testing.T) {
	store := newRecorderStore()
	r := testRecorder(store)

	err := r.Record(context.Background(), Event{CampaignID: 9, ContactID: 9, Type: models.EventOpened})
	require.NoError(t, err, "an event for an unknown recipient is not an error")
	assert.Len(t, store.events, 1)
	assert.Empty(t, store.counters)
}

func TestRecordUnknownEventTypeRecordedOnly(t *testing.T) {
	store, r, rec := recorderFixture(models.RecipientSent)

	require.NoError(t, r.Record(context.Background(), Event{CampaignID: 1, ContactID: 2, Type: "rendered"}))
	assert.Equal(t, models.RecipientSent, rec.Status)
	assert.Len(t, store.events, 1)
}

func TestRecordFirstEngagementNudgesContactStage(t *testing.T) {
	store, r, _ := recorderFixture(models.RecipientSent)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventOpened}))
	assert.Equal(t, "contacted", store.contacts[2].Stage)

	// An already progressed stage is left alone
	store.contacts[2].Stage = "qualified"
	require.NoError(t, r.Record(ctx, Event{CampaignID: 1, ContactID: 2, Type: models.EventClicked}))
	assert.Equal(t, "qualified", store.contacts[2].Stage)
}

func TestRecordSequenceEmailRollup(t *testing.T) {
	store := newRecorderStore()
	email := &models.SequenceEmail{Status: models.RecipientSent}
	email.ID = 3
	store.emails[email.ID] = email
	r := testRecorder(store)
	ctx := context.Background()
	id := email.ID

	require.NoError(t, r.Record(ctx, Event{SequenceEmailID: &id, Type: models.EventOpened}))
	assert.Equal(t, models.RecipientOpened, email.Status)

	// Sequence rollups are monotonic too
	require.NoError(t, r.Record(ctx, Event{SequenceEmailID: &id, Type: models.EventDelivered}))
	assert.Equal(t, models.RecipientOpened, email.Status)

	require.NoError(t, r.Record(ctx, Event{SequenceEmailID: &id, Type: models.EventBounced}))
	assert.Equal(t, models.RecipientBounced, email.Status)

	assert.Len(t, store.events, 3)
}

package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailforge/models"
	"mailforge/queue"
	"mailforge/utils"
)

// fakeStore is an in-memory Store implementation for engine tests
type fakeStore struct {
	sequences   map[uint]*models.Sequence
	enrollments map[uint]*models.SequenceContact
	emails      map[uint]*models.SequenceEmail
	steps       map[uint]*models.SequenceStep
	contacts    map[uint]*models.Contact
	closedWon   map[uint]bool
	stepSent    map[uint]int
	nextID      uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sequences:   make(map[uint]*models.Sequence),
		enrollments: make(map[uint]*models.SequenceContact),
		emails:      make(map[uint]*models.SequenceEmail),
		steps:       make(map[uint]*models.SequenceStep),
		contacts:    make(map[uint]*models.Contact),
		closedWon:   make(map[uint]bool),
		stepSent:    make(map[uint]int),
	}
}

func (f *fakeStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addSequence(seq *models.Sequence) *models.Sequence {
	if seq.ID == 0 {
		seq.ID = f.id()
	}
	for i := range seq.Steps {
		if seq.Steps[i].ID == 0 {
			seq.Steps[i].ID = f.id()
		}
		seq.Steps[i].SequenceID = seq.ID
		f.steps[seq.Steps[i].ID] = &seq.Steps[i]
	}
	f.sequences[seq.ID] = seq
	return seq
}

func (f *fakeStore) addContact(c *models.Contact) *models.Contact {
	if c.ID == 0 {
		c.ID = f.id()
	}
	f.contacts[c.ID] = c
	return c
}

func (f *fakeStore) GetSequence(_ context.Context, id uint) (*models.Sequence, error) {
	return f.sequences[id], nil
}

func (f *fakeStore) SaveSequence(_ context.Context, seq *models.Sequence) error {
	f.sequences[seq.ID] = seq
	return nil
}

func (f *fakeStore) GetEnrollment(_ context.Context, id uint) (*models.SequenceContact, error) {
	return f.enrollments[id], nil
}

func (f *fakeStore) GetEnrollmentByContact(_ context.Context, sequenceID, contactID uint) (*models.SequenceContact, error) {
	for _, sc := range f.enrollments {
		if sc.SequenceID == sequenceID && sc.ContactID == contactID {
			return sc, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateEnrollment(_ context.Context, sc *models.SequenceContact) error {
	sc.ID = f.id()
	f.enrollments[sc.ID] = sc
	return nil
}

func (f *fakeStore) SaveEnrollment(_ context.Context, sc *models.SequenceContact) error {
	f.enrollments[sc.ID] = sc
	return nil
}

func (f *fakeStore) DueEnrollments(_ context.Context, before time.Time, limit int) ([]models.SequenceContact, error) {
	var ids []uint
	for id, sc := range f.enrollments {
		if sc.Status == models.EnrollmentActive && sc.NextSendAt != nil && !sc.NextSendAt.After(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []models.SequenceContact
	for _, id := range ids {
		out = append(out, *f.enrollments[id])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetContact(_ context.Context, id uint) (*models.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeStore) HasClosedWonDeal(_ context.Context, contactID uint) (bool, error) {
	return f.closedWon[contactID], nil
}

func (f *fakeStore) CreateSequenceEmail(_ context.Context, email *models.SequenceEmail) error {
	email.ID = f.id()
	f.emails[email.ID] = email
	return nil
}

func (f *fakeStore) FindStepEmail(_ context.Context, sequenceContactID, stepID uint) (*models.SequenceEmail, error) {
	var latest *models.SequenceEmail
	for _, email := range f.emails {
		if email.SequenceContactID != sequenceContactID || email.StepID != stepID {
			continue
		}
		if latest == nil || email.ID > latest.ID {
			latest = email
		}
	}
	return latest, nil
}

func (f *fakeStore) GetSequenceEmail(_ context.Context, id uint) (*models.SequenceEmail, error) {
	return f.emails[id], nil
}

func (f *fakeStore) SaveSequenceEmail(_ context.Context, email *models.SequenceEmail) error {
	f.emails[email.ID] = email
	return nil
}

func (f *fakeStore) GetStep(_ context.Context, id uint) (*models.SequenceStep, error) {
	return f.steps[id], nil
}

func (f *fakeStore) IncrementStepSent(_ context.Context, stepID uint) error {
	f.stepSent[stepID]++
	return nil
}

type fakeQueue struct {
	jobs []queue.SequenceSendPayload
}

func (q *fakeQueue) Publish(_ context.Context, topic string, payload interface{}, _ time.Duration) error {
	if topic == queue.TopicSequenceSend {
		q.jobs = append(q.jobs, payload.(queue.SequenceSendPayload))
	}
	return nil
}

func (q *fakeQueue) Subscribe(string, queue.Handler) {}

func (q *fakeQueue) Start(context.Context) {}

type fakeTransport struct {
	sent []utils.Email
	err  error
}

func (t *fakeTransport) Send(_ context.Context, email utils.Email) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.sent = append(t.sent, email)
	return fmt.Sprintf("<seq-%d@test>", len(t.sent)), nil
}

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testEngine(store *fakeStore) (*Engine, *fakeQueue, *fakeTransport) {
	q := &fakeQueue{}
	transport := &fakeTransport{}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	e := NewEngine(store, q, transport, "noreply@mailforge.test",
		func() time.Time { return testNow }, log)
	return e, q, transport
}

func intPtr(n int) *int { return &n }

func twoStepSequence(store *fakeStore, status models.SequenceStatus) *models.Sequence {
	return store.addSequence(&models.Sequence{
		Name:   "onboarding",
		Status: status,
		Steps: []models.SequenceStep{
			{StepNumber: 1, DelayDays: 0, Subject: "Welcome {{first_name}}", Body: "Hi {{first_name}}"},
			{StepNumber: 2, DelayDays: 3, Subject: "Checking in", Body: "Still there?"},
		},
	})
}

func TestNextSendTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// No pinned hour: plain day offset
	at := nextSendTime(now, &models.SequenceStep{DelayDays: 3})
	assert.Equal(t, now.AddDate(0, 0, 3), at)

	// Pinned hour later the same day
	at = nextSendTime(now, &models.SequenceStep{DelayDays: 0, SendHour: intPtr(14)})
	assert.Equal(t, time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC), at)

	// Pinned hour already passed today rolls to tomorrow
	at = nextSendTime(now, &models.SequenceStep{DelayDays: 0, SendHour: intPtr(8)})
	assert.Equal(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), at)

	// Delay plus pinned hour
	at = nextSendTime(now, &models.SequenceStep{DelayDays: 2, SendHour: intPtr(8)})
	assert.Equal(t, time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC), at)
}

func TestActivateRequiresSteps(t *testing.T) {
	store := newFakeStore()
	seq := store.addSequence(&models.Sequence{Name: "empty", Status: models.SequenceDraft})
	e, _, _ := testEngine(store)

	assert.ErrorIs(t, e.Activate(context.Background(), seq.ID), ErrNoSteps)
	assert.Equal(t, models.SequenceDraft, seq.Status)
}

func TestActivatePauseCycle(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceDraft)
	e, _, _ := testEngine(store)
	ctx := context.Background()

	require.NoError(t, e.Activate(ctx, seq.ID))
	assert.Equal(t, models.SequenceActive, seq.Status)

	// Re-activating is a no-op
	require.NoError(t, e.Activate(ctx, seq.ID))

	require.NoError(t, e.Pause(ctx, seq.ID))
	assert.Equal(t, models.SequencePaused, seq.Status)

	assert.ErrorIs(t, e.Pause(ctx, seq.ID), ErrIllegalTransition)
	assert.ErrorIs(t, e.Pause(ctx, 999), ErrNotFound)
}

func TestAddContactsSeedsCursor(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	a := store.addContact(&models.Contact{Email: "a@example.com"})
	b := store.addContact(&models.Contact{Email: "b@example.com"})
	e, _, _ := testEngine(store)
	ctx := context.Background()

	added, err := e.AddContacts(ctx, seq.ID, []uint{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	sc, err := store.GetEnrollmentByContact(ctx, seq.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, 0, sc.CurrentStep)
	assert.Equal(t, models.EnrollmentActive, sc.Status)
	require.NotNil(t, sc.NextSendAt)
	assert.Equal(t, testNow, *sc.NextSendAt, "first step has no delay")

	// Enrolling again is skipped
	added, err = e.AddContacts(ctx, seq.ID, []uint{a.ID})
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestProcessContactEnqueuesStepEmail(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com", FirstName: "Ada"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)

	require.NoError(t, e.ProcessContact(ctx, sc))

	require.Len(t, q.jobs, 1)
	email := store.emails[q.jobs[0].SequenceEmailID]
	require.NotNil(t, email)
	assert.Equal(t, sc.ID, email.SequenceContactID)
	assert.Equal(t, seq.Steps[0].ID, email.StepID)
	assert.Equal(t, models.RecipientPending, email.Status)
	assert.Nil(t, sc.NextSendAt, "schedule clears until the send outcome advances the cursor")
}

func TestProcessContactRedeliveryDoesNotDuplicateStep(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))
	require.Len(t, store.emails, 1)

	// A crash between creating the record and clearing the schedule leaves
	// next_send_at set; the following tick picks the enrollment up again.
	sc.NextSendAt = &testNow
	require.NoError(t, e.ProcessContact(ctx, sc))

	assert.Len(t, store.emails, 1, "the pending record is reused, never duplicated")
	require.Len(t, q.jobs, 2, "the existing record is re-enqueued")
	assert.Equal(t, q.jobs[0].SequenceEmailID, q.jobs[1].SequenceEmailID)
	assert.Nil(t, sc.NextSendAt)
}

func TestProcessContactAdvancesPastAlreadySentStep(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)

	// The step went out but the cursor write was lost: enrollment still at
	// step 0 with a schedule, email already sent.
	email := &models.SequenceEmail{
		SequenceContactID: sc.ID,
		StepID:            seq.Steps[0].ID,
		Status:            models.RecipientSent,
	}
	require.NoError(t, store.CreateSequenceEmail(ctx, email))

	require.NoError(t, e.ProcessContact(ctx, sc))
	assert.Empty(t, q.jobs, "no resend of a step that already went out")
	assert.Equal(t, 1, sc.CurrentStep)
	require.NotNil(t, sc.NextSendAt)
	assert.Equal(t, testNow.AddDate(0, 0, 3), *sc.NextSendAt)
}

func TestDeliverEmailRedeliveryRecoversStalledCursor(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, transport := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))
	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))
	require.Equal(t, 1, sc.CurrentStep)

	// The advance write was lost after the email was marked sent: the
	// persisted enrollment still points at step 0 with no schedule.
	sc.CurrentStep = 0
	sc.NextSendAt = nil

	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))
	assert.Len(t, transport.sent, 1, "recovery never re-sends")
	assert.Equal(t, 1, sc.CurrentStep, "cursor advance is recovered on redelivery")
	require.NotNil(t, sc.NextSendAt)
	assert.Equal(t, testNow.AddDate(0, 0, 3), *sc.NextSendAt)
}

func TestDeliverEmailRedeliveryLeavesHealthyEnrollmentAlone(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))
	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))
	scheduled := *sc.NextSendAt

	// Plain queue redelivery: cursor already advanced, schedule intact
	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))
	assert.Equal(t, 1, sc.CurrentStep)
	assert.Equal(t, scheduled, *sc.NextSendAt)
}

func TestProcessContactExitsOnConversion(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	store.closedWon[contact.ID] = true
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)

	require.NoError(t, e.ProcessContact(ctx, sc))
	assert.Equal(t, models.EnrollmentExited, sc.Status)
	assert.Equal(t, models.ExitConverted, sc.ExitReason)
	require.NotNil(t, sc.ExitedAt)
	assert.Nil(t, sc.NextSendAt)
	assert.Empty(t, q.jobs, "exit wins over advancing")
}

func TestProcessContactExitsOnUnsubscribe(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com", IsUnsubscribed: true})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)

	require.NoError(t, e.ProcessContact(ctx, sc))
	assert.Equal(t, models.EnrollmentExited, sc.Status)
	assert.Equal(t, models.ExitUnsubscribed, sc.ExitReason)
	assert.Empty(t, q.jobs)
}

func TestProcessContactSkipsPausedSequence(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)

	seq.Status = models.SequencePaused
	require.NoError(t, e.ProcessContact(ctx, sc))
	assert.Empty(t, q.jobs)
	assert.Equal(t, models.EnrollmentActive, sc.Status, "pause leaves enrollments where they are")
}

func TestDeliverEmailSendsAndAdvances(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "ada@example.com", FirstName: "Ada"})
	e, q, transport := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))
	require.Len(t, q.jobs, 1)

	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "ada@example.com", transport.sent[0].To)
	assert.Equal(t, "Welcome Ada", transport.sent[0].Subject)

	email := store.emails[q.jobs[0].SequenceEmailID]
	assert.Equal(t, models.RecipientSent, email.Status)
	assert.NotEmpty(t, email.MessageID)
	assert.Equal(t, 1, store.stepSent[seq.Steps[0].ID])

	sc = store.enrollments[sc.ID]
	assert.Equal(t, 1, sc.CurrentStep)
	require.NotNil(t, sc.NextSendAt)
	assert.Equal(t, testNow.AddDate(0, 0, 3), *sc.NextSendAt, "step two is three days out")
}

func TestDeliverEmailIdempotent(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, transport := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))

	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))
	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))

	assert.Len(t, transport.sent, 1, "redelivered job is a no-op once sent")
	assert.Equal(t, 1, store.enrollments[sc.ID].CurrentStep, "cursor advances once")
}

func TestDeliverEmailRateLimitPropagates(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, transport := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))

	transport.err = utils.ErrRateLimited
	err = e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID)
	require.ErrorIs(t, err, utils.ErrRateLimited)

	email := store.emails[q.jobs[0].SequenceEmailID]
	assert.Equal(t, models.RecipientPending, email.Status, "record stays claimable for the retry")
	assert.Equal(t, 0, store.enrollments[sc.ID].CurrentStep, "cursor does not move on a throttled send")
}

func TestDeliverEmailFailureStillAdvances(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, transport := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))

	transport.err = errors.New("550 rejected")
	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))

	email := store.emails[q.jobs[0].SequenceEmailID]
	assert.Equal(t, models.RecipientFailed, email.Status)
	assert.Equal(t, "550 rejected", email.FailureReason)
	assert.Equal(t, 1, store.enrollments[sc.ID].CurrentStep, "a failed step does not stall the sequence")
	assert.Zero(t, store.stepSent[seq.Steps[0].ID])
}

func TestExhaustionCompletesEnrollment(t *testing.T) {
	store := newFakeStore()
	seq := store.addSequence(&models.Sequence{
		Name:   "single",
		Status: models.SequenceActive,
		Steps:  []models.SequenceStep{{StepNumber: 1, Subject: "Only step", Body: "Hi"}},
	})
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	require.NoError(t, e.ProcessContact(ctx, sc))
	require.NoError(t, e.DeliverEmail(ctx, q.jobs[0].SequenceEmailID))

	sc = store.enrollments[sc.ID]
	assert.Equal(t, models.EnrollmentCompleted, sc.Status)
	assert.Empty(t, sc.ExitReason, "exhaustion is completion, not an exit")
	require.NotNil(t, sc.CompletedAt)
	assert.Nil(t, sc.NextSendAt)
}

func TestRemoveContactExitsManually(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	contact := store.addContact(&models.Contact{Email: "a@example.com"})
	e, _, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{contact.ID})
	require.NoError(t, err)

	require.NoError(t, e.RemoveContact(ctx, seq.ID, contact.ID))
	sc, _ := store.GetEnrollmentByContact(ctx, seq.ID, contact.ID)
	assert.Equal(t, models.EnrollmentExited, sc.Status)
	assert.Equal(t, models.ExitManual, sc.ExitReason)

	// Removing an already exited enrollment is a no-op
	require.NoError(t, e.RemoveContact(ctx, seq.ID, contact.ID))
	assert.ErrorIs(t, e.RemoveContact(ctx, seq.ID, 999), ErrNotFound)
}

func TestProcessDuePicksOnlyDueEnrollments(t *testing.T) {
	store := newFakeStore()
	seq := twoStepSequence(store, models.SequenceActive)
	a := store.addContact(&models.Contact{Email: "a@example.com"})
	b := store.addContact(&models.Contact{Email: "b@example.com"})
	e, q, _ := testEngine(store)
	ctx := context.Background()

	_, err := e.AddContacts(ctx, seq.ID, []uint{a.ID, b.ID})
	require.NoError(t, err)

	// Push b's schedule into the future
	scB, _ := store.GetEnrollmentByContact(ctx, seq.ID, b.ID)
	future := testNow.Add(48 * time.Hour)
	scB.NextSendAt = &future

	n, err := e.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, q.jobs, 1)
	email := store.emails[q.jobs[0].SequenceEmailID]
	scA, _ := store.GetEnrollmentByContact(ctx, seq.ID, a.ID)
	assert.Equal(t, scA.ID, email.SequenceContactID)
}

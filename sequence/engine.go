package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/queue"
	"mailforge/utils"
)

var (
	// ErrNoSteps rejects activating a sequence with nothing to send
	ErrNoSteps = errors.New("sequence has no steps")

	// ErrNotFound marks a missing sequence or enrollment
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition mirrors the campaign machine's expected-failure
	// contract for sequence status changes.
	ErrIllegalTransition = errors.New("action not permitted in current state")
)

// Store is the persistence the sequence engine needs. GetSequence returns
// steps ordered by step number.
type Store interface {
	GetSequence(ctx context.Context, id uint) (*models.Sequence, error)
	SaveSequence(ctx context.Context, seq *models.Sequence) error
	GetEnrollment(ctx context.Context, id uint) (*models.SequenceContact, error)
	GetEnrollmentByContact(ctx context.Context, sequenceID, contactID uint) (*models.SequenceContact, error)
	CreateEnrollment(ctx context.Context, sc *models.SequenceContact) error
	SaveEnrollment(ctx context.Context, sc *models.SequenceContact) error
	// DueEnrollments lists active enrollments with next_send_at at or
	// before the given time, in id order.
	DueEnrollments(ctx context.Context, before time.Time, limit int) ([]models.SequenceContact, error)
	GetContact(ctx context.Context, id uint) (*models.Contact, error)
	// HasClosedWonDeal reports whether the contact converted
	HasClosedWonDeal(ctx context.Context, contactID uint) (bool, error)
	CreateSequenceEmail(ctx context.Context, email *models.SequenceEmail) error
	// FindStepEmail returns the latest send record for one enrollment's
	// step, or nil when none exists.
	FindStepEmail(ctx context.Context, sequenceContactID, stepID uint) (*models.SequenceEmail, error)
	GetSequenceEmail(ctx context.Context, id uint) (*models.SequenceEmail, error)
	SaveSequenceEmail(ctx context.Context, email *models.SequenceEmail) error
	GetStep(ctx context.Context, id uint) (*models.SequenceStep, error)
	IncrementStepSent(ctx context.Context, stepID uint) error
}

// Engine advances each enrolled contact through a sequence's timed steps.
// Exit criteria always win over advancing; running out of steps is normal
// completion, distinct from an exit.
type Engine struct {
	store     Store
	q         queue.Queue
	transport utils.Transport
	fromEmail string
	clock     utils.Clock
	log       logrus.FieldLogger
}

func NewEngine(store Store, q queue.Queue, transport utils.Transport, fromEmail string,
	clock utils.Clock, log logrus.FieldLogger) *Engine {
	return &Engine{
		store:     store,
		q:         q,
		transport: transport,
		fromEmail: fromEmail,
		clock:     clock,
		log:       log,
	}
}

// stepAt returns the step at the given cursor index, or nil past the end
func stepAt(seq *models.Sequence, index int) *models.SequenceStep {
	if index < 0 || index >= len(seq.Steps) {
		return nil
	}
	return &seq.Steps[index]
}

// nextSendTime computes when a step should go out: now plus the step's
// delay in days, pinned to the step's preferred hour when one is set and
// rolled forward a day if that hour has already passed.
func nextSendTime(now time.Time, step *models.SequenceStep) time.Time {
	at := now.AddDate(0, 0, step.DelayDays)
	if step.SendHour == nil {
		return at
	}
	pinned := time.Date(at.Year(), at.Month(), at.Day(), *step.SendHour, 0, 0, 0, at.Location())
	if pinned.Before(now) {
		pinned = pinned.AddDate(0, 0, 1)
	}
	return pinned
}

// Activate turns the sequence on. Requires at least one step.
func (e *Engine) Activate(ctx context.Context, sequenceID uint) error {
	seq, err := e.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq == nil {
		return ErrNotFound
	}
	if seq.Status == models.SequenceActive {
		return nil
	}
	if len(seq.Steps) == 0 {
		return ErrNoSteps
	}
	seq.Status = models.SequenceActive
	return e.store.SaveSequence(ctx, seq)
}

// Pause stops processing without touching enrollments; they resume where
// they left off when the sequence reactivates.
func (e *Engine) Pause(ctx context.Context, sequenceID uint) error {
	seq, err := e.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq == nil {
		return ErrNotFound
	}
	if seq.Status != models.SequenceActive {
		return ErrIllegalTransition
	}
	seq.Status = models.SequencePaused
	return e.store.SaveSequence(ctx, seq)
}

// AddContacts enrolls contacts, skipping ones already enrolled, and seeds
// each cursor at step 0 with its computed send time.
func (e *Engine) AddContacts(ctx context.Context, sequenceID uint, contactIDs []uint) (int, error) {
	seq, err := e.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return 0, err
	}
	if seq == nil {
		return 0, ErrNotFound
	}
	if len(seq.Steps) == 0 {
		return 0, ErrNoSteps
	}

	added := 0
	now := e.clock()
	firstSend := nextSendTime(now, &seq.Steps[0])
	for _, contactID := range contactIDs {
		existing, err := e.store.GetEnrollmentByContact(ctx, sequenceID, contactID)
		if err != nil {
			return added, err
		}
		if existing != nil {
			continue
		}
		sc := &models.SequenceContact{
			SequenceID:  sequenceID,
			ContactID:   contactID,
			CurrentStep: 0,
			Status:      models.EnrollmentActive,
			NextSendAt:  &firstSend,
		}
		if err := e.store.CreateEnrollment(ctx, sc); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// RemoveContact exits an enrollment manually
func (e *Engine) RemoveContact(ctx context.Context, sequenceID, contactID uint) error {
	sc, err := e.store.GetEnrollmentByContact(ctx, sequenceID, contactID)
	if err != nil {
		return err
	}
	if sc == nil {
		return ErrNotFound
	}
	if sc.Status != models.EnrollmentActive {
		return nil
	}
	return e.exit(ctx, sc, models.ExitManual)
}

// ProcessDue runs one scheduler tick: every active enrollment whose
// next_send_at has arrived gets processed. Returns how many were handled.
func (e *Engine) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := e.store.DueEnrollments(ctx, e.clock(), limit)
	if err != nil {
		return 0, err
	}
	for i := range due {
		if err := e.ProcessContact(ctx, &due[i]); err != nil {
			e.log.WithError(err).WithField("enrollment_id", due[i].ID).Error("sequence contact processing failed")
		}
	}
	return len(due), nil
}

// ProcessContact evaluates one enrollment: exit criteria first, then the
// step at the current cursor. The cursor is not advanced here; that happens
// in AdvanceContact once the send outcome is known.
func (e *Engine) ProcessContact(ctx context.Context, sc *models.SequenceContact) error {
	seq, err := e.store.GetSequence(ctx, sc.SequenceID)
	if err != nil {
		return err
	}
	if seq == nil || seq.Status != models.SequenceActive {
		return nil
	}
	if sc.Status != models.EnrollmentActive {
		return nil
	}

	// Exit always wins over advancing
	converted, err := e.store.HasClosedWonDeal(ctx, sc.ContactID)
	if err != nil {
		return err
	}
	if converted {
		return e.exit(ctx, sc, models.ExitConverted)
	}
	contact, err := e.store.GetContact(ctx, sc.ContactID)
	if err != nil {
		return err
	}
	if contact != nil && contact.IsUnsubscribed {
		return e.exit(ctx, sc, models.ExitUnsubscribed)
	}

	step := stepAt(seq, sc.CurrentStep)
	if step == nil {
		return e.complete(ctx, sc)
	}

	// Redelivery guard: a record for this step may already exist when a
	// previous tick died between creating it and clearing the schedule.
	existing, err := e.store.FindStepEmail(ctx, sc.ID, step.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Status == models.RecipientPending {
			// Created but possibly never handed to the queue; enqueue the
			// existing record instead of minting a duplicate.
			if err := e.q.Publish(ctx, queue.TopicSequenceSend,
				queue.SequenceSendPayload{SequenceEmailID: existing.ID}, 0); err != nil {
				return err
			}
			sc.NextSendAt = nil
			return e.store.SaveEnrollment(ctx, sc)
		}
		// The step already went out (or terminally failed) but the cursor
		// never moved; advance instead of re-sending.
		return e.AdvanceContact(ctx, sc)
	}

	email := &models.SequenceEmail{
		SequenceContactID: sc.ID,
		StepID:            step.ID,
		Status:            models.RecipientPending,
	}
	if err := e.store.CreateSequenceEmail(ctx, email); err != nil {
		return err
	}
	if err := e.q.Publish(ctx, queue.TopicSequenceSend,
		queue.SequenceSendPayload{SequenceEmailID: email.ID}, 0); err != nil {
		return err
	}

	// Clear the schedule so the next scheduler tick does not re-send the
	// same step; AdvanceContact sets the next one.
	sc.NextSendAt = nil
	return e.store.SaveEnrollment(ctx, sc)
}

// DeliverEmail sends one pending step email and then advances the cursor.
// Rate limits propagate so the queue's backoff policy retries the job;
// every other failure is terminal for this attempt.
func (e *Engine) DeliverEmail(ctx context.Context, sequenceEmailID uint) error {
	email, err := e.store.GetSequenceEmail(ctx, sequenceEmailID)
	if err != nil {
		return err
	}
	if email == nil {
		return nil
	}
	if email.Status != models.RecipientPending {
		// Redelivered after the send finished. The cursor may still point
		// at this step if the advance write was lost; recover it so the
		// enrollment does not stall with no schedule.
		return e.recoverAdvance(ctx, email)
	}

	sc, err := e.store.GetEnrollment(ctx, email.SequenceContactID)
	if err != nil || sc == nil {
		return err
	}
	step, err := e.store.GetStep(ctx, email.StepID)
	if err != nil || step == nil {
		return err
	}
	contact, err := e.store.GetContact(ctx, sc.ContactID)
	if err != nil || contact == nil {
		return err
	}

	messageID, err := e.transport.Send(ctx, utils.Email{
		From:    e.fromEmail,
		To:      contact.Email,
		Subject: utils.RenderTemplate(step.Subject, contact),
		Body:    utils.RenderTemplate(step.Body, contact),
	})
	if err != nil {
		if errors.Is(err, utils.ErrRateLimited) {
			return err
		}
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("sequence_email_id", fmt.Sprint(sequenceEmailID))
			sentry.CaptureException(err)
		})
		e.log.WithError(err).WithField("sequence_email_id", sequenceEmailID).Warn("step send failed")

		now := e.clock()
		email.Status = models.RecipientFailed
		email.FailureReason = err.Error()
		email.SentAt = &now
		if saveErr := e.store.SaveSequenceEmail(ctx, email); saveErr != nil {
			return saveErr
		}
		return e.AdvanceContact(ctx, sc)
	}

	if messageID == "" {
		messageID = uuid.New().String()
	}
	now := e.clock()
	email.Status = models.RecipientSent
	email.MessageID = messageID
	email.SentAt = &now
	if err := e.store.SaveSequenceEmail(ctx, email); err != nil {
		return err
	}
	if err := e.store.IncrementStepSent(ctx, step.ID); err != nil {
		e.log.WithError(err).Warn("step sent_count update failed")
	}
	return e.AdvanceContact(ctx, sc)
}

// recoverAdvance re-runs the cursor advance for an email whose send already
// concluded. A no-op when the enrollment has moved on.
func (e *Engine) recoverAdvance(ctx context.Context, email *models.SequenceEmail) error {
	sc, err := e.store.GetEnrollment(ctx, email.SequenceContactID)
	if err != nil || sc == nil {
		return err
	}
	if sc.Status != models.EnrollmentActive || sc.NextSendAt != nil {
		return nil
	}
	step, err := e.store.GetStep(ctx, email.StepID)
	if err != nil || step == nil {
		return err
	}
	if sc.CurrentStep != step.StepNumber-1 {
		return nil
	}
	return e.AdvanceContact(ctx, sc)
}

// AdvanceContact moves the cursor to the next step and schedules it, or
// completes the enrollment when the sequence is exhausted.
func (e *Engine) AdvanceContact(ctx context.Context, sc *models.SequenceContact) error {
	seq, err := e.store.GetSequence(ctx, sc.SequenceID)
	if err != nil {
		return err
	}
	if seq == nil {
		return ErrNotFound
	}

	sc.CurrentStep++
	next := stepAt(seq, sc.CurrentStep)
	if next == nil {
		return e.complete(ctx, sc)
	}

	at := nextSendTime(e.clock(), next)
	sc.NextSendAt = &at
	return e.store.SaveEnrollment(ctx, sc)
}

// complete marks normal step exhaustion, distinct from an exit
func (e *Engine) complete(ctx context.Context, sc *models.SequenceContact) error {
	now := e.clock()
	sc.Status = models.EnrollmentCompleted
	sc.CompletedAt = &now
	sc.NextSendAt = nil
	return e.store.SaveEnrollment(ctx, sc)
}

func (e *Engine) exit(ctx context.Context, sc *models.SequenceContact, reason string) error {
	now := e.clock()
	sc.Status = models.EnrollmentExited
	sc.ExitReason = reason
	sc.ExitedAt = &now
	sc.NextSendAt = nil
	return e.store.SaveEnrollment(ctx, sc)
}

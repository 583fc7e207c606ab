package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
)

// Result is what every control-surface action reports back: a success flag,
// a human-readable reason, and a count for the recipient-mutating commands.
// Internal state identities never leak through it.
type Result struct {
	OK      bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

// Command encapsulates one user-facing campaign action. Handlers build a
// command and hand it to the Invoker; all status branching lives behind the
// Machine, never in the caller.
type Command interface {
	Execute(ctx context.Context) Result
}

// Invoker runs commands and keeps expected failures out of the error logs
type Invoker struct {
	log logrus.FieldLogger
}

func NewInvoker(log logrus.FieldLogger) *Invoker {
	return &Invoker{log: log}
}

func (i *Invoker) Run(ctx context.Context, cmd Command) Result {
	return cmd.Execute(ctx)
}

// result maps a machine error onto a caller-facing Result. Illegal
// transitions and empty-audience rejections are expected conditions;
// anything else is an internal fault surfaced generically.
func (i *Invoker) result(err error, okMsg string, count int) Result {
	switch {
	case err == nil:
		return Result{OK: true, Message: okMsg, Count: count}
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrNoRecipients):
		return Result{OK: false, Message: err.Error()}
	default:
		i.log.WithError(err).Error("campaign command failed")
		return Result{OK: false, Message: "internal error"}
	}
}

// ScheduleCommand sets the campaign's send time
type ScheduleCommand struct {
	Invoker  *Invoker
	Machine  *Machine
	Campaign *models.Campaign
	At       time.Time
}

func (c ScheduleCommand) Execute(ctx context.Context) Result {
	if !CanTransition(c.Campaign.Status, models.CampaignScheduled) && c.Campaign.Status != models.CampaignScheduled {
		return Result{OK: false, Message: ErrIllegalTransition.Error()}
	}
	err := c.Machine.Schedule(ctx, c.Campaign, c.At)
	return c.Invoker.result(err, fmt.Sprintf("campaign scheduled for %s", c.At.Format(time.RFC3339)), 0)
}

// SendCommand starts delivery immediately
type SendCommand struct {
	Invoker  *Invoker
	Machine  *Machine
	Campaign *models.Campaign
}

func (c SendCommand) Execute(ctx context.Context) Result {
	if !CanTransition(c.Campaign.Status, models.CampaignInProgress) {
		return Result{OK: false, Message: ErrIllegalTransition.Error()}
	}
	err := c.Machine.Send(ctx, c.Campaign)
	return c.Invoker.result(err, "campaign sending started", 0)
}

// PauseCommand halts future dispatch ticks
type PauseCommand struct {
	Invoker  *Invoker
	Machine  *Machine
	Campaign *models.Campaign
}

func (c PauseCommand) Execute(ctx context.Context) Result {
	if !CanTransition(c.Campaign.Status, models.CampaignPaused) {
		return Result{OK: false, Message: ErrIllegalTransition.Error()}
	}
	err := c.Machine.Pause(ctx, c.Campaign)
	return c.Invoker.result(err, "campaign paused", 0)
}

// ResumeCommand restarts a paused campaign
type ResumeCommand struct {
	Invoker  *Invoker
	Machine  *Machine
	Campaign *models.Campaign
}

func (c ResumeCommand) Execute(ctx context.Context) Result {
	if c.Campaign.Status != models.CampaignPaused {
		return Result{OK: false, Message: ErrIllegalTransition.Error()}
	}
	err := c.Machine.Resume(ctx, c.Campaign)
	return c.Invoker.result(err, "campaign resumed", 0)
}

// StopCommand ends the campaign according to its current state
type StopCommand struct {
	Invoker  *Invoker
	Machine  *Machine
	Campaign *models.Campaign
}

func (c StopCommand) Execute(ctx context.Context) Result {
	err := c.Machine.Stop(ctx, c.Campaign)
	return c.Invoker.result(err, "campaign stopped", 0)
}

// AddRecipientsCommand attaches contacts; returns how many were new
type AddRecipientsCommand struct {
	Invoker    *Invoker
	Machine    *Machine
	Campaign   *models.Campaign
	ContactIDs []uint
}

func (c AddRecipientsCommand) Execute(ctx context.Context) Result {
	n, err := c.Machine.AddRecipients(ctx, c.Campaign, c.ContactIDs)
	return c.Invoker.result(err, fmt.Sprintf("%d recipients added", n), n)
}

// RemoveRecipientsCommand detaches still-pending contacts
type RemoveRecipientsCommand struct {
	Invoker    *Invoker
	Machine    *Machine
	Campaign   *models.Campaign
	ContactIDs []uint
}

func (c RemoveRecipientsCommand) Execute(ctx context.Context) Result {
	n, err := c.Machine.RemoveRecipients(ctx, c.Campaign, c.ContactIDs)
	return c.Invoker.result(err, fmt.Sprintf("%d recipients removed", n), n)
}

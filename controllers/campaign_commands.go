package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailforge/campaign"
)

// Command endpoints. Each builds a command and hands it to the invoker; the
// state machine owns every legality decision, so these handlers carry no
// status branching at all.

func (cc *CampaignController) ScheduleCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}

	var input struct {
		ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if input.ScheduledAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduled_at is required",
		})
	}

	result := cc.Invoker.Run(c.Context(), campaign.ScheduleCommand{
		Invoker:  cc.Invoker,
		Machine:  cc.Machine,
		Campaign: cmp,
		At:       input.ScheduledAt,
	})
	return writeResult(c, result)
}

func (cc *CampaignController) SendCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	result := cc.Invoker.Run(c.Context(), campaign.SendCommand{
		Invoker:  cc.Invoker,
		Machine:  cc.Machine,
		Campaign: cmp,
	})
	return writeResult(c, result)
}

func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	result := cc.Invoker.Run(c.Context(), campaign.PauseCommand{
		Invoker:  cc.Invoker,
		Machine:  cc.Machine,
		Campaign: cmp,
	})
	return writeResult(c, result)
}

func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	result := cc.Invoker.Run(c.Context(), campaign.ResumeCommand{
		Invoker:  cc.Invoker,
		Machine:  cc.Machine,
		Campaign: cmp,
	})
	return writeResult(c, result)
}

func (cc *CampaignController) StopCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	result := cc.Invoker.Run(c.Context(), campaign.StopCommand{
		Invoker:  cc.Invoker,
		Machine:  cc.Machine,
		Campaign: cmp,
	})
	return writeResult(c, result)
}

func (cc *CampaignController) AddRecipients(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}

	var input struct {
		ContactIDs []uint `json:"contact_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result := cc.Invoker.Run(c.Context(), campaign.AddRecipientsCommand{
		Invoker:    cc.Invoker,
		Machine:    cc.Machine,
		Campaign:   cmp,
		ContactIDs: cc.validEmails(c, input.ContactIDs),
	})
	return writeResult(c, result)
}

func (cc *CampaignController) RemoveRecipients(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}

	var input struct {
		ContactIDs []uint `json:"contact_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result := cc.Invoker.Run(c.Context(), campaign.RemoveRecipientsCommand{
		Invoker:    cc.Invoker,
		Machine:    cc.Machine,
		Campaign:   cmp,
		ContactIDs: input.ContactIDs,
	})
	return writeResult(c, result)
}

// writeResult maps a command result to an HTTP response. Rejections are 409:
// the request was well-formed, the campaign's state just doesn't allow it.
func writeResult(c *fiber.Ctx, result campaign.Result) error {
	if !result.OK {
		status := fiber.StatusConflict
		if result.Message == "internal error" {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(result)
	}
	return c.JSON(result)
}

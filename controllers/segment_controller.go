package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailforge/campaign"
)

// Segment endpoints live on the campaign controller; a segment is never
// addressed outside its campaign.

func (cc *CampaignController) CreateSegments(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}

	var input struct {
		Count int `json:"count" validate:"required,min=1"`
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

	segments, err := cc.Segmenter.CreateSegments(c.Context(), cmp.ID, input.Count)
	if err != nil {
		return segmentError(c, cc, err, "Failed to create segments")
	}
	return c.Status(fiber.StatusCreated).JSON(segments)
}

func (cc *CampaignController) ListSegments(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	segments, err := cc.Store.ListSegments(c.Context(), cmp.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch segments",
		})
	}
	return c.JSON(segments)
}

func (cc *CampaignController) SendSegment(c *fiber.Ctx) error {
	segmentID, err := c.ParamsInt("segmentID")
	if err != nil || segmentID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid segment ID",
		})
	}

	if err := cc.Segmenter.SendSegment(c.Context(), uint(segmentID)); err != nil {
		return segmentError(c, cc, err, "Failed to send segment")
	}
	return c.JSON(fiber.Map{"success": true, "message": "segment sending started"})
}

func (cc *CampaignController) UpdateSegment(c *fiber.Ctx) error {
	segmentID, err := c.ParamsInt("segmentID")
	if err != nil || segmentID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid segment ID",
		})
	}

	var input struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := cc.Segmenter.UpdateSegment(c.Context(), uint(segmentID), input.Subject, input.Body); err != nil {
		return segmentError(c, cc, err, "Failed to update segment")
	}
	return c.JSON(fiber.Map{"success": true, "message": "segment updated"})
}

func (cc *CampaignController) DeleteSegments(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	if err := cc.Segmenter.DeleteSegments(c.Context(), cmp.ID); err != nil {
		return segmentError(c, cc, err, "Failed to delete segments")
	}
	return c.JSON(fiber.Map{"success": true, "message": "segments deleted"})
}

func segmentError(c *fiber.Ctx, cc *CampaignController, err error, fallback string) error {
	switch {
	case errors.Is(err, campaign.ErrIllegalTransition), errors.Is(err, campaign.ErrNoRecipients):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	cc.Logger.WithError(err).Error("segment operation failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fallback,
	})
}

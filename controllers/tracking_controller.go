package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailforge/models"
	"mailforge/tracking"
	"mailforge/utils"
)

type TrackingController struct {
	Tokens   *tracking.Tokenizer
	Recorder *tracking.Recorder
	Logger   logrus.FieldLogger
}

func NewTrackingController(tokens *tracking.Tokenizer, recorder *tracking.Recorder,
	logger logrus.FieldLogger) *TrackingController {
	return &TrackingController{
		Tokens:   tokens,
		Recorder: recorder,
		Logger:   logger,
	}
}

// HandleOpen serves the tracking pixel. A recording failure still returns
// the pixel so broken dashboards never surface as broken images.
func (tc *TrackingController) HandleOpen(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("campaignID"))
	contactID := utils.ParseUint(c.Params("contactID"))
	token := c.Params("token")

	if !tc.Tokens.Verify(campaignID, contactID, token) {
		return c.SendStatus(fiber.StatusForbidden)
	}

	if err := tc.Recorder.Record(c.Context(), tracking.Event{
		CampaignID: campaignID,
		ContactID:  contactID,
		Type:       models.EventOpened,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	}); err != nil {
		tc.Logger.WithError(err).Warn("open event recording failed")
	}

	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	return c.Type("gif").Send(transparentPixel())
}

// HandleClick verifies the token, records the click and redirects to the
// original destination.
func (tc *TrackingController) HandleClick(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("campaignID"))
	contactID := utils.ParseUint(c.Params("contactID"))
	token := c.Params("token")

	if !tc.Tokens.Verify(campaignID, contactID, token) {
		return c.SendStatus(fiber.StatusForbidden)
	}

	destination, err := tracking.DecodeDestination(c.Query("u"))
	if err != nil || destination == "" {
		tc.Logger.WithError(err).Warn("undecodable click destination")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Invalid destination",
		})
	}

	if err := tc.Recorder.Record(c.Context(), tracking.Event{
		CampaignID: campaignID,
		ContactID:  contactID,
		Type:       models.EventClicked,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
		URL:        destination,
	}); err != nil {
		tc.Logger.WithError(err).Warn("click event recording failed")
	}

	return c.Redirect(destination, fiber.StatusFound)
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}

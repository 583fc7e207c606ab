package controller

import (
	"context"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/campaign"
	"mailforge/models"
	"mailforge/repository"
)

var validate = validator.New()

// EventLister reads the campaign event log for the stats surface
type EventLister interface {
	CampaignEvents(ctx context.Context, campaignID uint, limit int) ([]models.EmailEvent, error)
}

type CampaignController struct {
	DB        *gorm.DB
	Store     *repository.Store
	Events    EventLister
	Machine   *campaign.Machine
	Invoker   *campaign.Invoker
	Segmenter *campaign.Segmenter
	Logger    logrus.FieldLogger
}

func NewCampaignController(db *gorm.DB, store *repository.Store, machine *campaign.Machine,
	invoker *campaign.Invoker, segmenter *campaign.Segmenter, logger logrus.FieldLogger) *CampaignController {
	return &CampaignController{
		DB:        db,
		Store:     store,
		Events:    store,
		Machine:   machine,
		Invoker:   invoker,
		Segmenter: segmenter,
		Logger:    logger,
	}
}

func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input struct {
		Name         string `json:"name" validate:"required"`
		Subject      string `json:"subject" validate:"required"`
		Body         string `json:"body" validate:"required"`
		AudienceType string `json:"audience_type" validate:"omitempty,oneof=contact company"`
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

	if input.AudienceType == "" {
		input.AudienceType = models.AudienceContact
	}

	cmp := models.Campaign{
		Name:         input.Name,
		Subject:      input.Subject,
		Body:         input.Body,
		AudienceType: input.AudienceType,
		Status:       models.CampaignDraft,
	}
	if err := cc.DB.WithContext(c.Context()).Create(&cmp).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(cmp)
}

func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	if err := cc.DB.WithContext(c.Context()).
		Order("created_at desc").Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaigns",
		})
	}
	return c.JSON(campaigns)
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	return c.JSON(cmp)
}

func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	if cmp.Status != models.CampaignDraft && cmp.Status != models.CampaignScheduled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only draft or scheduled campaigns can be edited",
		})
	}

	var input struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if input.Name != "" {
		cmp.Name = input.Name
	}
	if input.Subject != "" {
		cmp.Subject = input.Subject
	}
	if input.Body != "" {
		cmp.Body = input.Body
	}
	if err := cc.DB.WithContext(c.Context()).Save(cmp).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update campaign",
		})
	}
	return c.JSON(cmp)
}

func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}
	if cmp.Status == models.CampaignInProgress {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Stop the campaign before deleting it",
		})
	}
	if err := cc.DB.WithContext(c.Context()).Delete(cmp).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete campaign",
		})
	}
	return c.JSON(fiber.Map{"success": true, "message": "campaign deleted"})
}

// GetCampaignStats reports counters and a live per-status recipient breakdown
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	cmp, err := cc.loadCampaign(c)
	if err != nil {
		return err
	}

	counts, err := cc.Store.RecipientStatusCounts(c.Context(), cmp.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch recipient counts",
		})
	}

	return c.JSON(fiber.Map{
		"campaign_id":      cmp.ID,
		"status":           cmp.Status,
		"total_recipients": cmp.TotalRecipients,
		"sent_count":       cmp.SentCount,
		"failed_count":     cmp.FailedCount,
		"open_count":       cmp.OpenCount,
		"click_count":      cmp.ClickCount,
		"bounce_count":     cmp.BounceCount,
		"reply_count":      cmp.ReplyCount,
		"by_status":        counts,
	})
}

// GetCampaignEvents lists the campaign's event log, newest first. The log
// is an audit trail, so it stays queryable even after the campaign row is
// deleted.
func (cc *CampaignController) GetCampaignEvents(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign ID",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	events, err := cc.Events.CampaignEvents(c.Context(), uint(id), limit)
	if err != nil {
		cc.Logger.WithError(err).Error("event log query failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch events",
		})
	}

	return c.JSON(fiber.Map{
		"campaign_id": id,
		"count":       len(events),
		"events":      events,
	})
}

// loadCampaign resolves the :id path param; on failure it has already
// written the response and returns the fiber error
func (cc *CampaignController) loadCampaign(c *fiber.Ctx) (*models.Campaign, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign ID",
		})
	}

	var cmp models.Campaign
	if err := cc.DB.WithContext(c.Context()).First(&cmp, id).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	return &cmp, nil
}

// validEmails filters contact IDs down to contacts whose address passes
// format validation; malformed addresses are skipped with a warning
func (cc *CampaignController) validEmails(c *fiber.Ctx, contactIDs []uint) []uint {
	if len(contactIDs) == 0 {
		return contactIDs
	}
	var contacts []models.Contact
	if err := cc.DB.WithContext(c.Context()).
		Where("id IN ?", contactIDs).Find(&contacts).Error; err != nil {
		cc.Logger.WithError(err).Warn("contact lookup for validation failed")
		return contactIDs
	}

	valid := make([]uint, 0, len(contacts))
	for _, contact := range contacts {
		if err := checkmail.ValidateFormat(contact.Email); err != nil {
			cc.Logger.WithFields(logrus.Fields{
				"contact_id": contact.ID,
				"email":      contact.Email,
			}).Warn("skipping contact with invalid email")
			continue
		}
		valid = append(valid, contact.ID)
	}
	return valid
}

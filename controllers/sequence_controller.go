package controller

import (
	"errors"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
	"mailforge/sequence"
)

type SequenceController struct {
	DB     *gorm.DB
	Engine *sequence.Engine
	Logger logrus.FieldLogger
}

func NewSequenceController(db *gorm.DB, engine *sequence.Engine, logger logrus.FieldLogger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Engine: engine,
		Logger: logger,
	}
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input struct {
		Name  string `json:"name" validate:"required"`
		Steps []struct {
			DelayDays int    `json:"delay_days" validate:"min=0"`
			SendHour  *int   `json:"send_hour" validate:"omitempty,min=0,max=23"`
			Subject   string `json:"subject" validate:"required"`
			Body      string `json:"body" validate:"required"`
		} `json:"steps" validate:"required,min=1,dive"`
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

	seq := models.Sequence{
		Name:   input.Name,
		Status: models.SequenceDraft,
	}
	for i, step := range input.Steps {
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepNumber: i + 1,
			DelayDays:  step.DelayDays,
			SendHour:   step.SendHour,
			Subject:    step.Subject,
			Body:       step.Body,
		})
	}

	if err := sc.DB.WithContext(c.Context()).Create(&seq).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(seq)
}

func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	var sequences []models.Sequence
	if err := sc.DB.WithContext(c.Context()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number")
		}).
		Order("created_at desc").Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}
	return c.JSON(sequences)
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence ID",
		})
	}

	var seq models.Sequence
	if err := sc.DB.WithContext(c.Context()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number")
		}).
		First(&seq, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	return c.JSON(seq)
}

func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence ID",
		})
	}
	if err := sc.Engine.Activate(c.Context(), uint(id)); err != nil {
		return sc.engineError(c, err, "Failed to activate sequence")
	}
	return c.JSON(fiber.Map{"success": true, "message": "sequence activated"})
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence ID",
		})
	}
	if err := sc.Engine.Pause(c.Context(), uint(id)); err != nil {
		return sc.engineError(c, err, "Failed to pause sequence")
	}
	return c.JSON(fiber.Map{"success": true, "message": "sequence paused"})
}

func (sc *SequenceController) AddContacts(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence ID",
		})
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

	added, err := sc.Engine.AddContacts(c.Context(), uint(id), sc.validEmails(c, input.ContactIDs))
	if err != nil {
		return sc.engineError(c, err, "Failed to add contacts")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "contacts enrolled",
		"count":   added,
	})
}

func (sc *SequenceController) RemoveContact(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence ID",
		})
	}
	contactID, err := c.ParamsInt("contactID")
	if err != nil || contactID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid contact ID",
		})
	}

	if err := sc.Engine.RemoveContact(c.Context(), uint(id), uint(contactID)); err != nil {
		return sc.engineError(c, err, "Failed to remove contact")
	}
	return c.JSON(fiber.Map{"success": true, "message": "contact removed from sequence"})
}

func (sc *SequenceController) validEmails(c *fiber.Ctx, contactIDs []uint) []uint {
	var contacts []models.Contact
	if err := sc.DB.WithContext(c.Context()).
		Where("id IN ?", contactIDs).Find(&contacts).Error; err != nil {
		sc.Logger.WithError(err).Warn("contact lookup for validation failed")
		return contactIDs
	}

	valid := make([]uint, 0, len(contacts))
	for _, contact := range contacts {
		if err := checkmail.ValidateFormat(contact.Email); err != nil {
			sc.Logger.WithFields(logrus.Fields{
				"contact_id": contact.ID,
				"email":      contact.Email,
			}).Warn("skipping contact with invalid email")
			continue
		}
		valid = append(valid, contact.ID)
	}
	return valid
}

func (sc *SequenceController) engineError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, sequence.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	case errors.Is(err, sequence.ErrNoSteps), errors.Is(err, sequence.ErrIllegalTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	sc.Logger.WithError(err).Error("sequence operation failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fallback,
	})
}

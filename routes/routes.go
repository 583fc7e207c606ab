package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/campaign"
	controller "mailforge/controllers"
	"mailforge/middleware"
	"mailforge/repository"
	"mailforge/sequence"
	"mailforge/tracking"
)

// Deps carries the engines the controllers are built from. main wires them
// once and hands the bundle here.
type Deps struct {
	DB        *gorm.DB
	Store     *repository.Store
	Machine   *campaign.Machine
	Invoker   *campaign.Invoker
	Segmenter *campaign.Segmenter
	Engine    *sequence.Engine
	Tokens    *tracking.Tokenizer
	Recorder  *tracking.Recorder
	Logger    *logrus.Logger
}

func SetupRoutes(app *fiber.App, deps Deps) {
	campaignController := controller.NewCampaignController(deps.DB, deps.Store, deps.Machine,
		deps.Invoker, deps.Segmenter, deps.Logger.WithField("component", "campaign"))
	sequenceController := controller.NewSequenceController(deps.DB, deps.Engine,
		deps.Logger.WithField("component", "sequence"))
	trackingController := controller.NewTrackingController(deps.Tokens, deps.Recorder,
		deps.Logger.WithField("component", "tracking"))
	webhookController := controller.NewWebhookController(deps.Recorder,
		deps.Logger.WithField("component", "webhook"))

	// Health check
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "mailforge"})
	})

	// Tracking endpoints stay public; pixel and redirect hits carry no auth
	app.Get("/t/open/:campaignID/:contactID/:token", trackingController.HandleOpen)
	app.Get("/t/click/:campaignID/:contactID/:token", trackingController.HandleClick)

	// Provider delivery notifications
	app.Post("/webhooks/delivery", webhookController.HandleDelivery)

	// WebSocket route for campaign progress
	app.Get("/ws/campaigns/:id/progress", websocket.New(
		controller.HandleCampaignProgressWS(deps.DB, deps.Store,
			deps.Logger.WithField("component", "progress_ws"))))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Campaign routes
	campaigns := api.Group("/campaigns")
	campaigns.Post("/", campaignController.CreateCampaign)
	campaigns.Get("/", campaignController.ListCampaigns)
	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Put("/:id", campaignController.UpdateCampaign)
	campaigns.Delete("/:id", campaignController.DeleteCampaign)
	campaigns.Get("/:id/stats", campaignController.GetCampaignStats)
	campaigns.Get("/:id/events", campaignController.GetCampaignEvents)

	campaigns.Post("/:id/schedule", campaignController.ScheduleCampaign)
	campaigns.Post("/:id/send", campaignController.SendCampaign)
	campaigns.Post("/:id/pause", campaignController.PauseCampaign)
	campaigns.Post("/:id/resume", campaignController.ResumeCampaign)
	campaigns.Post("/:id/stop", campaignController.StopCampaign)
	campaigns.Post("/:id/recipients", campaignController.AddRecipients)
	campaigns.Delete("/:id/recipients", campaignController.RemoveRecipients)

	// Segment routes
	campaigns.Post("/:id/segments", campaignController.CreateSegments)
	campaigns.Get("/:id/segments", campaignController.ListSegments)
	campaigns.Delete("/:id/segments", campaignController.DeleteSegments)
	campaigns.Post("/:id/segments/:segmentID/send", campaignController.SendSegment)
	campaigns.Put("/:id/segments/:segmentID", campaignController.UpdateSegment)

	// Sequence routes
	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.ListSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Post("/:id/activate", sequenceController.ActivateSequence)
	sequences.Post("/:id/pause", sequenceController.PauseSequence)
	sequences.Post("/:id/contacts", sequenceController.AddContacts)
	sequences.Delete("/:id/contacts/:contactID", sequenceController.RemoveContact)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	deps.Logger.Info("routes initialized")
}

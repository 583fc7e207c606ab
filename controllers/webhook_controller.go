package controller

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"mailforge/models"
	"mailforge/tracking"
)

type WebhookController struct {
	Recorder *tracking.Recorder
	Logger   logrus.FieldLogger

	// Client is swappable so tests never hit the network
	Client *fasthttp.Client
}

func NewWebhookController(recorder *tracking.Recorder, logger logrus.FieldLogger) *WebhookController {
	return &WebhookController{
		Recorder: recorder,
		Logger:   logger,
		Client:   &fasthttp.Client{ReadTimeout: 10 * time.Second},
	}
}

// envelope is the provider's notification wrapper
type envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// notification is the inner delivery event message
type notification struct {
	EventType       string `json:"event_type"`
	CampaignID      uint   `json:"campaign_id"`
	ContactID       uint   `json:"contact_id"`
	SequenceEmailID *uint  `json:"sequence_email_id,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	Diagnostic      string `json:"diagnostic,omitempty"`
}

// eventTypeFor maps provider event names onto internal event types.
// Unknown names map to empty and are acknowledged without side effects.
func eventTypeFor(name string) string {
	switch name {
	case "delivery", "delivered":
		return models.EventDelivered
	case "bounce", "bounced":
		return models.EventBounced
	case "complaint":
		return models.EventComplaint
	case "open", "opened":
		return models.EventOpened
	case "click", "clicked":
		return models.EventClicked
	case "reply", "replied":
		return models.EventResponded
	}
	return ""
}

// HandleDelivery ingests provider delivery notifications. The provider
// retries on non-2xx, so anything recorded must answer 200.
func (wc *WebhookController) HandleDelivery(c *fiber.Ctx) error {
	var env envelope
	if err := json.Unmarshal(c.Body(), &env); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid envelope",
		})
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		return wc.confirmSubscription(c, env.SubscribeURL)

	case "Notification":
		var event notification
		if err := json.Unmarshal([]byte(env.Message), &event); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid notification message",
			})
		}

		eventType := eventTypeFor(event.EventType)
		if eventType == "" || event.CampaignID == 0 || event.ContactID == 0 {
			wc.Logger.WithField("event_type", event.EventType).
				Debug("unrecognized delivery notification, acknowledged")
			return c.JSON(fiber.Map{"success": true, "message": "ignored"})
		}

		var occurredAt time.Time
		if event.Timestamp > 0 {
			occurredAt = time.Unix(event.Timestamp, 0)
		}

		if err := wc.Recorder.Record(c.Context(), tracking.Event{
			CampaignID:      event.CampaignID,
			ContactID:       event.ContactID,
			SequenceEmailID: event.SequenceEmailID,
			Type:            eventType,
			OccurredAt:      occurredAt,
			Payload:         event.Diagnostic,
		}); err != nil {
			wc.Logger.WithError(err).Error("delivery notification recording failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record event",
			})
		}
		return c.JSON(fiber.Map{"success": true, "message": "event recorded"})
	}

	return c.JSON(fiber.Map{"success": true, "message": "ignored"})
}

// confirmSubscription completes the provider's subscribe handshake by
// fetching the confirmation URL it supplied
func (wc *WebhookController) confirmSubscription(c *fiber.Ctx, subscribeURL string) error {
	if subscribeURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing SubscribeURL",
		})
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(subscribeURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := wc.Client.Do(req, resp); err != nil {
		wc.Logger.WithError(err).Error("subscription confirmation fetch failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Confirmation fetch failed",
		})
	}

	wc.Logger.WithField("status", resp.StatusCode()).Info("webhook subscription confirmed")
	return c.JSON(fiber.Map{"success": true, "message": "subscription confirmed"})
}

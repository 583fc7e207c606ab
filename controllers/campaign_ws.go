package controller

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
	"mailforge/repository"
	"mailforge/utils"
)

// HandleCampaignProgressWS streams live delivery counts for one campaign.
// The socket closes itself once the campaign reaches a terminal status.
func HandleCampaignProgressWS(db *gorm.DB, store *repository.Store, logger logrus.FieldLogger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		campaignID := utils.ParseUint(c.Params("id"))
		if campaignID == 0 {
			_ = c.WriteJSON(map[string]string{"error": "invalid campaign id"})
			return
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			var cmp models.Campaign
			if err := db.First(&cmp, campaignID).Error; err != nil {
				_ = c.WriteJSON(map[string]string{"error": "campaign not found"})
				return
			}

			counts, err := store.RecipientStatusCounts(context.Background(), campaignID)
			if err != nil {
				logger.WithError(err).Warn("progress count query failed")
				return
			}

			percent := 0
			if cmp.TotalRecipients > 0 {
				done := 0
				for status, n := range counts {
					if status != models.RecipientPending && status != models.RecipientProcessing {
						done += n
					}
				}
				percent = done * 100 / cmp.TotalRecipients
			}

			progress := struct {
				Status    models.CampaignStatus          `json:"status"`
				Percent   int                            `json:"percent"`
				Total     int                            `json:"total"`
				SentCount int                            `json:"sent_count"`
				ByStatus  map[models.RecipientStatus]int `json:"by_status"`
			}{
				Status:    cmp.Status,
				Percent:   percent,
				Total:     cmp.TotalRecipients,
				SentCount: cmp.SentCount,
				ByStatus:  counts,
			}

			if err := c.WriteJSON(progress); err != nil {
				return
			}

			if cmp.Status == models.CampaignCompleted || cmp.Status == models.CampaignFailed {
				return
			}
			<-ticker.C
		}
	}
}

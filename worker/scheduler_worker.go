package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/campaign"
	"mailforge/models"
	"mailforge/sequence"
	"mailforge/utils"
)

const dueBatchSize = 100

// SchedulerWorker periodically starts scheduled campaigns whose send time
// has arrived and walks due sequence enrollments.
type SchedulerWorker struct {
	DB       *gorm.DB
	Machine  *campaign.Machine
	Engine   *sequence.Engine
	Clock    utils.Clock
	Logger   logrus.FieldLogger
	Interval time.Duration
}

func NewSchedulerWorker(db *gorm.DB, machine *campaign.Machine, engine *sequence.Engine,
	clock utils.Clock, logger logrus.FieldLogger, interval time.Duration) *SchedulerWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SchedulerWorker{
		DB:       db,
		Machine:  machine,
		Engine:   engine,
		Clock:    clock,
		Logger:   logger,
		Interval: interval,
	}
}

func (sw *SchedulerWorker) Start(ctx context.Context) {
	sw.Logger.Info("scheduler worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Info("scheduler worker shutting down")
			return
		case <-ticker.C:
			sw.startDueCampaigns(ctx)
			sw.processDueEnrollments(ctx)
		}
	}
}

func (sw *SchedulerWorker) startDueCampaigns(ctx context.Context) {
	var due []models.Campaign
	if err := sw.DB.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
			models.CampaignScheduled, sw.Clock()).
		Limit(dueBatchSize).Find(&due).Error; err != nil {
		sw.Logger.WithError(err).Error("due campaign query failed")
		return
	}

	for i := range due {
		cmp := &due[i]
		if err := sw.Machine.Send(ctx, cmp); err != nil {
			sw.Logger.WithError(err).WithField("campaign_id", cmp.ID).
				Error("scheduled campaign start failed")
			continue
		}
		sw.Logger.WithField("campaign_id", cmp.ID).Info("scheduled campaign started")
	}
}

func (sw *SchedulerWorker) processDueEnrollments(ctx context.Context) {
	n, err := sw.Engine.ProcessDue(ctx, dueBatchSize)
	if err != nil {
		sw.Logger.WithError(err).Error("due enrollment processing failed")
		return
	}
	if n > 0 {
		sw.Logger.WithField("count", n).Debug("sequence enrollments processed")
	}
}

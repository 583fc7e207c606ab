package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	redis "github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailforge/campaign"
	"mailforge/config"
	"mailforge/middleware"
	"mailforge/queue"
	"mailforge/repository"
	"mailforge/routes"
	"mailforge/sequence"
	"mailforge/tracking"
	"mailforge/utils"
	"mailforge/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	var clock utils.Clock = time.Now
	store := repository.NewStore(config.DB)

	// Job queue: redis when configured, in-process otherwise
	var q queue.Queue
	if config.AppConfig.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		q = queue.NewRedisQueue(client, logger.WithField("component", "queue"))
	} else {
		q = queue.NewMemoryQueue(logger.WithField("component", "queue"))
	}

	transport := utils.NewSMTPMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
	)
	tokens := tracking.NewTokenizer(config.AppConfig.TrackingSecret)
	recorder := tracking.NewRecorder(store, clock, logger.WithField("component", "recorder"))

	dispatcher := campaign.NewDispatcher(store, q, config.AppConfig.DispatchPageSize,
		clock, logger.WithField("component", "dispatcher"))
	machine := campaign.NewMachine(store, dispatcher, clock, logger.WithField("component", "machine"))
	invoker := campaign.NewInvoker(logger.WithField("component", "invoker"))
	segmenter := campaign.NewSegmenter(store, dispatcher, clock, logger.WithField("component", "segmenter"))
	pipeline := campaign.NewPipeline(store, transport, tokens,
		config.AppConfig.TrackingBaseURL, config.AppConfig.FromEmail,
		clock, logger.WithField("component", "pipeline"))
	engine := sequence.NewEngine(store, q, transport, config.AppConfig.FromEmail,
		clock, logger.WithField("component", "sequence"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatchWorker := worker.NewDispatchWorker(q, dispatcher, pipeline, segmenter, engine,
		logger.WithField("component", "dispatch_worker"))
	dispatchWorker.RecheckDelay = time.Duration(config.AppConfig.DispatchRequeueSecs) * time.Second
	go dispatchWorker.Start(ctx)

	schedulerWorker := worker.NewSchedulerWorker(config.DB, machine, engine, clock,
		logger.WithField("component", "scheduler"),
		time.Duration(config.AppConfig.SchedulerIntervalMin)*time.Minute)
	go schedulerWorker.Start(ctx)

	replyWorker := worker.NewReplyWorker(config.DB, recorder,
		logger.WithField("component", "reply_worker"),
		config.AppConfig.IMAPHost, config.AppConfig.IMAPPort,
		config.AppConfig.IMAPUsername, config.AppConfig.IMAPPassword,
		time.Duration(config.AppConfig.ReplyPollIntervalMin)*time.Minute)
	go replyWorker.Start(ctx)

	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Deps{
		DB:        config.DB,
		Store:     store,
		Machine:   machine,
		Invoker:   invoker,
		Segmenter: segmenter,
		Engine:    engine,
		Tokens:    tokens,
		Recorder:  recorder,
		Logger:    logger,
	})

	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

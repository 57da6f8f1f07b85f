package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abandonment-service/config"
	"abandonment-service/consumer"
	"abandonment-service/controllers"
	"abandonment-service/database"
	"abandonment-service/generator"
	"abandonment-service/logger"
	"abandonment-service/middleware"
	awspkg "abandonment-service/pkg/aws"
	"abandonment-service/recommender"
	"abandonment-service/repository"
	"abandonment-service/routes"
	"abandonment-service/sanitizer"
	"abandonment-service/sender"
	"abandonment-service/services"
	"abandonment-service/supervisor"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "abandonment-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		zap.NewExample().Fatal("Config load failed", zap.Error(err))
	}

	// CloudWatch (non-fatal)
	var log *zap.Logger
	cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, serviceName)
	if err == nil && cwLogs.IsEnabled() {
		log = logger.InitializeWithWriter(cfg.Env, serviceName, cwLogs)
	} else {
		log = logger.Initialize(cfg.Env, serviceName)
	}
	defer log.Sync()
	if err != nil {
		log.Warn("CloudWatch logs client init failed (non-fatal)", zap.Error(err))
	}

	metricsClient, err := awspkg.NewMetricsClient(ctx)
	if err != nil {
		log.Warn("CloudWatch metrics client init failed (non-fatal)", zap.Error(err))
	}

	// Stores
	pool := database.PoolConfig{
		MaxOpen:     cfg.PostgresMaxOpenConns,
		MaxIdle:     cfg.PostgresMaxIdleConns,
		MaxLifetime: cfg.PostgresConnMaxLifetime,
	}
	if err := database.Connect(ctx, log, cfg.PostgresDSN(), pool); err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error("Database close error", zap.Error(err))
		}
	}()

	var activity repository.ActivityStore
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, idle detection uses the database only", zap.Error(err))
		} else {
			defer client.Close()
			activity = repository.NewRedisActivityStore(client, cfg.ActivityTTL)
		}
	}

	// Core
	san := sanitizer.New(log)
	index := recommender.NewIndex(repository.NewCatalogRepository(database.DB), san, recommender.DefaultPolicy(), log)
	if err := index.Load(ctx); err != nil {
		log.Warn("Initial catalog load failed, will retry each cycle", zap.Error(err))
	}

	tracker := services.NewAbandonmentTracker(
		repository.NewAbandonmentRepository(database.DB),
		repository.NewCartRepository(database.DB),
		activity,
		services.TrackerConfig{
			IdleThreshold:    cfg.IdleThreshold,
			DedupWindow:      cfg.DedupWindow,
			InFlightWindow:   cfg.InFlightWindow,
			ConversionWindow: cfg.ConversionWindow,
		},
		log,
	)

	var textGen services.TextGenerator
	var groq *generator.GroqGenerator
	if cfg.GroqAPIKey != "" {
		genCfg := generator.DefaultConfig()
		genCfg.APIKey = cfg.GroqAPIKey
		genCfg.BaseURL = cfg.GroqBaseURL
		genCfg.Model = cfg.GenerationModel
		genCfg.Temperature = cfg.GenerationTemperature
		genCfg.MaxTokens = cfg.GenerationMaxTokens
		genCfg.TopP = cfg.GenerationTopP
		genCfg.PresencePenalty = cfg.GenerationPenalty
		genCfg.FrequencyPenalty = cfg.GenerationPenalty
		groq, err = generator.NewGroqGenerator(genCfg, log)
		if err != nil {
			log.Fatal("Failed to init text generator", zap.Error(err))
		}
		textGen = groq
	} else {
		log.Warn("GROQ_API_KEY not set, every email uses the fallback copy")
	}

	composer, err := services.NewMessageComposer(index, textGen, san, services.ComposerConfig{
		BaseURL:             cfg.StoreBaseURL,
		StoreName:           cfg.StoreName,
		SupportEmail:        cfg.SupportEmail,
		RecommendationCount: cfg.RecommendationCount,
		GenerationTimeout:   cfg.GenerationTimeout,
		FreeShipping:        cfg.FreeShipping,
		Discounts:           services.DiscountPolicy{Tiers: cfg.DiscountTiers},
	}, log)
	if err != nil {
		log.Fatal("Failed to init message composer", zap.Error(err))
	}

	emailSender, err := newSender(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to init mail sender", zap.Error(err), zap.String("provider", cfg.MailProvider))
	}

	monitor := services.NewMonitor(index, tracker, composer, emailSender, metricsClient, services.MonitorConfig{
		Interval:    cfg.CheckInterval,
		SendTimeout: cfg.SendTimeout,
	}, log)

	// Router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics(metricsClient, serviceName))
	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Timeout(30 * time.Second))

	trackingController := controllers.NewTrackingController(tracker, index, activity, metricsClient, log)
	routes.RegisterRoutes(r, trackingController, routes.Options{
		ServiceSecret: []byte(cfg.ServiceJWTSecret),
		TrackLimiter:  middleware.NewRateLimiter(rate.Limit(cfg.TrackRateLimit), cfg.TrackRateBurst),
		Health: func() gin.H {
			if groq == nil {
				return gin.H{"generator": "disabled"}
			}
			return gin.H{"generator": groq.State()}
		},
	})

	// Supervision
	sup := supervisor.New(log)
	sup.Add(supervisor.NewService("abandonment-monitor", monitor, services.ErrMonitorRunning))
	sup.Add(supervisor.NewHTTPService(&http.Server{Addr: ":" + cfg.Port, Handler: r}, 10*time.Second))

	if cfg.OrderEventsQueueURL != "" {
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("Failed to load AWS config for SQS", zap.Error(err))
		}
		orders, err := consumer.NewOrderEventConsumer(awspkg.NewSQSClient(awsCfg), cfg.OrderEventsQueueURL, tracker, metricsClient, log)
		if err != nil {
			log.Fatal("Failed to init order event consumer", zap.Error(err))
		}
		sup.Add(supervisor.NewService("order-event-consumer", orders))
	}

	log.Info("Abandonment service started",
		zap.String("port", cfg.Port),
		zap.String("mail_provider", cfg.MailProvider),
		zap.Duration("idle_threshold", cfg.IdleThreshold),
		zap.Duration("check_interval", cfg.CheckInterval),
	)

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Supervisor stopped", zap.Error(err))
	}
	log.Info("Abandonment service stopped gracefully")
}

func newSender(ctx context.Context, cfg *config.Config) (sender.EmailSender, error) {
	from := sender.Identity{Address: cfg.FromAddress, Name: cfg.FromName}
	switch cfg.MailProvider {
	case config.MailProviderResend:
		return sender.NewResendSender(cfg.ResendAPIKey, from)
	case config.MailProviderSNS:
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return sender.NewSNSSender(awspkg.NewSNSClient(awsCfg), cfg.AbandonmentTopicARN)
	default:
		return sender.NewSMTPSender(sender.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		})
	}
}

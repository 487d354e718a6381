package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-tracker/internal/api"
	"github.com/ignite/outreach-tracker/internal/awsutil"
	"github.com/ignite/outreach-tracker/internal/composer"
	"github.com/ignite/outreach-tracker/internal/config"
	"github.com/ignite/outreach-tracker/internal/pkg/distlock"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/pkg/ratelimit"
	"github.com/ignite/outreach-tracker/internal/repository"
	"github.com/ignite/outreach-tracker/internal/sendgrid"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/dispatch"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/service/reply"
	"github.com/ignite/outreach-tracker/internal/service/sending"
	"github.com/ignite/outreach-tracker/internal/service/webhook"
	"github.com/ignite/outreach-tracker/internal/ses"
	"github.com/ignite/outreach-tracker/internal/storage"
	"github.com/ignite/outreach-tracker/internal/tracking"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsutil.Load(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	stores, err := repository.Open(ctx, cfg.Database, cfg.DynamoDB.Table, awsCfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer stores.Close()

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable; dispatch locks will fail until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		pingCancel()
	}
	locks := distlock.NewFactory(redisClient, stores.DB, cfg.Dispatch.LockTTL())

	m := metrics.Default

	campaigns := campaign.NewService(stores.Campaigns)
	recipients := recipient.NewService(stores.Recipients, campaigns).WithMetrics(m)

	comp := composer.New(composer.Config{
		TrackingBaseURL: cfg.Tracking.BaseURL,
		MessageDomain:   cfg.Tracking.MessageDomain,
	})
	dispatcher := dispatch.NewService(dispatch.Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		BatchDelay:  cfg.Dispatch.BatchDelay(),
		SendTimeout: cfg.Dispatch.SendTimeout(),
	}, campaigns, recipients, comp, newSender(cfg, awsCfg), locks).WithMetrics(m)

	webhooks := webhook.NewService(webhook.Config{
		Timeout:          cfg.Webhook.Timeout(),
		AllowedTopicARNs: cfg.Webhook.AllowedTopicARNs,
	}, ses.NewSubscriptionConfirmerFromConfig(awsCfg), recipients).WithMetrics(m)

	archive, err := newArchive(cfg.Archive, awsCfg)
	if err != nil {
		log.Fatalf("Failed to initialize reply archive: %v", err)
	}
	replies := reply.NewService(stores.Replies, recipients, archive).WithMetrics(m)

	sink, drain := newTrackingSink(cfg, awsCfg, recipients)
	track := tracking.NewHandler(sink).WithMetrics(m)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if n := limiter.Cleanup(now); n > 0 {
						logger.Debug("rate limiter visitors evicted", "count", n)
					}
				}
			}
		}()
	}

	handlers := api.NewHandlers(campaigns, recipients, dispatcher, webhooks, replies)
	router := api.NewRouter(api.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		Limiter:     limiter,
		Metrics:     m,
	}, handlers, track, api.NewHealthChecker(stores.DB, redisClient, stores.Backend))
	server := api.NewServer(cfg.Server, router)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr(), "provider", cfg.Provider,
			"store", stores.Backend, "tracking_sink", cfg.Tracking.Sink)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	drain()
	logger.Info("server stopped")
}

func newSender(cfg *config.Config, awsCfg aws.Config) sending.Sender {
	switch cfg.Provider {
	case "sendgrid":
		logger.Info("mail provider: sendgrid")
		return sendgrid.NewSenderWithKey(cfg.SendGrid.APIKey)
	default:
		logger.Info("mail provider: ses", "configuration_set", cfg.SES.ConfigurationSet)
		return ses.NewSenderFromConfig(awsCfg, cfg.SES.ConfigurationSet)
	}
}

// newArchive returns nil when archiving is off; reply.Service accepts that.
func newArchive(cfg config.ArchiveConfig, awsCfg aws.Config) (reply.Archiver, error) {
	switch {
	case cfg.Bucket != "":
		logger.Info("archiving inbound replies to S3", "bucket", cfg.Bucket, "prefix", cfg.Prefix)
		return storage.NewS3ArchiveFromConfig(awsCfg, cfg.Bucket, cfg.Prefix), nil
	case cfg.LocalPath != "":
		a, err := storage.NewLocalArchive(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("local archive %s: %w", cfg.LocalPath, err)
		}
		logger.Info("archiving inbound replies locally", "path", cfg.LocalPath)
		return a, nil
	}
	return nil, nil
}

// newTrackingSink returns the sink for pixel and click hits plus a drain
// func that waits for in-flight publishes at shutdown.
func newTrackingSink(cfg *config.Config, awsCfg aws.Config, recipients *recipient.Service) (tracking.EventSink, func()) {
	if cfg.Tracking.Sink == "sqs" {
		pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.SQS.TrackingQueueURL, cfg.Tracking.Timeout())
		return pub, pub.Wait
	}
	sink := tracking.NewDirectSink(tracking.NewProcessor(recipients), cfg.Tracking.Timeout())
	return sink, sink.Wait
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/outreach-tracker/internal/awsutil"
	"github.com/ignite/outreach-tracker/internal/config"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/repository"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/tracking"
)

// The worker drains the tracking queue filled by cmd/tracking and applies
// opens and clicks to the record store.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.SQS.TrackingQueueURL == "" {
		log.Fatal("TRACKING_QUEUE_URL is required")
	}
	if cfg.Database.Backend == "memory" {
		log.Fatal("the worker needs a shared store; set STORE_BACKEND to postgres or dynamodb")
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsutil.Load(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	stores, err := repository.Open(ctx, cfg.Database, cfg.DynamoDB.Table, awsCfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer stores.Close()

	campaigns := campaign.NewService(stores.Campaigns)
	recipients := recipient.NewService(stores.Recipients, campaigns).WithMetrics(metrics.Default)

	consumer := tracking.NewConsumer(sqs.NewFromConfig(awsCfg), tracking.ConsumerConfig{
		QueueURL:        cfg.SQS.TrackingQueueURL,
		WaitTimeSeconds: int32(cfg.SQS.WaitTimeSeconds),
		MaxMessages:     int32(cfg.SQS.MaxMessages),
		ErrorBackoff:    5 * time.Second,
	}, tracking.NewProcessor(recipients))
	consumer.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking worker")
	consumer.Stop()
	cancel()
}

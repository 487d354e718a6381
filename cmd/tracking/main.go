package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/outreach-tracker/internal/awsutil"
	"github.com/ignite/outreach-tracker/internal/config"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/tracking"
)

// The edge tracking service answers pixels and redirects without touching
// the record store; hits go to SQS for cmd/worker.
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
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	awsCfg, err := awsutil.Load(context.Background(), cfg.AWS)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.SQS.TrackingQueueURL, cfg.Tracking.Timeout())
	handler := tracking.NewHandler(pub)

	routes := handler.Routes()
	routes.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      metrics.Default.Middleware(routes),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr, "queue", cfg.SQS.TrackingQueueURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("tracking shutdown error", "error", err)
	}
	pub.Wait()
}

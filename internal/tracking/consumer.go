package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

// QueueAPI is the subset of *sqs.Client used by Consumer.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ConsumerConfig tunes long polling.
type ConsumerConfig struct {
	QueueURL        string
	WaitTimeSeconds int32
	MaxMessages     int32
	ErrorBackoff    time.Duration
}

// Consumer drains the tracking queue and applies each event.
type Consumer struct {
	api  QueueAPI
	cfg  ConsumerConfig
	proc *Processor
	done chan struct{}
	stop sync.Once
}

// NewConsumer creates a consumer.
func NewConsumer(api QueueAPI, cfg ConsumerConfig, proc *Processor) *Consumer {
	if cfg.WaitTimeSeconds <= 0 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Consumer{api: api, cfg: cfg, proc: proc, done: make(chan struct{})}
}

// Start polls in the background until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	logger.Info("SQS tracking consumer started", "queue", c.cfg.QueueURL)
	go c.poll(ctx)
}

// Stop ends polling after the current receive returns. It is safe to call
// more than once.
func (c *Consumer) Stop() {
	c.stop.Do(func() { close(c.done) })
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.receive(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("SQS receive error", "error", err)
			select {
			case <-time.After(c.cfg.ErrorBackoff):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

// receive handles one batch. Undecodable messages are deleted; messages
// whose processing failed stay on the queue for redelivery.
func (c *Consumer) receive(ctx context.Context) error {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
	})
	if err != nil {
		return err
	}

	for _, msg := range out.Messages {
		var evt domain.TrackingEvent
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil || !correlation.Valid(evt.CorrelationID) {
			logger.Warn("SQS bad tracking message dropped", "message_id", aws.ToString(msg.MessageId))
			c.delete(ctx, msg.ReceiptHandle)
			continue
		}
		if err := c.proc.Process(ctx, evt); err != nil {
			logger.Warn("SQS tracking event failed, leaving for redelivery", "event", evt.EventType, "error", err)
			continue
		}
		c.delete(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("SQS delete failed", "error", err)
	}
}

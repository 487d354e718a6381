package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

// SendMessageAPI is the subset of *sqs.Client used by Publisher.
type SendMessageAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher is an EventSink that enqueues events on SQS for the worker.
type Publisher struct {
	client   SendMessageAPI
	queueURL string
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewPublisher creates a publisher. A zero timeout defaults to 5s.
func NewPublisher(client SendMessageAPI, queueURL string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, queueURL: queueURL, timeout: timeout}
}

// Publish sends evt asynchronously. Failures are logged; the request that
// produced the event has already been answered.
func (p *Publisher) Publish(ctx context.Context, evt domain.TrackingEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshal tracking event", "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publishing tracking event to SQS", "event", evt.EventType,
				"correlation_id", evt.CorrelationID, "error", err)
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/repository/memory"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
)

func newRecipients(t *testing.T) *recipient.Service {
	t.Helper()
	svc := recipient.NewService(memory.NewRecipientRepo(), nil).WithMetrics(metrics.New(prometheus.NewRegistry()))
	_, err := svc.Register(context.Background(), "seed", "lp@fund.example", testID)
	require.NoError(t, err)
	_, err = svc.MarkSent(context.Background(), testID, "ses-1")
	require.NoError(t, err)
	return svc
}

func TestDirectSink_AppliesOpenOnce(t *testing.T) {
	recipients := newRecipients(t)
	sink := NewDirectSink(NewProcessor(recipients), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		sink.Publish(ctx, domain.TrackingEvent{EventType: domain.EventOpen, CorrelationID: testID})
	}
	// The request context going away must not abort background work.
	cancel()
	sink.Wait()

	rec, err := recipients.Get(context.Background(), testID)
	require.NoError(t, err)
	assert.True(t, rec.Opened)
}

func TestDirectSink_ClicksAccumulate(t *testing.T) {
	recipients := newRecipients(t)
	sink := NewDirectSink(NewProcessor(recipients), time.Second)
	for i := 0; i < 3; i++ {
		sink.Publish(context.Background(), domain.TrackingEvent{EventType: domain.EventClick, CorrelationID: testID})
	}
	sink.Wait()

	rec, _ := recipients.Get(context.Background(), testID)
	assert.Equal(t, 3, rec.Clicks)
}

func TestProcessor_UnknownRecipientDropped(t *testing.T) {
	p := NewProcessor(newRecipients(t))
	err := p.Process(context.Background(), domain.TrackingEvent{
		EventType:     domain.EventOpen,
		CorrelationID: "0b7a7c1e-0000-4000-8000-000000000000",
	})
	assert.NoError(t, err)
}

type fakeQueue struct {
	mu       sync.Mutex
	sent     []string
	batches  [][]types.Message
	deleted  []string
	sendErr  error
	received int
}

func (q *fakeQueue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return nil, q.sendErr
	}
	q.sent = append(q.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (q *fakeQueue) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.received >= len(q.batches) {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	b := q.batches[q.received]
	q.received++
	return &sqs.ReceiveMessageOutput{Messages: b}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestPublisher_SendsJSON(t *testing.T) {
	q := &fakeQueue{}
	p := NewPublisher(q, "https://sqs.us-east-1.amazonaws.com/1/tracking", time.Second)
	p.Publish(context.Background(), domain.TrackingEvent{EventType: domain.EventClick, CorrelationID: testID, URL: "https://deck.example"})
	p.Wait()

	require.Len(t, q.sent, 1)
	var evt domain.TrackingEvent
	require.NoError(t, json.Unmarshal([]byte(q.sent[0]), &evt))
	assert.Equal(t, domain.EventClick, evt.EventType)
	assert.Equal(t, "https://deck.example", evt.URL)
}

func TestPublisher_ErrorIsSwallowed(t *testing.T) {
	q := &fakeQueue{sendErr: errors.New("throttled")}
	p := NewPublisher(q, "q", time.Second)
	p.Publish(context.Background(), domain.TrackingEvent{EventType: domain.EventOpen, CorrelationID: testID})
	p.Wait()
	assert.Empty(t, q.sent)
}

func message(handle, body string) types.Message {
	return types.Message{ReceiptHandle: aws.String(handle), Body: aws.String(body), MessageId: aws.String(handle)}
}

func TestConsumer_Receive(t *testing.T) {
	recipients := newRecipients(t)
	open, _ := json.Marshal(domain.TrackingEvent{EventType: domain.EventOpen, CorrelationID: testID})
	q := &fakeQueue{batches: [][]types.Message{{
		message("h-open", string(open)),
		message("h-bad", "{not json"),
		message("h-noid", `{"event_type":"open"}`),
	}}}
	c := NewConsumer(q, ConsumerConfig{QueueURL: "q"}, NewProcessor(recipients))

	require.NoError(t, c.receive(context.Background()))
	assert.ElementsMatch(t, []string{"h-open", "h-bad", "h-noid"}, q.deleted)

	rec, _ := recipients.Get(context.Background(), testID)
	assert.True(t, rec.Opened)
}

func TestConsumer_QueuedOpenKeepsEventTime(t *testing.T) {
	recipients := newRecipients(t)
	openedAt := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second)
	open, _ := json.Marshal(domain.TrackingEvent{EventType: domain.EventOpen, CorrelationID: testID, Timestamp: openedAt})
	q := &fakeQueue{batches: [][]types.Message{{message("h-open", string(open))}}}
	c := NewConsumer(q, ConsumerConfig{QueueURL: "q"}, NewProcessor(recipients))

	require.NoError(t, c.receive(context.Background()))

	rec, err := recipients.Get(context.Background(), testID)
	require.NoError(t, err)
	require.NotNil(t, rec.OpenedAt)
	assert.True(t, openedAt.Equal(*rec.OpenedAt), "openedAt %v, want %v", rec.OpenedAt, openedAt)
}

type failingTransitions struct{}

func (failingTransitions) ApplyAt(context.Context, string, domain.Transition, time.Time) (*recipient.Outcome, error) {
	return nil, errors.New("database unavailable")
}

func TestConsumer_FailedEventStaysQueued(t *testing.T) {
	open, _ := json.Marshal(domain.TrackingEvent{EventType: domain.EventOpen, CorrelationID: testID})
	q := &fakeQueue{batches: [][]types.Message{{message("h-open", string(open))}}}
	c := NewConsumer(q, ConsumerConfig{QueueURL: "q"}, NewProcessor(failingTransitions{}))

	require.NoError(t, c.receive(context.Background()))
	assert.Empty(t, q.deleted)
}

func TestConsumer_StartStop(t *testing.T) {
	q := &fakeQueue{}
	c := NewConsumer(q, ConsumerConfig{QueueURL: "q"}, NewProcessor(failingTransitions{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	c.Stop()
}

func TestConsumer_StopTwice(t *testing.T) {
	c := NewConsumer(&fakeQueue{}, ConsumerConfig{QueueURL: "q"}, NewProcessor(failingTransitions{}))
	c.Start(context.Background())
	c.Stop()
	assert.NotPanics(t, c.Stop)
}

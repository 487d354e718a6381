package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
)

const testID = "6f1c1f7e-3c43-4a4b-9d7e-1f0f3b1d2a11"

// fakeAPI returns scripted responses and records the inputs it saw.
type fakeAPI struct {
	getItem   map[string]types.AttributeValue
	updateOut map[string]types.AttributeValue
	updateErr error
	putErr    error
	txErr     error
	pages     [][]map[string]types.AttributeValue

	updates []*dynamodb.UpdateItemInput
	puts    []*dynamodb.PutItemInput
	txs     []*dynamodb.TransactWriteItemsInput
	queries []*dynamodb.QueryInput
}

func (f *fakeAPI) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{Attributes: f.updateOut}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	n := len(f.queries) - 1
	out := &dynamodb.QueryOutput{}
	if n < len(f.pages) {
		out.Items = f.pages[n]
	}
	if n+1 < len(f.pages) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "next"}}
	}
	return out, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txs = append(f.txs, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func marshalRecipient(t *testing.T, rec domain.RecipientRecord) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(recipientItem{PK: recipientPK(rec.CorrelationID), SK: "STATE", RecipientRecord: rec})
	require.NoError(t, err)
	return av
}

func TestConditionalUpdateOpened(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{updateOut: marshalRecipient(t, domain.RecipientRecord{
		CorrelationID: testID, CampaignID: "c1", Status: domain.RecipientSent, Opened: true, OpenedAt: &at,
	})}
	repo := NewStore(api, "outreach").Recipients()

	rec, applied, err := repo.ConditionalUpdate(context.Background(), testID,
		recipient.Update{Transition: domain.TransitionOpened, At: at})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, rec.OpenedAt)
	assert.True(t, rec.OpenedAt.Equal(at))

	require.Len(t, api.updates, 1)
	in := api.updates[0]
	assert.Equal(t, "attribute_exists(PK) AND opened = :false", aws.ToString(in.ConditionExpression))
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	assert.Contains(t, in.ExpressionAttributeValues, ":at")
	assert.Contains(t, in.ExpressionAttributeValues, ":true")
	assert.Nil(t, in.ExpressionAttributeNames)
}

func TestConditionalUpdateSentAddsProviderID(t *testing.T) {
	api := &fakeAPI{updateOut: marshalRecipient(t, domain.RecipientRecord{CorrelationID: testID, Status: domain.RecipientSent})}
	repo := NewStore(api, "outreach").Recipients()

	_, applied, err := repo.ConditionalUpdate(context.Background(), testID,
		recipient.Update{Transition: domain.TransitionSent, At: time.Now(), ProviderMessageID: "ses-1"})
	require.NoError(t, err)
	assert.True(t, applied)

	in := api.updates[0]
	assert.Contains(t, aws.ToString(in.UpdateExpression), "provider_message_id = :pmid")
	assert.Equal(t, map[string]string{"#status": "status"}, in.ExpressionAttributeNames)
	assert.Equal(t, "attribute_exists(PK) AND #status = :pending", aws.ToString(in.ConditionExpression))
}

func TestConditionalUpdatePreconditionFailed(t *testing.T) {
	api := &fakeAPI{
		updateErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")},
		getItem:   marshalRecipient(t, domain.RecipientRecord{CorrelationID: testID, Status: domain.RecipientBounced}),
	}
	repo := NewStore(api, "outreach").Recipients()

	rec, applied, err := repo.ConditionalUpdate(context.Background(), testID,
		recipient.Update{Transition: domain.TransitionDelivered, At: time.Now()})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.RecipientBounced, rec.Status)
}

func TestConditionalUpdateMissingRecord(t *testing.T) {
	api := &fakeAPI{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")}}
	repo := NewStore(api, "outreach").Recipients()

	_, _, err := repo.ConditionalUpdate(context.Background(), testID,
		recipient.Update{Transition: domain.TransitionClicked, At: time.Now()})
	assert.ErrorIs(t, err, recipient.ErrNotFound)
}

func TestCreateRecipientDuplicate(t *testing.T) {
	api := &fakeAPI{txErr: &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}}
	repo := NewStore(api, "outreach").Recipients()

	err := repo.Create(context.Background(), &domain.RecipientRecord{
		CorrelationID: testID, CampaignID: "c1", Email: "partner@fund.vc", Status: domain.RecipientPending,
	})
	assert.ErrorIs(t, err, recipient.ErrDuplicate)
	require.Len(t, api.txs, 1)
	require.Len(t, api.txs[0].TransactItems, 2)
	guard := api.txs[0].TransactItems[1].Put.Item
	assert.Equal(t, &types.AttributeValueMemberS{Value: "EMAIL#partner@fund.vc"}, guard["SK"])
}

func TestCreateRecipientTransactionConflictIsRetryable(t *testing.T) {
	api := &fakeAPI{txErr: &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
			{Code: aws.String("None")},
		},
	}}
	repo := NewStore(api, "outreach").Recipients()

	err := repo.Create(context.Background(), &domain.RecipientRecord{
		CorrelationID: testID, CampaignID: "c1", Email: "partner@fund.vc", Status: domain.RecipientPending,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, recipient.ErrDuplicate)
	var tx *types.TransactionCanceledException
	assert.ErrorAs(t, err, &tx)
}

func TestListByCampaignPaginates(t *testing.T) {
	api := &fakeAPI{pages: [][]map[string]types.AttributeValue{
		{marshalRecipient(t, domain.RecipientRecord{CorrelationID: "a", Email: "a@x.io", Status: domain.RecipientSent})},
		{marshalRecipient(t, domain.RecipientRecord{CorrelationID: "b", Email: "b@x.io", Status: domain.RecipientPending})},
	}}
	repo := NewStore(api, "outreach").Recipients()

	all, total, err := repo.ListByCampaign(context.Background(), "c1", recipient.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)
	assert.Len(t, api.queries, 2)
	assert.Equal(t, gsi1, aws.ToString(api.queries[0].IndexName))
}

func TestIncrementCounterMissingCampaign(t *testing.T) {
	api := &fakeAPI{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")}}
	repo := NewStore(api, "outreach").Campaigns()

	err := repo.IncrementCounter(context.Background(), "c1", domain.CounterReplied, 1)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	in := api.updates[0]
	assert.Equal(t, "ADD #c :n", aws.ToString(in.UpdateExpression))
	assert.Equal(t, "replied_count", in.ExpressionAttributeNames["#c"])
}

func TestSaveReplyDuplicate(t *testing.T) {
	api := &fakeAPI{putErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")}}
	repo := NewStore(api, "outreach").Replies()

	inserted, err := repo.Save(context.Background(), &domain.ReplyRecord{ID: "r1", InboundMessageID: "in-1", CorrelationID: testID})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCampaignRoundTrip(t *testing.T) {
	api := &fakeAPI{}
	repo := NewStore(api, "outreach").Campaigns()
	c := &domain.Campaign{ID: "c1", Subject: "Hi", CreatedAt: time.Now().UTC()}
	c.SentCount = 4

	require.NoError(t, repo.Create(context.Background(), c))
	require.Len(t, api.puts, 1)

	api.getItem = api.puts[0].Item
	got, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Hi", got.Subject)
	assert.Equal(t, 4, got.SentCount)
}

package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// API is the subset of *dynamodb.Client used by the repositories.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const gsi1 = "GSI1"

// Store bundles the client and table name shared by the repositories.
type Store struct {
	api   API
	table string
}

// NewStore wraps a DynamoDB client bound to one table.
func NewStore(api API, table string) *Store {
	return &Store{api: api, table: table}
}

// Campaigns returns the campaign repository on this table.
func (s *Store) Campaigns() *CampaignRepo { return &CampaignRepo{s} }

// Recipients returns the recipient repository on this table.
func (s *Store) Recipients() *RecipientRepo { return &RecipientRepo{s} }

// Replies returns the reply repository on this table.
func (s *Store) Replies() *ReplyRepo { return &ReplyRepo{s} }

func campaignPK(id string) string     { return "CAMPAIGN#" + id }
func recipientPK(id string) string    { return "RECIPIENT#" + id }
func replyPK(inboundID string) string { return "REPLY#" + inboundID }

// conditionFailed reports a failed ConditionExpression, either on a single
// write or as a cancellation reason of a transaction. A transaction
// cancelled for any other reason (conflict, throttling) is not a condition
// failure and stays retryable.
func conditionFailed(err error) bool {
	var tx *types.TransactionCanceledException
	if errors.As(err, &tx) {
		for _, r := range tx.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

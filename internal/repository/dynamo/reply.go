package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// ReplyRepo implements reply.Repository on DynamoDB.
type ReplyRepo struct{ s *Store }

type replyItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	domain.ReplyRecord
}

// Save is keyed on the inbound message id, so a redelivered reply fails
// the attribute_not_exists condition and reports inserted=false.
func (r *ReplyRepo) Save(ctx context.Context, rec *domain.ReplyRecord) (bool, error) {
	av, err := attributevalue.MarshalMap(replyItem{
		PK:          replyPK(rec.InboundMessageID),
		SK:          "REPLY",
		GSI1PK:      recipientPK(rec.CorrelationID),
		GSI1SK:      "REPLY#" + rec.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		ReplyRecord: *rec,
	})
	if err != nil {
		return false, fmt.Errorf("marshal reply: %w", err)
	}
	_, err = r.s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save reply: %w", err)
	}
	return true, nil
}

func (r *ReplyRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.ReplyRecord, error) {
	items, err := queryAll(ctx, r.s, &dynamodb.QueryInput{
		TableName:              aws.String(r.s.table),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: recipientPK(correlationID)},
			":prefix": &types.AttributeValueMemberS{Value: "REPLY#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	out := make([]domain.ReplyRecord, 0, len(items))
	for _, it := range items {
		var item replyItem
		if err := attributevalue.UnmarshalMap(it, &item); err != nil {
			return nil, fmt.Errorf("unmarshal reply: %w", err)
		}
		out = append(out, item.ReplyRecord)
	}
	return out, nil
}

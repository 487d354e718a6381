package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository on DynamoDB.
type CampaignRepo struct{ s *Store }

type campaignItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	domain.Campaign
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	out, err := r.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: campaignPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if out.Item == nil {
		return nil, campaign.ErrNotFound
	}
	var item campaignItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal campaign: %w", err)
	}
	return &item.Campaign, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	items, err := queryAll(ctx, r.s, &dynamodb.QueryInput{
		TableName:              aws.String(r.s.table),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "CAMPAIGNS"},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	var out []domain.Campaign
	for _, it := range items {
		var item campaignItem
		if err := attributevalue.UnmarshalMap(it, &item); err != nil {
			return nil, 0, fmt.Errorf("unmarshal campaign: %w", err)
		}
		out = append(out, item.Campaign)
	}
	return pageOf(out, f.Offset, f.Limit), len(out), nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	av, err := attributevalue.MarshalMap(campaignItem{
		PK:       campaignPK(c.ID),
		SK:       "META",
		GSI1PK:   "CAMPAIGNS",
		GSI1SK:   c.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + "#" + c.ID,
		Campaign: *c,
	})
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	_, err = r.s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if conditionFailed(err) {
		return campaign.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("put campaign: %w", err)
	}
	return nil
}

// IncrementCounter uses ADD, which DynamoDB applies atomically.
func (r *CampaignRepo) IncrementCounter(ctx context.Context, id string, counter domain.Counter, n int) error {
	if !counter.Valid() {
		return campaign.ErrInvalidCounter
	}
	_, err := r.s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: campaignPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:         aws.String("ADD #c :n"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#c": string(counter)},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberN{Value: strconv.Itoa(n)},
		},
	})
	if conditionFailed(err) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	return nil
}

func queryAll(ctx context.Context, s *Store, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewQueryPaginator(s.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

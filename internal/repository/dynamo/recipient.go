package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
)

// RecipientRepo implements recipient.Repository on DynamoDB.
type RecipientRepo struct{ s *Store }

type recipientItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	domain.RecipientRecord
}

// transitionExpr holds the update, condition and constant placeholders per
// transition. Every condition also requires the item to exist so
// UpdateItem never creates a record.
var transitionExpr = map[domain.Transition]struct {
	update, condition string
	values            []string
}{
	domain.TransitionSent: {
		update:    "SET #status = :sent, updated_at = :at",
		condition: "#status = :pending",
		values:    []string{":sent", ":pending"},
	},
	domain.TransitionDelivered: {
		update:    "SET #status = :delivered, delivered = :true, updated_at = :at",
		condition: "#status = :sent",
		values:    []string{":delivered", ":true", ":sent"},
	},
	domain.TransitionBounced: {
		update:    "SET #status = :bounced, updated_at = :at",
		condition: "#status IN (:sent, :delivered)",
		values:    []string{":bounced", ":sent", ":delivered"},
	},
	domain.TransitionComplained: {
		update:    "SET #status = :complained, updated_at = :at",
		condition: "#status <> :complained",
		values:    []string{":complained"},
	},
	domain.TransitionOpened: {
		update:    "SET opened = :true, opened_at = :at, updated_at = :at",
		condition: "opened = :false",
		values:    []string{":true", ":false"},
	},
	domain.TransitionClicked: {
		update: "SET clicks = clicks + :one, last_clicked_at = :at, updated_at = :at",
		values: []string{":one"},
	},
	domain.TransitionReplied: {
		update:    "SET replied = :true, last_reply_at = :at, updated_at = :at",
		condition: "replied = :false",
		values:    []string{":true", ":false"},
	},
}

func recipientKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: recipientPK(id)},
		"SK": &types.AttributeValueMemberS{Value: "STATE"},
	}
}

// Create writes the record and its (campaign, email) guard in one
// transaction; either existing key cancels both.
func (r *RecipientRepo) Create(ctx context.Context, rec *domain.RecipientRecord) error {
	av, err := attributevalue.MarshalMap(recipientItem{
		PK:              recipientPK(rec.CorrelationID),
		SK:              "STATE",
		GSI1PK:          campaignPK(rec.CampaignID),
		GSI1SK:          "RECIPIENT#" + rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + "#" + rec.Email,
		RecipientRecord: *rec,
	})
	if err != nil {
		return fmt.Errorf("marshal recipient: %w", err)
	}
	_, err = r.s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.s.table),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(r.s.table),
				Item: map[string]types.AttributeValue{
					"PK":             &types.AttributeValueMemberS{Value: campaignPK(rec.CampaignID)},
					"SK":             &types.AttributeValueMemberS{Value: "EMAIL#" + rec.Email},
					"correlation_id": &types.AttributeValueMemberS{Value: rec.CorrelationID},
				},
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if conditionFailed(err) {
		return recipient.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create recipient: %w", err)
	}
	return nil
}

func (r *RecipientRepo) Get(ctx context.Context, correlationID string) (*domain.RecipientRecord, error) {
	out, err := r.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.s.table),
		Key:            recipientKey(correlationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	if out.Item == nil {
		return nil, recipient.ErrNotFound
	}
	return unmarshalRecipient(out.Item)
}

func (r *RecipientRepo) ConditionalUpdate(ctx context.Context, correlationID string, u recipient.Update) (*domain.RecipientRecord, bool, error) {
	expr, ok := transitionExpr[u.Transition]
	if !ok {
		return nil, false, recipient.ErrInvalidTransition
	}
	at, err := attributevalue.Marshal(u.At)
	if err != nil {
		return nil, false, fmt.Errorf("marshal time: %w", err)
	}

	update := expr.update
	condition := "attribute_exists(PK)"
	if expr.condition != "" {
		condition += " AND " + expr.condition
	}
	values := map[string]types.AttributeValue{":at": at}
	for _, name := range expr.values {
		values[name] = constants[name]
	}
	var names map[string]string
	if strings.Contains(update, "#status") {
		names = map[string]string{"#status": "status"}
	}
	if u.Transition == domain.TransitionSent && u.ProviderMessageID != "" {
		update += ", provider_message_id = :pmid"
		values[":pmid"] = &types.AttributeValueMemberS{Value: u.ProviderMessageID}
	}

	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.s.table),
		Key:                       recipientKey(correlationID),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if names != nil {
		in.ExpressionAttributeNames = names
	}

	out, err := r.s.api.UpdateItem(ctx, in)
	if conditionFailed(err) {
		// Precondition failed or the record doesn't exist; Get tells which.
		current, err := r.Get(ctx, correlationID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update recipient %s: %w", u.Transition, err)
	}
	rec, err := unmarshalRecipient(out.Attributes)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (r *RecipientRepo) ListByCampaign(ctx context.Context, campaignID string, f recipient.ListFilter) ([]domain.RecipientRecord, int, error) {
	items, err := queryAll(ctx, r.s, &dynamodb.QueryInput{
		TableName:              aws.String(r.s.table),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: campaignPK(campaignID)},
			":prefix": &types.AttributeValueMemberS{Value: "RECIPIENT#"},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	var out []domain.RecipientRecord
	for _, it := range items {
		rec, err := unmarshalRecipient(it)
		if err != nil {
			return nil, 0, err
		}
		if f.Status != "" && string(rec.Status) != f.Status {
			continue
		}
		out = append(out, *rec)
	}
	return pageOf(out, f.Offset, f.Limit), len(out), nil
}

func unmarshalRecipient(av map[string]types.AttributeValue) (*domain.RecipientRecord, error) {
	var item recipientItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal recipient: %w", err)
	}
	return &item.RecipientRecord, nil
}

var constants = map[string]types.AttributeValue{
	":pending":    &types.AttributeValueMemberS{Value: string(domain.RecipientPending)},
	":sent":       &types.AttributeValueMemberS{Value: string(domain.RecipientSent)},
	":delivered":  &types.AttributeValueMemberS{Value: string(domain.RecipientDelivered)},
	":bounced":    &types.AttributeValueMemberS{Value: string(domain.RecipientBounced)},
	":complained": &types.AttributeValueMemberS{Value: string(domain.RecipientComplained)},
	":true":       &types.AttributeValueMemberBOOL{Value: true},
	":false":      &types.AttributeValueMemberBOOL{Value: false},
	":one":        &types.AttributeValueMemberN{Value: "1"},
}

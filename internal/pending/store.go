package pending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
)

// Ledger is the per-buyer pending-purchase record.
type Ledger interface {
	// Get returns (nil, nil) when the buyer is idle.
	Get(ctx context.Context, buyer string) (*Purchase, error)
	// Insert creates the entry only if the buyer has none.
	// Returns (false, nil) if an entry already exists.
	Insert(ctx context.Context, p Purchase) (bool, error)
	// Remove deletes the buyer's entry if it still carries txID.
	Remove(ctx context.Context, buyer string, txID uint64) error
	List(ctx context.Context) ([]Purchase, error)
}

// Store encapsulates pending-purchase operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store bound to tableName (PK buyer_id).
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Insert creates the record only when attribute_not_exists(buyer_id).
func (s *Store) Insert(ctx context.Context, p Purchase) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return false, fmt.Errorf("marshal pending purchase: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(buyer_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves the buyer's pending purchase. If none, returns (nil, nil).
func (s *Store) Get(ctx context.Context, buyer string) (*Purchase, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyer},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Purchase
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &p, nil
}

// Remove deletes the entry guarded by transaction_id = :tx, so a stale
// caller can never clear a newer attempt. A failed guard is not an error.
func (s *Store) Remove(ctx context.Context, buyer string, txID uint64) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyer},
		},
		ConditionExpression: aws.String("transaction_id = :tx"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tx": &types.AttributeValueMemberN{Value: strconv.FormatUint(txID, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// List scans every pending purchase, ordered by buyer.
func (s *Store) List(ctx context.Context) ([]Purchase, error) {
	var out []Purchase
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		var ps []Purchase
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &ps); err != nil {
			return nil, fmt.Errorf("unmarshal pending: %w", err)
		}
		out = append(out, ps...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Buyer < out[j].Buyer })
	return out, nil
}

func isConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

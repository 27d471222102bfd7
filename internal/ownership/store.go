package ownership

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
)

// Registry maps buyers to the item ids they own. Append-only.
type Registry interface {
	Add(ctx context.Context, buyer string, itemID uint32) error
	// Owned returns the buyer's items in ascending order, never nil.
	Owned(ctx context.Context, buyer string) ([]uint32, error)
	All(ctx context.Context) (map[string][]uint32, error)
}

// record is the shape persisted in the owners table.
type record struct {
	Buyer string   `dynamodbav:"buyer_id"` // PK
	Items []uint32 `dynamodbav:"items,numberset"`
}

// Store keeps ownership as a number set per buyer in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Add unions itemID into the buyer's set; repeating it is harmless.
func (s *Store) Add(ctx context.Context, buyer string, itemID uint32) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyer},
		},
		UpdateExpression:         aws.String("ADD #i :item"),
		ExpressionAttributeNames: map[string]string{"#i": "items"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":item": &types.AttributeValueMemberNS{Value: []string{strconv.FormatUint(uint64(itemID), 10)}},
		},
	})
	if err != nil {
		return fmt.Errorf("add owned item: %w", err)
	}
	return nil
}

func (s *Store) Owned(ctx context.Context, buyer string) ([]uint32, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyer},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return []uint32{}, nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal owner: %w", err)
	}
	return sorted(rec.Items), nil
}

func (s *Store) All(ctx context.Context) (map[string][]uint32, error) {
	all := map[string][]uint32{}
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan owners: %w", err)
		}
		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal owners: %w", err)
		}
		for _, r := range recs {
			all[r.Buyer] = sorted(r.Items)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return all, nil
}

func sorted(ids []uint32) []uint32 {
	out := append([]uint32{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package pending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
)

// Sequence issues transaction ids: 0, 1, 2, ... wrapping after math.MaxUint64.
type Sequence interface {
	Next(ctx context.Context) (uint64, error)
	// Peek returns the id the next call to Next will issue.
	Peek(ctx context.Context) (uint64, error)
}

const maxWrapRetries = 5

var maxValue = strconv.FormatUint(math.MaxUint64, 10)

// CounterStore keeps the sequence in a DynamoDB counters table (PK counter_name).
type CounterStore struct {
	client    aws.DynamoDBAPI
	tableName string
	name      string
}

// NewCounterStore binds the sequence to counter name in tableName.
func NewCounterStore(client aws.DynamoDBAPI, tableName, name string) *CounterStore {
	return &CounterStore{client: client, tableName: tableName, name: name}
}

func (c *CounterStore) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"counter_name": &types.AttributeValueMemberS{Value: c.name},
	}
}

// Next atomically returns the stored value and increments it. When the
// stored value is MaxUint64 it is reset to 0 instead.
func (c *CounterStore) Next(ctx context.Context) (uint64, error) {
	for i := 0; i < maxWrapRetries; i++ {
		out, err := c.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                &c.tableName,
			Key:                      c.key(),
			UpdateExpression:         aws.String("SET #v = if_not_exists(#v, :zero) + :one"),
			ConditionExpression:      aws.String("attribute_not_exists(#v) OR #v < :max"),
			ExpressionAttributeNames: map[string]string{"#v": "next_value"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":zero": &types.AttributeValueMemberN{Value: "0"},
				":one":  &types.AttributeValueMemberN{Value: "1"},
				":max":  &types.AttributeValueMemberN{Value: maxValue},
			},
			ReturnValues: types.ReturnValueUpdatedOld,
		})
		if err == nil {
			return parseCounter(out.Attributes)
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("increment counter: %w", err)
		}

		// stored value is MaxUint64: hand it out and wrap to 0
		_, err = c.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                &c.tableName,
			Key:                      c.key(),
			UpdateExpression:         aws.String("SET #v = :zero"),
			ConditionExpression:      aws.String("#v = :max"),
			ExpressionAttributeNames: map[string]string{"#v": "next_value"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":zero": &types.AttributeValueMemberN{Value: "0"},
				":max":  &types.AttributeValueMemberN{Value: maxValue},
			},
		})
		if err == nil {
			return math.MaxUint64, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("wrap counter: %w", err)
		}
		// another writer wrapped first; retry the increment
	}
	return 0, errors.New("counter contention: wrap retries exhausted")
}

func (c *CounterStore) Peek(ctx context.Context) (uint64, error) {
	out, err := c.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &c.tableName,
		Key:            c.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return parseCounter(out.Item)
}

func parseCounter(attrs map[string]types.AttributeValue) (uint64, error) {
	v, ok := attrs["next_value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", v.Value, err)
	}
	return n, nil
}

// MemorySequence is a process-local Sequence.
type MemorySequence struct {
	mu   sync.Mutex
	next uint64
}

// NewMemorySequence starts issuing at start.
func NewMemorySequence(start uint64) *MemorySequence {
	return &MemorySequence{next: start}
}

func (s *MemorySequence) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++ // wraps at MaxUint64
	return id, nil
}

func (s *MemorySequence) Peek(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, nil
}

package purchase

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
)

// Attempt is a purchase left unsettled: its transfer outcome is unknown,
// or it was paid but the grant could not be written. Kept for
// out-of-band reconciliation by transaction id.
type Attempt struct {
	TransactionID uint64    `dynamodbav:"transaction_id" json:"transaction_id"` // PK
	Buyer         string    `dynamodbav:"buyer_id" json:"buyer"`
	ItemID        uint32    `dynamodbav:"item_id" json:"item_id"`
	Amount        uint64    `dynamodbav:"amount" json:"amount"`
	Paid          bool      `dynamodbav:"paid" json:"paid"` // confirmed, ownership not yet granted
	Reason        string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
}

// AttemptLog stores unresolved attempts.
type AttemptLog interface {
	Record(ctx context.Context, a Attempt) error
	// Get returns (nil, nil) when tx is not logged.
	Get(ctx context.Context, tx uint64) (*Attempt, error)
	Delete(ctx context.Context, tx uint64) error
	List(ctx context.Context) ([]Attempt, error)
}

// AttemptStore is the DynamoDB AttemptLog (PK transaction_id).
type AttemptStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewAttemptStore(client aws.DynamoDBAPI, tableName string) *AttemptStore {
	return &AttemptStore{client: client, tableName: tableName}
}

func txKey(tx uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"transaction_id": &types.AttributeValueMemberN{Value: strconv.FormatUint(tx, 10)},
	}
}

func (s *AttemptStore) Record(ctx context.Context, a Attempt) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, tx uint64) (*Attempt, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            txKey(tx),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var a Attempt
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return &a, nil
}

func (s *AttemptStore) Delete(ctx context.Context, tx uint64) error {
	if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{TableName: &s.tableName, Key: txKey(tx)}); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) List(ctx context.Context) ([]Attempt, error) {
	var out []Attempt
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{TableName: &s.tableName, ExclusiveStartKey: startKey})
		if err != nil {
			return nil, fmt.Errorf("scan attempts: %w", err)
		}
		var as []Attempt
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &as); err != nil {
			return nil, fmt.Errorf("unmarshal attempts: %w", err)
		}
		out = append(out, as...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

// MemoryAttempts is a process-local AttemptLog.
type MemoryAttempts struct {
	mu       sync.Mutex
	attempts map[uint64]Attempt
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{attempts: map[uint64]Attempt{}}
}

func (m *MemoryAttempts) Record(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.TransactionID] = a
	return nil
}

func (m *MemoryAttempts) Get(ctx context.Context, tx uint64) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[tx]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryAttempts) Delete(ctx context.Context, tx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, tx)
	return nil
}

func (m *MemoryAttempts) List(ctx context.Context) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

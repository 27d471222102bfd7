// Package testutil holds in-memory AWS doubles shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo is a small in-memory DynamoDB double. It understands only the
// expression shapes the stores in this repo issue:
//
//	attribute_not_exists(a)
//	a = :v
//	attribute_not_exists(a) OR a < :v
//	SET a = :v, b = :w
//	SET a = if_not_exists(a, :z) + :o
//	ADD a :set
//
// Tables are keyed by a single hash attribute registered with Table.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]map[string]types.AttributeValue

	PutCalls    int
	GetCalls    int
	UpdateCalls int
	DeleteCalls int
	ScanCalls   int

	// Err, when set, is returned from every call.
	Err error
}

// NewDynamo returns an empty Dynamo.
func NewDynamo() *Dynamo {
	return &Dynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

// Table registers table with its hash key attribute name.
func (m *Dynamo) Table(name, keyAttr string) *Dynamo {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[name] = keyAttr
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m
}

// Item returns a copy of the stored item, or nil.
func (m *Dynamo) Item(table, key string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of items in table.
func (m *Dynamo) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Seed stores item directly, bypassing conditions.
func (m *Dynamo) Seed(table string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := m.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	m.tables[table][k] = copyItem(item)
}

func (m *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	k, err := m.keyOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	existing := m.tables[table][k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	m.tables[table][k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	k, err := m.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	k, err := m.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := m.tables[table][k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}

	old := copyItem(existing)
	item := copyItem(existing)
	if item == nil {
		item = copyItem(params.Key)
	}
	if params.UpdateExpression == nil {
		return nil, errors.New("missing update expression")
	}
	if err := applyUpdate(*params.UpdateExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	m.tables[table][k] = item

	out := &dyn.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueUpdatedOld, types.ReturnValueAllOld:
		out.Attributes = old
	case types.ReturnValueUpdatedNew, types.ReturnValueAllNew:
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func (m *Dynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	k, err := m.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := m.tables[table][k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	delete(m.tables[table], k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *Dynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScanCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	if _, ok := m.keys[table]; !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	items := make([]map[string]types.AttributeValue, 0, len(m.tables[table]))
	for _, item := range m.tables[table] {
		items = append(items, copyItem(item))
	}
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func (m *Dynamo) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	keyAttr, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	switch v := item[keyAttr].(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	default:
		return "", fmt.Errorf("missing key %q in table %q", keyAttr, table)
	}
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if parts := strings.SplitN(expr, " OR ", 2); len(parts) == 2 {
		left, err := evalCondition(parts[0], item, names, values)
		if err != nil || left {
			return left, err
		}
		return evalCondition(parts[1], item, names, values)
	}
	if strings.HasPrefix(expr, "attribute_not_exists(") && strings.HasSuffix(expr, ")") {
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_not_exists("), ")"), names)
		if item == nil {
			return true, nil
		}
		_, ok := item[attr]
		return !ok, nil
	}
	for _, op := range []string{" = ", " < "} {
		if parts := strings.SplitN(expr, op, 2); len(parts) == 2 {
			attr := resolveName(strings.TrimSpace(parts[0]), names)
			want, ok := values[strings.TrimSpace(parts[1])]
			if !ok {
				return false, fmt.Errorf("missing value %s", parts[1])
			}
			got, ok := item[attr]
			if !ok {
				return false, nil
			}
			cmp, err := compare(got, want)
			if err != nil {
				return false, err
			}
			if op == " = " {
				return cmp == 0, nil
			}
			return cmp < 0, nil
		}
	}
	return false, fmt.Errorf("unsupported condition %q", expr)
}

func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "SET "):
		for _, clause := range splitTopLevel(strings.TrimPrefix(expr, "SET ")) {
			parts := strings.SplitN(clause, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("unsupported set clause %q", clause)
			}
			attr := resolveName(strings.TrimSpace(parts[0]), names)
			rhs := strings.TrimSpace(parts[1])
			if strings.HasPrefix(rhs, "if_not_exists(") {
				// if_not_exists(a, :z) + :o
				inner := rhs[len("if_not_exists("):strings.Index(rhs, ")")]
				args := strings.Split(inner, ",")
				base, ok := item[resolveName(strings.TrimSpace(args[0]), names)]
				if !ok {
					base = values[strings.TrimSpace(args[1])]
				}
				incName := strings.TrimSpace(rhs[strings.Index(rhs, "+")+1:])
				sum, err := addNumbers(base, values[incName])
				if err != nil {
					return err
				}
				item[attr] = sum
				continue
			}
			v, ok := values[rhs]
			if !ok {
				return fmt.Errorf("missing value %s", rhs)
			}
			item[attr] = v
		}
		return nil
	case strings.HasPrefix(expr, "ADD "):
		fields := strings.Fields(strings.TrimPrefix(expr, "ADD "))
		if len(fields) != 2 {
			return fmt.Errorf("unsupported add %q", expr)
		}
		attr := resolveName(fields[0], names)
		add, ok := values[fields[1]].(*types.AttributeValueMemberNS)
		if !ok {
			return fmt.Errorf("ADD supports number sets only")
		}
		set := map[string]bool{}
		var out []string
		if cur, ok := item[attr].(*types.AttributeValueMemberNS); ok {
			for _, v := range cur.Value {
				set[v] = true
				out = append(out, v)
			}
		}
		for _, v := range add.Value {
			if !set[v] {
				set[v] = true
				out = append(out, v)
			}
		}
		item[attr] = &types.AttributeValueMemberNS{Value: out}
		return nil
	}
	return fmt.Errorf("unsupported update %q", expr)
}

// splitTopLevel splits on commas that are not inside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, errors.New("type mismatch")
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, errors.New("type mismatch")
		}
		x, okx := new(big.Int).SetString(av.Value, 10)
		y, oky := new(big.Int).SetString(bv.Value, 10)
		if !okx || !oky {
			return 0, errors.New("invalid number")
		}
		return x.Cmp(y), nil
	}
	return 0, fmt.Errorf("unsupported compare type %T", a)
}

func addNumbers(a, b types.AttributeValue) (types.AttributeValue, error) {
	av, ok1 := a.(*types.AttributeValueMemberN)
	bv, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, errors.New("addition requires numbers")
	}
	x, okx := new(big.Int).SetString(av.Value, 10)
	y, oky := new(big.Int).SetString(bv.Value, 10)
	if !okx || !oky {
		return nil, errors.New("invalid number")
	}
	return &types.AttributeValueMemberN{Value: new(big.Int).Add(x, y).String()}, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }

package ownership

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-attribute-store/internal/testutil"
)

func TestStore_AddOwned(t *testing.T) {
	mock := testutil.NewDynamo().Table("owners", "buyer_id")
	s := NewStore(mock, "owners")
	ctx := context.Background()

	got, err := s.Owned(ctx, "tama-1")
	if err != nil {
		t.Fatalf("Owned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil set, got %#v", got)
	}

	for _, id := range []uint32{3, 1, 3} {
		if err := s.Add(ctx, "tama-1", id); err != nil {
			t.Fatalf("Add(%d) error: %v", id, err)
		}
	}

	raw := mock.Item("owners", "tama-1")
	ns, ok := raw["items"].(*types.AttributeValueMemberNS)
	if !ok || len(ns.Value) != 2 {
		t.Fatalf("expected number set of 2, got %+v", raw["items"])
	}

	got, err = s.Owned(ctx, "tama-1")
	if err != nil {
		t.Fatalf("Owned error: %v", err)
	}
	if !reflect.DeepEqual(got, []uint32{1, 3}) {
		t.Fatalf("expected [1 3], got %v", got)
	}

	if err := s.Add(ctx, "tama-2", 9); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	want := map[string][]uint32{"tama-1": {1, 3}, "tama-2": {9}}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("expected %v, got %v", want, all)
	}
}

func TestStore_AddError(t *testing.T) {
	mock := testutil.NewDynamo().Table("owners", "buyer_id")
	boom := errors.New("boom")
	mock.Err = boom
	s := NewStore(mock, "owners")

	if err := s.Add(context.Background(), "b", 1); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Add(ctx, "b", 2)
	_ = m.Add(ctx, "b", 1)
	_ = m.Add(ctx, "b", 2)

	got, _ := m.Owned(ctx, "b")
	if !reflect.DeepEqual(got, []uint32{1, 2}) {
		t.Fatalf("expected [1 2], got %v", got)
	}
	empty, _ := m.Owned(ctx, "nobody")
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

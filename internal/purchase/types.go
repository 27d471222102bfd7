package purchase

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-attribute-store/internal/catalog"
	"github.com/imrishuroy/go-attribute-store/internal/ledger"
)

// Kind tells the caller which response a purchase call produced.
type Kind string

const (
	// KindSold: the transfer resolved; Success reports whether it was confirmed.
	KindSold Kind = "AttributeSold"
	// KindCompletePrevious: the buyer has a different purchase pending.
	KindCompletePrevious Kind = "CompletePrevTx"
)

// Outcome is the terminal response of one Purchase call.
type Outcome struct {
	Kind          Kind
	Success       bool
	PendingItemID uint32 // set for KindCompletePrevious
	TransactionID uint64
	Result        ledger.Result
}

var (
	// ErrUnknownItem: the requested item is not in the catalog.
	ErrUnknownItem = errors.New("unknown item")
	// ErrMissingBuyer: the call carried no buyer identity.
	ErrMissingBuyer = errors.New("buyer identity required")
)

// Catalog is the read side of the catalog the coordinator prices against.
type Catalog interface {
	Get(ctx context.Context, id catalog.ItemID) (*catalog.Item, error)
}

// Recorder counts purchase outcomes.
type Recorder interface {
	Count(ctx context.Context, name string, dims map[string]string) error
}

// Metric names emitted by the coordinator.
const (
	MetricSucceeded  = "PurchaseSucceeded"
	MetricFailed     = "PurchaseFailed"
	MetricUnresolved = "PurchaseUnresolved"
	MetricSteered    = "PurchaseSteered"
	MetricReconciled = "PurchaseReconciled"
)

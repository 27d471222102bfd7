package pending

import (
	"errors"
	"time"
)

// Purchase marks a buyer's in-flight purchase attempt. At most one exists per buyer.
type Purchase struct {
	Buyer         string    `dynamodbav:"buyer_id" json:"buyer"` // PK
	TransactionID uint64    `dynamodbav:"transaction_id" json:"transaction_id"`
	ItemID        uint32    `dynamodbav:"item_id" json:"item_id"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
}

// ErrConditionFailed indicates a conditional write failed (e.g., attribute_not_exists)
var ErrConditionFailed = errors.New("conditional check failed")

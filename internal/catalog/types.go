package catalog

import (
	"errors"
	"time"
)

// ItemID identifies a catalog item.
type ItemID = uint32

// Metadata is the immutable description of an item.
type Metadata struct {
	Title       string `dynamodbav:"title" json:"title"`             // e.g. "Weapon"
	Description string `dynamodbav:"description" json:"description"` // free text
	Media       string `dynamodbav:"media" json:"media"`             // URL of the item picture
}

// Item is the shape persisted in the items DynamoDB table.
type Item struct {
	ID        ItemID    `dynamodbav:"item_id" json:"item_id"` // PK
	Metadata  Metadata  `dynamodbav:"metadata" json:"metadata"`
	Price     uint64    `dynamodbav:"price" json:"price"` // smallest token unit
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

// ItemCreated is emitted once per successful CreateItem.
type ItemCreated struct {
	Event  string `json:"event"`
	ItemID ItemID `json:"item_id"`
}

const EventItemCreated = "ItemCreated"

var (
	// ErrUnauthorized is returned when a non-administrator mutates the catalog.
	ErrUnauthorized = errors.New("only the administrator can create items")
	// ErrDuplicateItem is returned when the item id is already taken.
	ErrDuplicateItem = errors.New("item with that id already exists")
)

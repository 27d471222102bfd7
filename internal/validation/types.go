package validation

// CreateItemRequest is the payload for POST /items
type CreateItemRequest struct {
	// 0 is a valid item id, so presence is tracked with a pointer
	ItemID      *uint32 `json:"item_id" validate:"required"`
	Title       string  `json:"title" validate:"required,max=128"`
	Description string  `json:"description" validate:"max=2048"`
	Media       string  `json:"media" validate:"omitempty,url"` // picture URL
	Price       *uint64 `json:"price" validate:"required"`      // smallest token unit
}

// PurchaseRequest is the payload for POST /purchases
type PurchaseRequest struct {
	ItemID *uint32 `json:"item_id" validate:"required"`
}

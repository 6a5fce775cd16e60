package orders

// CreateOrderRequest is the JSON payload to place an order.
type CreateOrderRequest struct {
	StoreID        int64              `json:"store_id" validate:"required,gt=0"`
	Items          []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountAmount float64            `json:"discount_amount" validate:"gte=0"`
	Notes          *string            `json:"notes,omitempty"`
}

// OrderItemRequest is one requested line.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// RejectRequest carries the rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

// ReplaceItemsRequest swaps the full item list.
type ReplaceItemsRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// DiscountRequest sets the order discount.
type DiscountRequest struct {
	Amount float64 `json:"amount" validate:"gte=0"`
}

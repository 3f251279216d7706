package orders

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/plaenen/orderstream/pkg/domain"
)

// AggregateType identifies order aggregates in the event log.
const AggregateType = "order"

// Event types for the order aggregate.
const (
	EventTypeOrderCreated    = "orders.created"
	EventTypeItemAdded       = "orders.item_added"
	EventTypeItemRemoved     = "orders.item_removed"
	EventTypeOrderSubmitted  = "orders.submitted"
	EventTypeOrderCancelled  = "orders.cancelled"
	EventTypePaymentReceived = "orders.payment_received"
	EventTypeOrderShipped    = "orders.shipped"
)

// OrderCreated is emitted when a new order is opened for a customer.
type OrderCreated struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

// ItemAdded is emitted when a line item is added to an order, or when an
// existing line's quantity grows. ItemCount and TotalAmount carry the
// post-event totals so consumers can set rather than accumulate.
type ItemAdded struct {
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// ItemRemoved is emitted when a line item is removed from an order.
type ItemRemoved struct {
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// OrderSubmitted is emitted when an order is submitted for fulfillment.
type OrderSubmitted struct {
	OrderID         string `json:"order_id"`
	ShippingAddress string `json:"shipping_address"`
}

// OrderCancelled is emitted when an order is cancelled.
type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentReceived is emitted when payment for a submitted order clears.
type PaymentReceived struct {
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
}

// OrderShipped is emitted when a paid order leaves the warehouse.
type OrderShipped struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
}

// decodeFunc turns raw event data into a typed payload.
type decodeFunc func(data []byte) (any, error)

// codecs maps (event type, schema version) to a decoder. New schema
// versions of an event type register new entries; decoders for old
// versions stay so historical events remain readable.
var codecs = map[string]map[int]decodeFunc{
	EventTypeOrderCreated:    {1: decodeJSON[OrderCreated]},
	EventTypeItemAdded:       {1: decodeJSON[ItemAdded]},
	EventTypeItemRemoved:     {1: decodeJSON[ItemRemoved]},
	EventTypeOrderSubmitted:  {1: decodeJSON[OrderSubmitted]},
	EventTypeOrderCancelled:  {1: decodeJSON[OrderCancelled]},
	EventTypePaymentReceived: {1: decodeJSON[PaymentReceived]},
	EventTypeOrderShipped:    {1: decodeJSON[OrderShipped]},
}

func decodeJSON[T any](data []byte) (any, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// DecodeEvent decodes an order event's payload into its typed struct.
// Unknown event types and unknown schema versions are errors: refusing to
// guess beats silently corrupting state.
func DecodeEvent(evt *domain.Event) (any, error) {
	versions, ok := codecs[evt.EventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", evt.EventType)
	}
	decode, ok := versions[evt.SchemaVersion]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %d for event type %q", evt.SchemaVersion, evt.EventType)
	}
	return decode(evt.Data)
}

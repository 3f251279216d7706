// Package orders implements the order aggregate: an event-sourced state
// machine covering the order lifecycle from creation through shipping or
// cancellation.
package orders

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/plaenen/orderstream/pkg/domain"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusSubmitted Status = "SUBMITTED"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

// Item is a line item on an order.
type Item struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Order is the order aggregate. All state changes flow through events:
// command methods validate against current state, emit an event, and apply
// it; replaying the same events always reconstructs the same state.
type Order struct {
	domain.AggregateRoot

	customerID      string
	status          Status
	items           map[string]Item
	totalAmount     decimal.Decimal
	shippingAddress string
	trackingNumber  string
	cancelReason    string
	transactionID   string
}

// NewOrder creates an empty order aggregate for the given ID.
// No events are emitted; use Create to open the order.
func NewOrder(id string) *Order {
	return &Order{
		AggregateRoot: domain.NewAggregateRoot(id, AggregateType),
		items:         make(map[string]Item),
	}
}

// CustomerID returns the customer who owns the order.
func (o *Order) CustomerID() string { return o.customerID }

// Status returns the order's lifecycle state.
func (o *Order) Status() Status { return o.status }

// TotalAmount returns the sum of price times quantity over all items.
func (o *Order) TotalAmount() decimal.Decimal { return o.totalAmount }

// ShippingAddress returns the address set at submission.
func (o *Order) ShippingAddress() string { return o.shippingAddress }

// TrackingNumber returns the tracking number set at shipping.
func (o *Order) TrackingNumber() string { return o.trackingNumber }

// CancelReason returns the reason given at cancellation.
func (o *Order) CancelReason() string { return o.cancelReason }

// TransactionID returns the payment transaction reference.
func (o *Order) TransactionID() string { return o.transactionID }

// ItemCount returns the total number of units across all line items.
func (o *Order) ItemCount() int {
	count := 0
	for _, item := range o.items {
		count += item.Quantity
	}
	return count
}

// Items returns a copy of the order's line items.
func (o *Order) Items() map[string]Item {
	items := make(map[string]Item, len(o.items))
	for id, item := range o.items {
		items[id] = item
	}
	return items
}

// Create opens the order for a customer. Valid only on a fresh aggregate.
func (o *Order) Create(customerID string, metadata domain.EventMetadata) error {
	if o.status != "" {
		return domain.NewBusinessRuleError("order %s already exists", o.ID())
	}

	return o.emit(EventTypeOrderCreated, 1, &OrderCreated{
		OrderID:    o.ID(),
		CustomerID: customerID,
	}, metadata)
}

// AddItem adds units of a product to the order. Adding a product already
// on the order increases its quantity and takes the new price.
func (o *Order) AddItem(productID string, quantity int, price decimal.Decimal, metadata domain.EventMetadata) error {
	if o.status != StatusCreated {
		return domain.NewBusinessRuleError("cannot add items to order in status %s", o.status)
	}
	if quantity <= 0 {
		return domain.NewBusinessRuleError("quantity must be positive, got %d", quantity)
	}
	if price.IsNegative() {
		return domain.NewBusinessRuleError("price must not be negative, got %s", price)
	}

	itemCount, totalAmount := o.totalsAfterAdd(productID, quantity, price)

	return o.emit(EventTypeItemAdded, 1, &ItemAdded{
		OrderID:     o.ID(),
		ProductID:   productID,
		Quantity:    quantity,
		Price:       price,
		ItemCount:   itemCount,
		TotalAmount: totalAmount,
	}, metadata)
}

// RemoveItem removes a product's line item from the order entirely.
func (o *Order) RemoveItem(productID string, metadata domain.EventMetadata) error {
	if o.status != StatusCreated {
		return domain.NewBusinessRuleError("cannot remove items from order in status %s", o.status)
	}
	if _, exists := o.items[productID]; !exists {
		return domain.NewBusinessRuleError("product %s is not on the order", productID)
	}

	itemCount, totalAmount := o.totalsAfterRemove(productID)

	return o.emit(EventTypeItemRemoved, 1, &ItemRemoved{
		OrderID:     o.ID(),
		ProductID:   productID,
		ItemCount:   itemCount,
		TotalAmount: totalAmount,
	}, metadata)
}

// Submit locks the order for fulfillment. Requires at least one item.
func (o *Order) Submit(shippingAddress string, metadata domain.EventMetadata) error {
	if o.status != StatusCreated {
		return domain.NewBusinessRuleError("cannot submit order in status %s", o.status)
	}
	if len(o.items) == 0 {
		return domain.NewBusinessRuleError("cannot submit an empty order")
	}

	return o.emit(EventTypeOrderSubmitted, 1, &OrderSubmitted{
		OrderID:         o.ID(),
		ShippingAddress: shippingAddress,
	}, metadata)
}

// Cancel cancels the order. Allowed until the order ships.
func (o *Order) Cancel(reason string, metadata domain.EventMetadata) error {
	switch o.status {
	case StatusCreated, StatusSubmitted, StatusPaid:
	case StatusShipped:
		return domain.NewBusinessRuleError("cannot cancel a shipped order")
	case StatusCancelled:
		return domain.NewBusinessRuleError("order is already cancelled")
	default:
		return domain.NewBusinessRuleError("cannot cancel order in status %s", o.status)
	}

	return o.emit(EventTypeOrderCancelled, 1, &OrderCancelled{
		OrderID: o.ID(),
		Reason:  reason,
	}, metadata)
}

// ReceivePayment records payment for a submitted order.
func (o *Order) ReceivePayment(amount decimal.Decimal, transactionID string, metadata domain.EventMetadata) error {
	if o.status != StatusSubmitted {
		return domain.NewBusinessRuleError("cannot receive payment for order in status %s", o.status)
	}
	if !amount.IsPositive() {
		return domain.NewBusinessRuleError("payment amount must be positive, got %s", amount)
	}
	if !amount.Equal(o.totalAmount) {
		return domain.NewBusinessRuleError("payment amount %s does not match order total %s", amount, o.totalAmount)
	}

	return o.emit(EventTypePaymentReceived, 1, &PaymentReceived{
		OrderID:       o.ID(),
		Amount:        amount,
		TransactionID: transactionID,
	}, metadata)
}

// Ship marks a paid order as shipped.
func (o *Order) Ship(trackingNumber string, metadata domain.EventMetadata) error {
	if o.status != StatusPaid {
		return domain.NewBusinessRuleError("cannot ship order in status %s", o.status)
	}

	return o.emit(EventTypeOrderShipped, 1, &OrderShipped{
		OrderID:        o.ID(),
		TrackingNumber: trackingNumber,
	}, metadata)
}

// emit serializes the payload, records the event, and applies it so the
// in-memory state stays in step with the event stream.
func (o *Order) emit(eventType string, schemaVersion int, payload any, metadata domain.EventMetadata) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	o.Record(eventType, schemaVersion, data, metadata)

	return o.apply(payload)
}

// ApplyEvent applies a stored event during replay.
func (o *Order) ApplyEvent(evt *domain.Event) error {
	payload, err := DecodeEvent(evt)
	if err != nil {
		return err
	}
	if err := o.apply(payload); err != nil {
		return err
	}
	o.SetVersion(evt.Version)
	return nil
}

func (o *Order) apply(payload any) error {
	switch p := payload.(type) {
	case *OrderCreated:
		o.customerID = p.CustomerID
		o.status = StatusCreated

	case *ItemAdded:
		item, exists := o.items[p.ProductID]
		if exists {
			item.Quantity += p.Quantity
			item.Price = p.Price
		} else {
			item = Item{ProductID: p.ProductID, Quantity: p.Quantity, Price: p.Price}
		}
		o.items[p.ProductID] = item
		o.recomputeTotal()

	case *ItemRemoved:
		delete(o.items, p.ProductID)
		o.recomputeTotal()

	case *OrderSubmitted:
		o.status = StatusSubmitted
		o.shippingAddress = p.ShippingAddress

	case *OrderCancelled:
		o.status = StatusCancelled
		o.cancelReason = p.Reason

	case *PaymentReceived:
		o.status = StatusPaid
		o.transactionID = p.TransactionID

	case *OrderShipped:
		o.status = StatusShipped
		o.trackingNumber = p.TrackingNumber

	default:
		return fmt.Errorf("unhandled event payload %T", payload)
	}

	return nil
}

func (o *Order) recomputeTotal() {
	total := decimal.Zero
	for _, item := range o.items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	o.totalAmount = total
}

// totalsAfterAdd computes the post-event unit count and total for an
// ItemAdded event without mutating state.
func (o *Order) totalsAfterAdd(productID string, quantity int, price decimal.Decimal) (int, decimal.Decimal) {
	count := 0
	total := decimal.Zero
	for id, item := range o.items {
		if id == productID {
			continue
		}
		count += item.Quantity
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	newQuantity := quantity
	if existing, ok := o.items[productID]; ok {
		newQuantity += existing.Quantity
	}
	count += newQuantity
	total = total.Add(price.Mul(decimal.NewFromInt(int64(newQuantity))))

	return count, total
}

// totalsAfterRemove computes the post-event unit count and total for an
// ItemRemoved event without mutating state.
func (o *Order) totalsAfterRemove(productID string) (int, decimal.Decimal) {
	count := 0
	total := decimal.Zero
	for id, item := range o.items {
		if id == productID {
			continue
		}
		count += item.Quantity
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return count, total
}

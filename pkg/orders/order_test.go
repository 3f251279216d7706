package orders_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/orders"
)

const testOrderID = "6f1b2a36-9f67-4f25-aa8e-0a9f68a001ab"

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func meta() domain.EventMetadata {
	return domain.EventMetadata{}
}

func TestOrderLifecycle(t *testing.T) {
	order := orders.NewOrder(testOrderID)

	require.NoError(t, order.Create("customer-1", meta()))
	assert.Equal(t, orders.StatusCreated, order.Status())
	assert.Equal(t, int64(1), order.Version())

	require.NoError(t, order.AddItem("widget", 2, price("19.99"), meta()))
	require.NoError(t, order.AddItem("gadget", 1, price("60.02"), meta()))
	assert.Equal(t, 3, order.ItemCount())
	assert.True(t, order.TotalAmount().Equal(price("100.00")),
		"total %s", order.TotalAmount())

	require.NoError(t, order.Submit("1 Main St", meta()))
	assert.Equal(t, orders.StatusSubmitted, order.Status())
	assert.Equal(t, "1 Main St", order.ShippingAddress())

	require.NoError(t, order.ReceivePayment(price("100.00"), "txn-1", meta()))
	assert.Equal(t, orders.StatusPaid, order.Status())

	require.NoError(t, order.Ship("TRACK-1", meta()))
	assert.Equal(t, orders.StatusShipped, order.Status())
	assert.Equal(t, "TRACK-1", order.TrackingNumber())
	assert.Equal(t, int64(6), order.Version())
	assert.Len(t, order.UncommittedEvents(), 6)
}

func TestOrderAddItemMergesQuantity(t *testing.T) {
	order := orders.NewOrder(testOrderID)
	require.NoError(t, order.Create("customer-1", meta()))

	require.NoError(t, order.AddItem("widget", 2, price("10.00"), meta()))
	require.NoError(t, order.AddItem("widget", 3, price("12.00"), meta()))

	items := order.Items()
	require.Contains(t, items, "widget")
	assert.Equal(t, 5, items["widget"].Quantity)
	assert.True(t, items["widget"].Price.Equal(price("12.00")))
	assert.True(t, order.TotalAmount().Equal(price("60.00")),
		"total %s", order.TotalAmount())
}

func TestOrderRemoveItem(t *testing.T) {
	order := orders.NewOrder(testOrderID)
	require.NoError(t, order.Create("customer-1", meta()))
	require.NoError(t, order.AddItem("widget", 1, price("5.00"), meta()))
	require.NoError(t, order.AddItem("gadget", 2, price("3.00"), meta()))

	require.NoError(t, order.RemoveItem("widget", meta()))
	assert.Equal(t, 2, order.ItemCount())
	assert.True(t, order.TotalAmount().Equal(price("6.00")))

	err := order.RemoveItem("widget", meta())
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
}

func TestOrderBusinessRules(t *testing.T) {
	// Builders produce an order in each lifecycle state.
	created := func(t *testing.T) *orders.Order {
		o := orders.NewOrder(testOrderID)
		require.NoError(t, o.Create("customer-1", meta()))
		return o
	}
	submitted := func(t *testing.T) *orders.Order {
		o := created(t)
		require.NoError(t, o.AddItem("widget", 1, price("10.00"), meta()))
		require.NoError(t, o.Submit("1 Main St", meta()))
		return o
	}
	paid := func(t *testing.T) *orders.Order {
		o := submitted(t)
		require.NoError(t, o.ReceivePayment(price("10.00"), "txn-1", meta()))
		return o
	}
	shipped := func(t *testing.T) *orders.Order {
		o := paid(t)
		require.NoError(t, o.Ship("TRACK-1", meta()))
		return o
	}
	cancelled := func(t *testing.T) *orders.Order {
		o := created(t)
		require.NoError(t, o.Cancel("no reason", meta()))
		return o
	}

	tests := []struct {
		name  string
		build func(*testing.T) *orders.Order
		act   func(*orders.Order) error
	}{
		{"create twice", created, func(o *orders.Order) error {
			return o.Create("customer-2", meta())
		}},
		{"add item zero quantity", created, func(o *orders.Order) error {
			return o.AddItem("widget", 0, price("1.00"), meta())
		}},
		{"add item negative price", created, func(o *orders.Order) error {
			return o.AddItem("widget", 1, price("-1.00"), meta())
		}},
		{"add item after submit", submitted, func(o *orders.Order) error {
			return o.AddItem("widget", 1, price("1.00"), meta())
		}},
		{"remove item after submit", submitted, func(o *orders.Order) error {
			return o.RemoveItem("widget", meta())
		}},
		{"submit empty order", created, func(o *orders.Order) error {
			return o.Submit("1 Main St", meta())
		}},
		{"submit twice", submitted, func(o *orders.Order) error {
			return o.Submit("1 Main St", meta())
		}},
		{"pay unsubmitted order", created, func(o *orders.Order) error {
			return o.ReceivePayment(price("10.00"), "txn-1", meta())
		}},
		{"pay wrong amount", submitted, func(o *orders.Order) error {
			return o.ReceivePayment(price("9.99"), "txn-1", meta())
		}},
		{"pay twice", paid, func(o *orders.Order) error {
			return o.ReceivePayment(price("10.00"), "txn-2", meta())
		}},
		{"ship unpaid order", submitted, func(o *orders.Order) error {
			return o.Ship("TRACK-1", meta())
		}},
		{"ship twice", shipped, func(o *orders.Order) error {
			return o.Ship("TRACK-2", meta())
		}},
		{"cancel shipped order", shipped, func(o *orders.Order) error {
			return o.Cancel("too late", meta())
		}},
		{"cancel twice", cancelled, func(o *orders.Order) error {
			return o.Cancel("again", meta())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := tt.build(t)
			versionBefore := order.Version()
			eventsBefore := len(order.UncommittedEvents())

			err := tt.act(order)
			assert.ErrorIs(t, err, domain.ErrBusinessRule)

			// A rejected command leaves no trace on the aggregate.
			assert.Equal(t, versionBefore, order.Version())
			assert.Len(t, order.UncommittedEvents(), eventsBefore)
		})
	}
}

func TestOrderCancelFromPaid(t *testing.T) {
	order := orders.NewOrder(testOrderID)
	require.NoError(t, order.Create("customer-1", meta()))
	require.NoError(t, order.AddItem("widget", 1, price("10.00"), meta()))
	require.NoError(t, order.Submit("1 Main St", meta()))
	require.NoError(t, order.ReceivePayment(price("10.00"), "txn-1", meta()))

	require.NoError(t, order.Cancel("refund requested", meta()))
	assert.Equal(t, orders.StatusCancelled, order.Status())
	assert.Equal(t, "refund requested", order.CancelReason())
}

func TestOrderReplayDeterminism(t *testing.T) {
	original := orders.NewOrder(testOrderID)
	require.NoError(t, original.Create("customer-1", meta()))
	require.NoError(t, original.AddItem("widget", 2, price("19.99"), meta()))
	require.NoError(t, original.AddItem("gadget", 1, price("60.02"), meta()))
	require.NoError(t, original.RemoveItem("gadget", meta()))
	require.NoError(t, original.Submit("1 Main St", meta()))

	replayed := orders.NewOrder(testOrderID)
	for _, evt := range original.UncommittedEvents() {
		require.NoError(t, replayed.ApplyEvent(evt))
	}

	assert.Equal(t, original.Version(), replayed.Version())
	assert.Equal(t, original.Status(), replayed.Status())
	assert.Equal(t, original.CustomerID(), replayed.CustomerID())
	assert.Equal(t, original.Items(), replayed.Items())
	assert.True(t, original.TotalAmount().Equal(replayed.TotalAmount()))
	assert.Equal(t, original.ShippingAddress(), replayed.ShippingAddress())
}

func TestOrderSnapshotRoundTrip(t *testing.T) {
	original := orders.NewOrder(testOrderID)
	require.NoError(t, original.Create("customer-1", meta()))
	require.NoError(t, original.AddItem("widget", 2, price("19.99"), meta()))
	require.NoError(t, original.Submit("1 Main St", meta()))

	state, err := original.MarshalSnapshot()
	require.NoError(t, err)

	restored := orders.NewOrder(testOrderID)
	require.NoError(t, restored.UnmarshalSnapshot(state))

	assert.Equal(t, original.Version(), restored.Version())
	assert.Equal(t, original.Status(), restored.Status())
	assert.Equal(t, original.CustomerID(), restored.CustomerID())
	assert.Equal(t, original.Items(), restored.Items())
	assert.True(t, original.TotalAmount().Equal(restored.TotalAmount()))

	// Snapshot bytes are deterministic for the same state.
	again, err := original.MarshalSnapshot()
	require.NoError(t, err)
	assert.Equal(t, state, again)
}

func TestOrderDeterministicEventIDs(t *testing.T) {
	build := func() *orders.Order {
		o := orders.NewOrder(testOrderID)
		o.SetCommandID("cmd-1")
		_ = o.Create("customer-1", meta())
		_ = o.AddItem("widget", 1, price("10.00"), meta())
		return o
	}

	first := build()
	second := build()

	firstEvents := first.UncommittedEvents()
	secondEvents := second.UncommittedEvents()
	require.Len(t, firstEvents, 2)
	require.Len(t, secondEvents, 2)
	for i := range firstEvents {
		assert.Equal(t, firstEvents[i].ID, secondEvents[i].ID)
	}
	assert.NotEqual(t, firstEvents[0].ID, firstEvents[1].ID)
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := orders.DecodeEvent(&domain.Event{
		EventType:     "orders.mystery",
		SchemaVersion: 1,
		Data:          []byte(`{}`),
	})
	assert.Error(t, err)

	_, err = orders.DecodeEvent(&domain.Event{
		EventType:     orders.EventTypeOrderCreated,
		SchemaVersion: 99,
		Data:          []byte(`{}`),
	})
	assert.Error(t, err)
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  domain.Command
	}{
		{"missing idempotency key", orders.CreateOrder{OrderID: testOrderID, CustomerID: "c"}},
		{"missing order ID", orders.CreateOrder{IdempotencyKey: "k", CustomerID: "c"}},
		{"order ID not a UUID", orders.CreateOrder{IdempotencyKey: "k", OrderID: "order-1", CustomerID: "c"}},
		{"missing customer", orders.CreateOrder{IdempotencyKey: "k", OrderID: testOrderID}},
		{"zero quantity", orders.AddItem{IdempotencyKey: "k", OrderID: testOrderID, ProductID: "p"}},
		{"negative price", orders.AddItem{IdempotencyKey: "k", OrderID: testOrderID, ProductID: "p", Quantity: 1, Price: price("-1")}},
		{"missing product", orders.RemoveItem{IdempotencyKey: "k", OrderID: testOrderID}},
		{"missing address", orders.SubmitOrder{IdempotencyKey: "k", OrderID: testOrderID}},
		{"zero amount", orders.ReceivePayment{IdempotencyKey: "k", OrderID: testOrderID, TransactionID: "t"}},
		{"missing transaction", orders.ReceivePayment{IdempotencyKey: "k", OrderID: testOrderID, Amount: price("1")}},
		{"missing tracking number", orders.ShipOrder{IdempotencyKey: "k", OrderID: testOrderID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cmd.Validate(), domain.ErrInvalidCommand)
		})
	}

	valid := orders.CreateOrder{IdempotencyKey: "k", OrderID: testOrderID, CustomerID: "c"}
	assert.NoError(t, valid.Validate())
}

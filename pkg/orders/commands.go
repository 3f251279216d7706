package orders

import (
	"fmt"

	"github.com/asaskevich/govalidator"
	"github.com/shopspring/decimal"

	"github.com/plaenen/orderstream/pkg/domain"
)

// Command types for the order aggregate.
const (
	CommandTypeCreateOrder    = "orders.create"
	CommandTypeAddItem        = "orders.add_item"
	CommandTypeRemoveItem     = "orders.remove_item"
	CommandTypeSubmitOrder    = "orders.submit"
	CommandTypeCancelOrder    = "orders.cancel"
	CommandTypeReceivePayment = "orders.receive_payment"
	CommandTypeShipOrder      = "orders.ship"
)

// CreateOrder opens a new order for a customer.
type CreateOrder struct {
	IdempotencyKey string
	OrderID        string
	CustomerID     string
}

func (c CreateOrder) CommandID() string   { return c.IdempotencyKey }
func (c CreateOrder) AggregateID() string { return c.OrderID }
func (c CreateOrder) CommandType() string { return CommandTypeCreateOrder }

func (c CreateOrder) Validate() error {
	if err := validateCommon(c.IdempotencyKey, c.OrderID); err != nil {
		return err
	}
	if c.CustomerID == "" {
		return fmt.Errorf("%w: customer ID is required", domain.ErrInvalidCommand)
	}
	return nil
}

// AddItem adds units of a product to an order.
type AddItem struct {
	IdempotencyKey string
	OrderID        string
	ProductID      string
	Quantity       int
	Price          decimal.Decimal
}

func (c AddItem) CommandID() string   { return c.IdempotencyKey }
func (c AddItem) AggregateID() string { return c.OrderID }
func (c AddItem) CommandType() string { return CommandTypeAddItem }

func (c AddItem) Validate() error {
	if err := validateCommon(c.IdempotencyKey, c.OrderID); err != nil {
		return err
	}
	if c.ProductID == "" {
		return fmt.Errorf("%w: product ID is required", domain.ErrInvalidCommand)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidCommand)
	}
	if c.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidCommand)
	}
	return nil
}

// RemoveItem removes a product's line item from an order.
type RemoveItem struct {
	IdempotencyKey string
	OrderID        string
	ProductID      string
}

func (c RemoveItem) CommandID() string   { return c.IdempotencyKey }
func (c RemoveItem) AggregateID() string { return c.OrderID }
func (c RemoveItem) CommandType() string { return CommandTypeRemoveItem }

func (c RemoveItem) Validate() error {
	if err := validateCommon(c.IdempotencyKey, c.OrderID); err != nil {
		return err
	}
	if c.ProductID == "" {
		return fmt.Errorf("%w: product ID is required", domain.ErrInvalidCommand)
	}
	return nil
}

// SubmitOrder submits an order for fulfillment.
type SubmitOrder struct {
	IdempotencyKey  string
	OrderID         string
	ShippingAddress string
}

func (c SubmitOrder) CommandID() string   { return c.IdempotencyKey }
func (c SubmitOrder) AggregateID() string { return c.OrderID }
func (c SubmitOrder) CommandType() string { return CommandTypeSubmitOrder }

func (c SubmitOrder) Validate() error {
	if err := validateCommon(c.IdempotencyKey, c.OrderID); err != nil {
		return err
	}
	if govalidator.IsNull(c.ShippingAddress) {
		return fmt.Errorf("%w: shipping address is required", domain.ErrInvalidCommand)
	}
	return nil
}

// CancelOrder cancels an order.
type CancelOrder struct {
	IdempotencyKey string
	OrderID        string
	Reason         string
}

func (c CancelOrder) CommandID() string   { return c.IdempotencyKey }
func (c CancelOrder) AggregateID() string { return c.OrderID }
func (c CancelOrder) CommandType() string { return CommandTypeCancelOrder }

func (c CancelOrder) Validate() error {
	return validateCommon(c.IdempotencyKey, c.OrderID)
}

// ReceivePayment records payment for a submitted order.
type ReceivePayment struct {
	IdempotencyKey string
	OrderID        string
	Amount         decimal.Decimal
	TransactionID  string
}

func (c ReceivePayment) CommandID() string   { return c.IdempotencyKey }
func (c ReceivePayment) AggregateID() string { return c.OrderID }
func (c ReceivePayment) CommandType() string { return CommandTypeReceivePayment }

func (c ReceivePayment) Validate() error {
	if err := validateCommon(c.IdempotencyKey, c.OrderID); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", domain.ErrInvalidCommand)
	}
	if c.TransactionID == "" {
		return fmt.Errorf("%w: transaction ID is required", domain.ErrInvalidCommand)
	}
	return nil
}

// ShipOrder marks a paid order as shipped.
type ShipOrder struct {
	IdempotencyKey string
	OrderID        string
	TrackingNumber string
}

func (c ShipOrder) CommandID() string   { return c.IdempotencyKey }
func (c ShipOrder) AggregateID() string { return c.OrderID }
func (c ShipOrder) CommandType() string { return CommandTypeShipOrder }

func (c ShipOrder) Validate() error {
	if err := validateCommon(c.IdempotencyKey, c.OrderID); err != nil {
		return err
	}
	if govalidator.IsNull(c.TrackingNumber) {
		return fmt.Errorf("%w: tracking number is required", domain.ErrInvalidCommand)
	}
	return nil
}

// validateCommon checks the fields every order command carries.
// Order IDs are UUIDs; idempotency keys are caller-chosen opaque strings.
func validateCommon(idempotencyKey, orderID string) error {
	if idempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidCommand)
	}
	if orderID == "" {
		return fmt.Errorf("%w: order ID is required", domain.ErrInvalidCommand)
	}
	if !govalidator.IsUUID(orderID) {
		return fmt.Errorf("%w: order ID must be a UUID, got %q", domain.ErrInvalidCommand, orderID)
	}
	return nil
}

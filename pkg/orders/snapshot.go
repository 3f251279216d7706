package orders

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/plaenen/orderstream/pkg/store"
)

var _ store.Snapshotable = (*Order)(nil)

// snapshotSchemaVersion guards the snapshot wire format. A bumped version
// invalidates stale snapshots; the aggregate then falls back to full replay.
const snapshotSchemaVersion = 1

// orderSnapshot is the serialized form of an order's state.
type orderSnapshot struct {
	SchemaVersion   int                `json:"schema_version"`
	Version         int64              `json:"version"`
	CustomerID      string             `json:"customer_id"`
	Status          Status             `json:"status"`
	Items           []snapshotItem     `json:"items"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	ShippingAddress string             `json:"shipping_address,omitempty"`
	TrackingNumber  string             `json:"tracking_number,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	TransactionID   string             `json:"transaction_id,omitempty"`
}

type snapshotItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// MarshalSnapshot serializes the order's state. Items are sorted so the
// same state always produces the same bytes.
func (o *Order) MarshalSnapshot() ([]byte, error) {
	items := make([]snapshotItem, 0, len(o.items))
	for _, item := range o.items {
		items = append(items, snapshotItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID < items[j].ProductID
	})

	return json.Marshal(orderSnapshot{
		SchemaVersion:   snapshotSchemaVersion,
		Version:         o.Version(),
		CustomerID:      o.customerID,
		Status:          o.status,
		Items:           items,
		TotalAmount:     o.totalAmount,
		ShippingAddress: o.shippingAddress,
		TrackingNumber:  o.trackingNumber,
		CancelReason:    o.cancelReason,
		TransactionID:   o.transactionID,
	})
}

// UnmarshalSnapshot restores the order's state from snapshot bytes.
func (o *Order) UnmarshalSnapshot(data []byte) error {
	var snap orderSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal order snapshot: %w", err)
	}
	if snap.SchemaVersion != snapshotSchemaVersion {
		return fmt.Errorf("unsupported order snapshot schema version %d", snap.SchemaVersion)
	}

	o.customerID = snap.CustomerID
	o.status = snap.Status
	o.items = make(map[string]Item, len(snap.Items))
	for _, item := range snap.Items {
		o.items[item.ProductID] = Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}
	o.totalAmount = snap.TotalAmount
	o.shippingAddress = snap.ShippingAddress
	o.trackingNumber = snap.TrackingNumber
	o.cancelReason = snap.CancelReason
	o.transactionID = snap.TransactionID
	o.SetVersion(snap.Version)

	return nil
}

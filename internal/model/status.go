package model

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPlaced         OrderStatus = "placed"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderProcessing     OrderStatus = "processing"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
	OrderReturned       OrderStatus = "returned"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderPlaced:         {},
	OrderConfirmed:      {},
	OrderProcessing:     {},
	OrderOutForDelivery: {},
	OrderDelivered:      {},
	OrderCancelled:      {},
	OrderReturned:       {},
}

// Valid reports membership only; any known status may follow any other.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatuses[s]
	return ok
}

// PaymentStatus tracks collection of the order total.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// PaymentState is the cacheable view of an order's progress.
type PaymentState struct {
	OrderNumber   string        `json:"order_number"`
	UserID        uint          `json:"-"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

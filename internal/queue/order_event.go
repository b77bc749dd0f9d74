package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the order lifecycle message written to the stream outbox and
// forwarded to Kafka.
type OrderEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	OrderNumber   string    `json:"order_number"`
	UserID        uint      `json:"user_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Total         string    `json:"total"` // decimal string, 2 places
	OccurredAt    time.Time `json:"occurred_at"`
}

// OrderSnapshot is the order state an event is built from.
type OrderSnapshot struct {
	OrderNumber   string
	UserID        uint
	Status        string
	PaymentStatus string
	Total         string
}

func NewOrderEvent(eventType string, s OrderSnapshot) OrderEvent {
	return OrderEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OrderNumber:   s.OrderNumber,
		UserID:        s.UserID,
		Status:        s.Status,
		PaymentStatus: s.PaymentStatus,
		Total:         s.Total,
		OccurredAt:    time.Now().UTC(),
	}
}

func knownEventType(t string) bool {
	switch t {
	case EventOrderPlaced, EventOrderPaid, EventOrderPaymentFailed, EventOrderStatusChanged:
		return true
	}
	return false
}

// Validate rejects malformed messages before they reach consumers.
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !knownEventType(e.EventType) {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if e.OrderNumber == "" {
		return fmt.Errorf("order_number is required")
	}
	if e.UserID == 0 {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// streamValues flattens the event into Redis stream fields.
func (e OrderEvent) streamValues() map[string]any {
	return map[string]any{
		"event_id":       e.EventID,
		"event_type":     e.EventType,
		"order_number":   e.OrderNumber,
		"user_id":        e.UserID,
		"status":         e.Status,
		"payment_status": e.PaymentStatus,
		"total":          e.Total,
		"occurred_at":    e.OccurredAt.Format(time.RFC3339Nano),
	}
}

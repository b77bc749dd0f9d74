package gateway

import (
	"encoding/json"
	"fmt"
)

const SignatureHeader = "X-Razorpay-Signature"

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentAuthorized = "payment.authorized"
)

// WebhookEvent is the envelope of a gateway webhook delivery.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity json.RawMessage `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentEntity is the payment object inside a webhook.
type PaymentEntity struct {
	ID      string            `json:"id"`
	OrderID string            `json:"order_id"`
	Amount  int64             `json:"amount"` // paise
	Status  string            `json:"status"`
	Method  string            `json:"method"`
	Notes   map[string]string `json:"-"`
}

// IsPaymentEvent reports whether the event carries a payment entity we reconcile.
func IsPaymentEvent(event string) bool {
	switch event {
	case EventPaymentCaptured, EventPaymentFailed, EventPaymentAuthorized:
		return true
	}
	return false
}

// ParseWebhook decodes body. The entity's raw JSON is returned for auditing.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	return ev, nil
}

// Payment decodes the payment entity. Notes may be an object or, when empty,
// an array; non-string note values are dropped.
func (ev WebhookEvent) Payment() (PaymentEntity, error) {
	var p PaymentEntity
	raw := ev.Payload.Payment.Entity
	if len(raw) == 0 || string(raw) == "null" {
		return p, fmt.Errorf("webhook has no payment entity")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payment entity: %w", err)
	}
	var withNotes struct {
		Notes json.RawMessage `json:"notes"`
	}
	_ = json.Unmarshal(raw, &withNotes)
	p.Notes = map[string]string{}
	var notes map[string]any
	if json.Unmarshal(withNotes.Notes, &notes) == nil {
		for k, v := range notes {
			if s, ok := v.(string); ok {
				p.Notes[k] = s
			}
		}
	}
	return p, nil
}

package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() OrderEvent {
	return NewOrderEvent(EventOrderPaid, OrderSnapshot{
		OrderNumber:   "ORDABCDEF012345",
		UserID:        7,
		Status:        "confirmed",
		PaymentStatus: "paid",
		Total:         "85.00",
	})
}

func TestOrderEventValidate(t *testing.T) {
	ev := sampleEvent()
	require.NoError(t, ev.Validate())

	bad := ev
	bad.EventType = "order.unknown"
	assert.Error(t, bad.Validate())

	bad = ev
	bad.OrderNumber = ""
	assert.Error(t, bad.Validate())

	bad = ev
	bad.UserID = 0
	assert.Error(t, bad.Validate())
}

func TestParseOrderEventFromStreamFields(t *testing.T) {
	ev := sampleEvent()

	// Redis returns every field as a string.
	raw := map[string]any{}
	for k, v := range ev.streamValues() {
		switch x := v.(type) {
		case uint:
			raw[k] = uintString(x)
		default:
			raw[k] = x
		}
	}

	got, err := parseOrderEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, ev.UserID, got.UserID)
	assert.Equal(t, ev.Total, got.Total)
	assert.True(t, ev.OccurredAt.Equal(got.OccurredAt))
}

func TestParseOrderEventMissingField(t *testing.T) {
	raw := sampleEvent().streamValues()
	delete(raw, "order_number")
	_, err := parseOrderEvent(raw)
	assert.Error(t, err)
}

func TestEncodeDecodeMessageKeyedByOrderNumber(t *testing.T) {
	ev := sampleEvent()
	msg, err := encodeMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, ev.OrderNumber, string(msg.Key))

	got, err := decodeMessage(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, ev.EventType, got.EventType)

	_, err = decodeMessage([]byte(`{"event_type":"order.paid"}`))
	assert.Error(t, err)
}

func uintString(v uint) string {
	b, _ := json.Marshal(v)
	return string(b)
}

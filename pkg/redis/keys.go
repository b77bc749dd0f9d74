package redis

import "fmt"

const prefix = "pharmacy"

// CheckoutLockKey guards one in-flight checkout per user.
func CheckoutLockKey(userID uint) string {
	return fmt.Sprintf("%s:checkout:lock:%d", prefix, userID)
}

// WebhookDeliveryKey marks a gateway webhook delivery as seen.
func WebhookDeliveryKey(event, paymentID string) string {
	return fmt.Sprintf("%s:webhook:seen:%s:%s", prefix, event, paymentID)
}

// PaymentStateKey caches an order's status and payment status.
func PaymentStateKey(orderNumber string) string {
	return fmt.Sprintf("%s:order:payment:%s", prefix, orderNumber)
}

// RateLimitKey counts requests of one client in the current window.
func RateLimitKey(client string) string {
	return fmt.Sprintf("%s:ratelimit:%s", prefix, client)
}

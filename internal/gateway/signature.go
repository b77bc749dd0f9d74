package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against Sign(message, secret) in constant time.
func VerifySignature(message, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(message, secret)), []byte(signature))
}

// PaymentMessage is the payload signed on checkout completion.
func PaymentMessage(orderID, paymentID string) string {
	return orderID + "|" + paymentID
}

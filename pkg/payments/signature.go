package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignEvent computes the HMAC-SHA256 signature the gateway attaches to a
// webhook event. The signed string is orderId|gatewayTxnId|status.
func SignEvent(secret, orderID, gatewayTxnID, status string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s|%s", orderID, gatewayTxnID, status)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks an event's signature in constant time.
func verifySignature(secret string, event WebhookEvent) bool {
	want := SignEvent(secret, event.OrderID, event.GatewayTxnID, event.Status)
	return hmac.Equal([]byte(want), []byte(event.Signature))
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// CallbackFields are the MAC-covered fields of a gateway callback, exactly
// as they arrived on the wire.
type CallbackFields struct {
	From      string
	To        string
	MessageID string
	Date      string
	Nonce     string
	Box       string
}

// CallbackMAC computes HMAC-SHA256(secret, from|to|messageId|date|nonce|box)
// and returns it hex encoded.
func CallbackMAC(f CallbackFields, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(f.From))
	_, _ = mac.Write([]byte(f.To))
	_, _ = mac.Write([]byte(f.MessageID))
	_, _ = mac.Write([]byte(f.Date))
	_, _ = mac.Write([]byte(f.Nonce))
	_, _ = mac.Write([]byte(f.Box))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackMAC checks the supplied hex MAC in constant time.
func VerifyCallbackMAC(f CallbackFields, macHex, secret string) bool {
	if secret == "" || macHex == "" {
		return false
	}
	expected := CallbackMAC(f, secret)
	return ConstantTimeEqual(expected, strings.ToLower(macHex))
}

// ConstantTimeEqual compares two strings without leaking timing
// information about their content. Length differences return false.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

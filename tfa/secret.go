package tfa

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
)

// CodeLength is the number of digits of generated codes.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random zero-padded 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// ConstantTimeEqual compares secrets without leaking timing information.
func ConstantTimeEqual(a, b string) bool {
	return gateway.ConstantTimeEqual(a, b)
}

func validCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func secretExpired(data *ProviderData, now time.Time) bool {
	if data.SecretGenerated.IsZero() {
		return true
	}
	return now.Sub(data.SecretGenerated) > data.ValidationTime
}

// isReplay reports whether candidate is the last successfully used secret
// and that use is still inside the validation window.
func isReplay(data *ProviderData, candidate string, now time.Time) bool {
	if data.LastSecret == "" || candidate == "" {
		return false
	}
	if now.Sub(data.LastSecretUsed) > data.ValidationTime {
		return false
	}
	return ConstantTimeEqual(candidate, data.LastSecret)
}

func ratchet(data *ProviderData, now time.Time) {
	data.LastSecret = data.Secret
	data.LastSecretUsed = now
	data.Secret = ""
	data.SecretGenerated = time.Time{}
}

// resetEphemeral clears every one-shot field. Block state and the replay
// ratchet survive.
func resetEphemeral(data *ProviderData) {
	data.Secret = ""
	data.SecretGenerated = time.Time{}
	data.ReceivedSecret = ""
	data.ReceivedCode = ""
	data.ReceivedDeliveryReceipt = 0
	data.ReceivedDeliveryReceiptLargest = 0
	data.DeclineHandled = false
}

func clearBlock(data *ProviderData) {
	data.Blocked = false
	data.BlockedUntil = time.Time{}
	data.BlockedBy = ""
}

package inbound

import (
	"context"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
)

// Message is a verified and decrypted gateway message.
type Message struct {
	ID           gateway.MessageID
	Sender       string
	Recipient    string
	// Nickname is unauthenticated: the callback MAC does not cover it.
	Nickname     string
	SendDate     time.Time
	ReceivedDate time.Time
	Payload      gateway.Message
}

// Type returns the payload type.
func (m Message) Type() gateway.MessageType {
	if m.Payload == nil {
		return 0
	}
	return m.Payload.Type()
}

// HookResult is what a pre-save hook hands back to the dispatcher.
// SuppressSave replaces the stored content by a placeholder record.
type HookResult struct {
	Entries      []LogEntry
	SuppressSave bool
}

// PreSaveHook runs before the message is persisted. Returning an error
// aborts the pipeline.
type PreSaveHook func(ctx context.Context, msg Message, debug bool) (HookResult, error)

// PostSaveHook runs after persistence with the final save decision.
type PostSaveHook func(ctx context.Context, msg Message, saved bool, debug bool) []LogEntry

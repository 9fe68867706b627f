package tfa

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
)

// Provider ids.
const (
	ProviderConventional = "threemagw_conventional"
	ProviderFast         = "threemagw_fast"
	ProviderReversed     = "threemagw_reversed"
)

var (
	// ErrNoProviderData is returned by stores when no record exists.
	ErrNoProviderData = errors.New("provider data not found")
	// ErrNotConfigured is returned when a login trigger finds no enabled provider.
	ErrNotConfigured = errors.New("tfa provider not configured for user")
	// ErrInvalidThreemaID is returned when setup is started with a malformed id.
	ErrInvalidThreemaID = errors.New("invalid threema id")
	// ErrReplayDetected is returned by listeners when a message id was seen before.
	ErrReplayDetected = errors.New("message replay detected")
	// ErrTriggerBlocked is returned when the fast mode is blocked for the user.
	ErrTriggerBlocked = errors.New("tfa provider blocked")
)

// PendingType classifies what kind of reply a pending request waits for.
type PendingType uint8

const (
	PendingCode            PendingType = 1
	PendingDeliveryReceipt PendingType = 2
)

func (t PendingType) String() string {
	switch t {
	case PendingCode:
		return "code"
	case PendingDeliveryReceipt:
		return "delivery_receipt"
	default:
		return "unknown"
	}
}

// PendingRequest is an outstanding challenge waiting for an asynchronous
// reply from ThreemaID.
type PendingRequest struct {
	RequestID  string      `cbor:"1,keyasint"`
	ThreemaID  string      `cbor:"2,keyasint"`
	ProviderID string      `cbor:"3,keyasint"`
	Type       PendingType `cbor:"4,keyasint"`
	UserID     string      `cbor:"5,keyasint,omitempty"`
	SessionID  string      `cbor:"6,keyasint,omitempty"`
	ExtraData  string      `cbor:"7,keyasint,omitempty"`
	ExpiresAt  time.Time   `cbor:"8,keyasint"`
}

// Scope selects where provider data lives.
type Scope uint8

const (
	// ScopeSession holds state of a session that is mid-setup.
	ScopeSession Scope = iota + 1
	// ScopeAccount holds the persisted per-user record.
	ScopeAccount
)

func (s Scope) String() string {
	if s == ScopeSession {
		return "session"
	}
	return "account"
}

// ProviderData is the per-user, per-provider state.
type ProviderData struct {
	ThreemaID string `cbor:"1,keyasint"`
	Enabled   bool   `cbor:"2,keyasint,omitempty"`

	Secret          string        `cbor:"3,keyasint,omitempty"`
	SecretGenerated time.Time     `cbor:"4,keyasint"`
	ValidationTime  time.Duration `cbor:"5,keyasint,omitempty"`
	LastSecret      string        `cbor:"6,keyasint,omitempty"`
	LastSecretUsed  time.Time     `cbor:"7,keyasint"`

	ReceivedSecret                 string              `cbor:"8,keyasint,omitempty"`
	ReceivedCode                   string              `cbor:"9,keyasint,omitempty"`
	ReceivedDeliveryReceipt        gateway.ReceiptType `cbor:"10,keyasint,omitempty"`
	ReceivedDeliveryReceiptLargest gateway.ReceiptType `cbor:"11,keyasint,omitempty"`

	Blocked        bool      `cbor:"12,keyasint,omitempty"`
	BlockedUntil   time.Time `cbor:"13,keyasint"`
	BlockedBy      string    `cbor:"14,keyasint,omitempty"`
	DeclineHandled bool      `cbor:"15,keyasint,omitempty"`

	ClientIP string            `cbor:"16,keyasint,omitempty"`
	Extra    map[string]string `cbor:"17,keyasint,omitempty"`

	// set by a merge that handled a decline, consumed after the save commits
	declineFired bool
}

// PendingStore persists pending confirmation requests.
type PendingStore interface {
	// Register stores req, replacing an earlier request for the same
	// (ThreemaID, ProviderID, Type).
	Register(ctx context.Context, req PendingRequest) error
	// Find returns requests for threemaID and type. An empty providerID
	// matches every provider.
	Find(ctx context.Context, threemaID string, t PendingType, providerID string) ([]PendingRequest, error)
	// Claim deletes req and reports whether this caller removed it.
	Claim(ctx context.Context, req PendingRequest) (bool, error)
	// Unregister removes the request for (threemaID, providerID, t) if any.
	Unregister(ctx context.Context, threemaID, providerID string, t PendingType) error
}

// ProviderDataStore persists ProviderData per scope and owner. The owner is
// the session id for ScopeSession and the user id for ScopeAccount.
type ProviderDataStore interface {
	Load(ctx context.Context, scope Scope, owner, providerID string) (*ProviderData, error)
	Save(ctx context.Context, scope Scope, owner, providerID string, data *ProviderData) error
	// Update applies fn atomically to an existing record and returns the
	// committed value. fn may run more than once and must not have side effects.
	Update(ctx context.Context, scope Scope, owner, providerID string, fn func(*ProviderData) error) (*ProviderData, error)
	Delete(ctx context.Context, scope Scope, owner, providerID string) error
}

// MessageSender delivers outbound text messages.
type MessageSender interface {
	SendText(ctx context.Context, to, text string) (gateway.MessageID, error)
}

// AttemptLimiter limits verification attempts per provider and user.
type AttemptLimiter interface {
	Allow(ctx context.Context, providerID, userID string) (bool, error)
	RecordFailure(ctx context.Context, providerID, userID string) error
	Reset(ctx context.Context, providerID, userID string) error
}

// DeclineAction is a side effect of a declined fast-mode message.
type DeclineAction uint8

const (
	DeclineBlockTFA DeclineAction = iota + 1
	DeclineBanUser
	DeclineBanIP
	DeclineNotify
)

func (a DeclineAction) String() string {
	switch a {
	case DeclineBlockTFA:
		return "block_tfa"
	case DeclineBanUser:
		return "ban_user"
	case DeclineBanIP:
		return "ban_ip"
	case DeclineNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// DeclineActions is implemented by the host to carry out decline handling.
type DeclineActions interface {
	Permitted(ctx context.Context, userID string, action DeclineAction) (bool, error)
	BanUser(ctx context.Context, userID, reason string) error
	BanIP(ctx context.Context, userID, ip, reason string) error
	NotifyUser(ctx context.Context, userID, message string) error
}

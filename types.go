package threemaGW

import (
	"context"
	"time"

	"github.com/MrEthical07/threemaGW/inbound"
)

// Permission names checked before a declined fast-mode confirmation
// triggers the matching side effect.
const (
	PermDeclineBlockTFA = "threemagw.decline.block_tfa"
	PermDeclineBanUser  = "threemagw.decline.ban_user"
	PermDeclineBanIP    = "threemagw.decline.ban_ip"
	PermDeclineNotify   = "threemagw.decline.notify"
)

// AccountProvider carries out account actions of the host application.
type AccountProvider interface {
	BanUser(ctx context.Context, userID, reason string) error
	BanIP(ctx context.Context, ip, reason string) error
	NotifyUser(ctx context.Context, userID, message string) error
}

// PermissionProvider returns the groups a user belongs to. Results are
// cached until Engine.InvalidatePermissions is called.
type PermissionProvider interface {
	UserGroups(ctx context.Context, userID string) ([]string, error)
}

// CallbackRequest holds the form fields of a gateway callback.
type CallbackRequest struct {
	Method     string
	RemoteAddr string

	AccessToken string
	From        string
	To          string
	MessageID   string
	Date        string
	Nonce       string
	Box         string
	MAC         string
	// Nickname is the sender's public nickname. The MAC does not cover it.
	Nickname string
}

// CallbackResponse is what the endpoint answers. Body only ever contains
// the public log.
type CallbackResponse struct {
	Status    int
	Body      string
	Retryable bool
	Saved     bool
	// Log includes detailed entries and must stay server side.
	Log inbound.Log
}

// StoredMessage is the persisted view of a received message. Placeholders
// carry only the id and, inside the replay window, a day-rounded date.
type StoredMessage struct {
	MessageID     string
	Placeholder   bool
	Type          uint8
	Sender        string
	Nickname      string
	SendDate      time.Time
	ReceivedDate  time.Time
	Text          string
	ReceiptStatus uint8
	AckedIDs      []string
	MimeType      string
	Filename      string
	Size          int64
	Description   string
	Files         []StoredFile
}

type StoredFile struct {
	FileID string
	Path   string
	Kind   string
	Saved  bool
}

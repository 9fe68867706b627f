package gateway

import (
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// IDLength is the length of a Threema ID.
	IDLength = 8
	// MessageIDSize is the raw size of a message id.
	MessageIDSize = 8
	// NonceSize is the NaCl box nonce size.
	NonceSize = 24
	// KeySize is the size of Curve25519 public and private keys.
	KeySize = 32
)

var (
	ErrInvalidMessageID = errors.New("invalid message id")
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrInvalidThreemaID = errors.New("invalid threema id")
	ErrInvalidKey       = errors.New("invalid key")
)

// MessageID identifies a message per sender. Hex encoded on the wire.
type MessageID [MessageIDSize]byte

// ParseMessageID decodes a 16 character hex message id.
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	if len(s) != MessageIDSize*2 {
		return id, ErrInvalidMessageID
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, ErrInvalidMessageID
	}
	copy(id[:], raw)
	return id, nil
}

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// Nonce is a NaCl box nonce.
type Nonce [NonceSize]byte

// ParseNonce decodes a 48 character hex nonce.
func ParseNonce(s string) (Nonce, error) {
	var n Nonce
	if len(s) != NonceSize*2 {
		return n, ErrInvalidNonce
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return n, ErrInvalidNonce
	}
	copy(n[:], raw)
	return n, nil
}

func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

// ParseKey decodes a 64 character hex Curve25519 key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

// ValidThreemaID reports whether id is formally a Threema ID (8 chars of
// A-Z, 0-9 or '*').
func ValidThreemaID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '*' {
			continue
		}
		return false
	}
	return true
}

// MessageType is the first byte of a decrypted payload.
type MessageType uint8

const (
	TypeText            MessageType = 0x01
	TypeImage           MessageType = 0x02
	TypeFile            MessageType = 0x17
	TypeDeliveryReceipt MessageType = 0x80
)

func (t MessageType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeImage:
		return "image"
	case TypeFile:
		return "file"
	case TypeDeliveryReceipt:
		return "delivery_receipt"
	default:
		return "unknown"
	}
}

// ReceiptType is the status carried by a delivery receipt.
type ReceiptType uint8

const (
	ReceiptReceived     ReceiptType = 1
	ReceiptRead         ReceiptType = 2
	ReceiptAcknowledged ReceiptType = 3
	ReceiptDeclined     ReceiptType = 4
)

func (r ReceiptType) String() string {
	switch r {
	case ReceiptReceived:
		return "received"
	case ReceiptRead:
		return "read"
	case ReceiptAcknowledged:
		return "acknowledged"
	case ReceiptDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Message is a decrypted gateway message.
type Message interface {
	Type() MessageType
}

// TextMessage is a plain UTF-8 text message.
type TextMessage struct {
	Text string
}

func (TextMessage) Type() MessageType { return TypeText }

// DeliveryReceipt acknowledges one or more earlier messages.
type DeliveryReceipt struct {
	Status     ReceiptType
	MessageIDs []MessageID
}

func (DeliveryReceipt) Type() MessageType { return TypeDeliveryReceipt }

// SavedFile describes a blob written to the download directory.
type SavedFile struct {
	Kind  string // "file", "thumbnail" or "image"
	Path  string
	Saved bool
}

// FileMessage carries a file blob reference.
type FileMessage struct {
	BlobID      string
	ThumbnailID string
	Key         [KeySize]byte
	MimeType    string
	Filename    string
	Size        int64
	Description string
	Files       []SavedFile
}

func (FileMessage) Type() MessageType { return TypeFile }

// ImageMessage carries an image blob reference encrypted to our key.
type ImageMessage struct {
	BlobID string
	Size   uint32
	Nonce  Nonce
	Files  []SavedFile
}

func (ImageMessage) Type() MessageType { return TypeImage }

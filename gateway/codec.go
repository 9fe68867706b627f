package gateway

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	minPaddedLength = 32
	blobIDSize      = 16
)

var (
	ErrBadPadding       = errors.New("invalid payload padding")
	ErrEmptyPayload     = errors.New("empty payload")
	ErrUnsupportedType  = errors.New("unsupported message type")
	ErrMalformedPayload = errors.New("malformed message payload")
)

// encodeMessage serializes m to its unpadded plaintext form.
func encodeMessage(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case TextMessage:
		if msg.Text == "" || !utf8.ValidString(msg.Text) {
			return nil, ErrMalformedPayload
		}
		out := make([]byte, 0, len(msg.Text)+1)
		out = append(out, byte(TypeText))
		return append(out, msg.Text...), nil
	case DeliveryReceipt:
		if len(msg.MessageIDs) == 0 {
			return nil, ErrMalformedPayload
		}
		out := make([]byte, 0, 2+len(msg.MessageIDs)*MessageIDSize)
		out = append(out, byte(TypeDeliveryReceipt), byte(msg.Status))
		for _, id := range msg.MessageIDs {
			out = append(out, id[:]...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, m)
	}
}

// decodeMessage parses an unpadded plaintext into a typed message.
func decodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	body := data[1:]

	switch MessageType(data[0]) {
	case TypeText:
		if len(body) == 0 || !utf8.Valid(body) {
			return nil, ErrMalformedPayload
		}
		return TextMessage{Text: string(body)}, nil

	case TypeDeliveryReceipt:
		if len(body) < 1+MessageIDSize || (len(body)-1)%MessageIDSize != 0 {
			return nil, ErrMalformedPayload
		}
		receipt := DeliveryReceipt{Status: ReceiptType(body[0])}
		for off := 1; off < len(body); off += MessageIDSize {
			var id MessageID
			copy(id[:], body[off:off+MessageIDSize])
			receipt.MessageIDs = append(receipt.MessageIDs, id)
		}
		return receipt, nil

	case TypeImage:
		if len(body) != blobIDSize+4+NonceSize {
			return nil, ErrMalformedPayload
		}
		img := ImageMessage{
			BlobID: hex.EncodeToString(body[:blobIDSize]),
			Size:   binary.LittleEndian.Uint32(body[blobIDSize : blobIDSize+4]),
		}
		copy(img.Nonce[:], body[blobIDSize+4:])
		return img, nil

	case TypeFile:
		var raw struct {
			Blob        string `json:"b"`
			Thumbnail   string `json:"t"`
			Key         string `json:"k"`
			MimeType    string `json:"m"`
			Name        string `json:"n"`
			Size        int64  `json:"s"`
			Description string `json:"d"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if len(raw.Blob) != blobIDSize*2 {
			return nil, ErrMalformedPayload
		}
		key, err := ParseKey(raw.Key)
		if err != nil {
			return nil, ErrMalformedPayload
		}
		return FileMessage{
			BlobID:      raw.Blob,
			ThumbnailID: raw.Thumbnail,
			Key:         key,
			MimeType:    raw.MimeType,
			Filename:    raw.Name,
			Size:        raw.Size,
			Description: raw.Description,
		}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedType, data[0])
	}
}

// pad appends PKCS#7 style random-length padding. The padded result is at
// least minPaddedLength bytes long.
func pad(data []byte) ([]byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	n := int(b[0])
	if n == 0 {
		n = 1
	}
	if len(data)+n < minPaddedLength {
		n = minPaddedLength - len(data)
	}

	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out, nil
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n >= len(data) {
		return nil, ErrBadPadding
	}
	return data[:len(data)-n], nil
}

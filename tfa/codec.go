package tfa

import (
	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
}

// EncodeProviderData serializes data for storage.
func EncodeProviderData(data *ProviderData) ([]byte, error) {
	return encMode.Marshal(data)
}

// DecodeProviderData parses a stored record.
func DecodeProviderData(raw []byte) (*ProviderData, error) {
	data := &ProviderData{}
	if err := cbor.Unmarshal(raw, data); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodePendingRequest serializes req for storage.
func EncodePendingRequest(req PendingRequest) ([]byte, error) {
	return encMode.Marshal(req)
}

// DecodePendingRequest parses a stored request.
func DecodePendingRequest(raw []byte) (PendingRequest, error) {
	var req PendingRequest
	err := cbor.Unmarshal(raw, &req)
	return req, err
}

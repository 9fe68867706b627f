package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

type staticKeys map[string][KeySize]byte

func (s staticKeys) PublicKey(_ context.Context, id string) ([KeySize]byte, error) {
	key, ok := s[id]
	if !ok {
		return key, ErrGatewayNotFound
	}
	return key, nil
}

type staticBlobs map[string][]byte

func (s staticBlobs) DownloadBlob(_ context.Context, id string) ([]byte, error) {
	data, ok := s[id]
	if !ok {
		return nil, ErrGatewayNotFound
	}
	return data, nil
}

type keyPair struct {
	public  [KeySize]byte
	private [KeySize]byte
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keyPair{public: *pub, private: *priv}
}

func TestEncryptDecryptTextRoundTrip(t *testing.T) {
	alice := newKeyPair(t)
	gw := newKeyPair(t)

	aliceSide := NewCrypto(alice.private, staticKeys{"*GATEWAY": gw.public}, nil)
	gwSide := NewCrypto(gw.private, staticKeys{"ECHOECHO": alice.public}, nil)

	boxed, nonce, err := aliceSide.Encrypt(context.Background(), "*GATEWAY", TextMessage{Text: "123456"})
	require.NoError(t, err)

	msg, err := gwSide.Decrypt(context.Background(), "ECHOECHO", MessageID{1, 2, 3}, boxed, nonce, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, TextMessage{Text: "123456"}, msg)
}

func TestDecryptDeliveryReceipt(t *testing.T) {
	alice := newKeyPair(t)
	gw := newKeyPair(t)

	acked, err := ParseMessageID("0123456789abcdef")
	require.NoError(t, err)

	aliceSide := NewCrypto(alice.private, staticKeys{"*GATEWAY": gw.public}, nil)
	gwSide := NewCrypto(gw.private, staticKeys{"ECHOECHO": alice.public}, nil)

	boxed, nonce, err := aliceSide.Encrypt(context.Background(), "*GATEWAY", DeliveryReceipt{
		Status:     ReceiptDeclined,
		MessageIDs: []MessageID{acked},
	})
	require.NoError(t, err)

	msg, err := gwSide.Decrypt(context.Background(), "ECHOECHO", MessageID{9}, boxed, nonce, t.TempDir())
	require.NoError(t, err)

	receipt, ok := msg.(DeliveryReceipt)
	require.True(t, ok)
	assert.Equal(t, ReceiptDeclined, receipt.Status)
	assert.Equal(t, []MessageID{acked}, receipt.MessageIDs)
}

func TestDecryptRejectsTamperedBox(t *testing.T) {
	alice := newKeyPair(t)
	gw := newKeyPair(t)

	aliceSide := NewCrypto(alice.private, staticKeys{"*GATEWAY": gw.public}, nil)
	gwSide := NewCrypto(gw.private, staticKeys{"ECHOECHO": alice.public}, nil)

	boxed, nonce, err := aliceSide.Encrypt(context.Background(), "*GATEWAY", TextMessage{Text: "hello"})
	require.NoError(t, err)
	boxed[len(boxed)-1] ^= 0xff

	_, err = gwSide.Decrypt(context.Background(), "ECHOECHO", MessageID{}, boxed, nonce, t.TempDir())
	assert.True(t, errors.Is(err, ErrDecryptFailed))
}

func TestDecryptWithoutPrivateKey(t *testing.T) {
	c := NewCrypto([KeySize]byte{}, staticKeys{}, nil)
	assert.False(t, c.E2EConfigured())

	_, err := c.Decrypt(context.Background(), "ECHOECHO", MessageID{}, []byte{1}, Nonce{}, "")
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestDecryptFileMessageDownloadsBlob(t *testing.T) {
	alice := newKeyPair(t)
	gw := newKeyPair(t)

	var fileKey [KeySize]byte
	_, err := rand.Read(fileKey[:])
	require.NoError(t, err)

	content := []byte("report contents")
	blob := secretbox.Seal(nil, content, (*[NonceSize]byte)(&fileBlobNonce), &fileKey)
	blobID := "00112233445566778899aabbccddeeff"

	payload := []byte(`{"b":"` + blobID + `","k":"` + hex.EncodeToString(fileKey[:]) + `","m":"text/plain","n":"../report.txt","s":15}`)
	plain := append([]byte{byte(TypeFile)}, payload...)
	padded, err := pad(plain)
	require.NoError(t, err)

	var nonce Nonce
	_, err = rand.Read(nonce[:])
	require.NoError(t, err)
	boxed := box.Seal(nil, padded, (*[NonceSize]byte)(&nonce), &gw.public, &alice.private)

	dir := t.TempDir()
	gwSide := NewCrypto(gw.private, staticKeys{"ECHOECHO": alice.public}, staticBlobs{blobID: blob})

	msg, err := gwSide.Decrypt(context.Background(), "ECHOECHO", MessageID{7}, boxed, nonce, dir)
	require.NoError(t, err)

	file, ok := msg.(FileMessage)
	require.True(t, ok)
	require.Len(t, file.Files, 1)
	assert.True(t, file.Files[0].Saved)
	assert.Equal(t, dir, filepath.Dir(file.Files[0].Path), "file name must not escape the download dir")

	saved, err := os.ReadFile(file.Files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, content, saved)
}

func TestPadding(t *testing.T) {
	padded, err := pad([]byte{byte(TypeText), 'a'})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(padded), minPaddedLength)

	out, err := unpad(padded)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(TypeText), 'a'}, out)

	_, err = unpad([]byte{0x01, 0x05})
	assert.ErrorIs(t, err, ErrBadPadding)
}

func TestDecodeMessageRejectsMalformedReceipt(t *testing.T) {
	_, err := decodeMessage([]byte{byte(TypeDeliveryReceipt), 3, 1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = decodeMessage([]byte{0x42, 1})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrDecryptFailed  = errors.New("decryption failed")
	ErrNoPrivateKey   = errors.New("e2e private key not configured")
	ErrNoKeyResolver  = errors.New("public key resolver not configured")
	ErrBlobDecryption = errors.New("blob decryption failed")
)

var (
	fileBlobNonce      = Nonce{NonceSize - 1: 1}
	thumbnailBlobNonce = Nonce{NonceSize - 1: 2}
)

// PublicKeyResolver returns the public key of a Threema ID.
type PublicKeyResolver interface {
	PublicKey(ctx context.Context, threemaID string) ([KeySize]byte, error)
}

// BlobFetcher downloads an encrypted blob by id.
type BlobFetcher interface {
	DownloadBlob(ctx context.Context, blobID string) ([]byte, error)
}

// Crypto performs end-to-end encryption against the gateway's own key pair.
type Crypto struct {
	privateKey [KeySize]byte
	hasKey     bool
	keys       PublicKeyResolver
	blobs      BlobFetcher
}

// NewCrypto builds an E2E crypto adapter. blobs may be nil, in which case
// file and image messages are decoded but their blobs are not downloaded.
func NewCrypto(privateKey [KeySize]byte, keys PublicKeyResolver, blobs BlobFetcher) *Crypto {
	var zero [KeySize]byte
	return &Crypto{
		privateKey: privateKey,
		hasKey:     privateKey != zero,
		keys:       keys,
		blobs:      blobs,
	}
}

// E2EConfigured reports whether a private key is available.
func (c *Crypto) E2EConfigured() bool {
	return c != nil && c.hasKey
}

// Decrypt opens box from sender and returns the typed message. For file and
// image messages the referenced blobs are downloaded into downloadDir when
// a BlobFetcher is configured.
func (c *Crypto) Decrypt(ctx context.Context, sender string, id MessageID, boxed []byte, nonce Nonce, downloadDir string) (Message, error) {
	if !c.E2EConfigured() {
		return nil, ErrNoPrivateKey
	}
	if c.keys == nil {
		return nil, ErrNoKeyResolver
	}

	senderKey, err := c.keys.PublicKey(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("lookup public key of %s: %w", sender, err)
	}

	plain, ok := box.Open(nil, boxed, (*[NonceSize]byte)(&nonce), &senderKey, &c.privateKey)
	if !ok {
		return nil, ErrDecryptFailed
	}
	unpadded, err := unpad(plain)
	if err != nil {
		return nil, err
	}
	msg, err := decodeMessage(unpadded)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case FileMessage:
		if c.blobs == nil {
			m.Files = plannedFiles(downloadDir, id, m)
			return m, nil
		}
		files, err := c.saveFileBlobs(ctx, downloadDir, id, m)
		if err != nil {
			return nil, err
		}
		m.Files = files
		return m, nil
	case ImageMessage:
		path := blobPath(downloadDir, id, "image", m.BlobID+".jpg")
		if c.blobs == nil {
			m.Files = []SavedFile{{Kind: "image", Path: path}}
			return m, nil
		}
		data, err := c.blobs.DownloadBlob(ctx, m.BlobID)
		if err != nil {
			return nil, err
		}
		img, ok := box.Open(nil, data, (*[NonceSize]byte)(&m.Nonce), &senderKey, &c.privateKey)
		if !ok {
			return nil, ErrBlobDecryption
		}
		if err := os.WriteFile(path, img, 0o600); err != nil {
			return nil, err
		}
		m.Files = []SavedFile{{Kind: "image", Path: path, Saved: true}}
		return m, nil
	}
	return msg, nil
}

// Encrypt pads and boxes m for recipient.
func (c *Crypto) Encrypt(ctx context.Context, recipient string, m Message) ([]byte, Nonce, error) {
	var nonce Nonce
	if !c.E2EConfigured() {
		return nil, nonce, ErrNoPrivateKey
	}
	if c.keys == nil {
		return nil, nonce, ErrNoKeyResolver
	}

	recipientKey, err := c.keys.PublicKey(ctx, recipient)
	if err != nil {
		return nil, nonce, fmt.Errorf("lookup public key of %s: %w", recipient, err)
	}

	plain, err := encodeMessage(m)
	if err != nil {
		return nil, nonce, err
	}
	padded, err := pad(plain)
	if err != nil {
		return nil, nonce, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, err
	}

	sealed := box.Seal(nil, padded, (*[NonceSize]byte)(&nonce), &recipientKey, &c.privateKey)
	return sealed, nonce, nil
}

func (c *Crypto) saveFileBlobs(ctx context.Context, dir string, id MessageID, m FileMessage) ([]SavedFile, error) {
	files := make([]SavedFile, 0, 2)

	data, err := c.blobs.DownloadBlob(ctx, m.BlobID)
	if err != nil {
		return nil, err
	}
	plain, ok := secretbox.Open(nil, data, (*[NonceSize]byte)(&fileBlobNonce), &m.Key)
	if !ok {
		return nil, ErrBlobDecryption
	}
	path := blobPath(dir, id, "file", m.Filename)
	if err := os.WriteFile(path, plain, 0o600); err != nil {
		return nil, err
	}
	files = append(files, SavedFile{Kind: "file", Path: path, Saved: true})

	if m.ThumbnailID == "" {
		return files, nil
	}
	thumb, err := c.blobs.DownloadBlob(ctx, m.ThumbnailID)
	if err != nil {
		// a missing thumbnail does not invalidate the file itself
		files = append(files, SavedFile{Kind: "thumbnail", Path: blobPath(dir, id, "thumbnail", m.ThumbnailID+".jpg")})
		return files, nil
	}
	plainThumb, ok := secretbox.Open(nil, thumb, (*[NonceSize]byte)(&thumbnailBlobNonce), &m.Key)
	if !ok {
		return nil, ErrBlobDecryption
	}
	thumbPath := blobPath(dir, id, "thumbnail", m.ThumbnailID+".jpg")
	if err := os.WriteFile(thumbPath, plainThumb, 0o600); err != nil {
		return nil, err
	}
	return append(files, SavedFile{Kind: "thumbnail", Path: thumbPath, Saved: true}), nil
}

func plannedFiles(dir string, id MessageID, m FileMessage) []SavedFile {
	files := []SavedFile{{Kind: "file", Path: blobPath(dir, id, "file", m.Filename)}}
	if m.ThumbnailID != "" {
		files = append(files, SavedFile{Kind: "thumbnail", Path: blobPath(dir, id, "thumbnail", m.ThumbnailID+".jpg")})
	}
	return files
}

func blobPath(dir string, id MessageID, kind, name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "blob"
	}
	return filepath.Join(dir, id.String()+"-"+kind+"-"+name)
}

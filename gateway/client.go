package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Threema gateway API endpoint.
const DefaultBaseURL = "https://msgapi.threema.ch"

const maxResponseSize = 64 << 20

var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrGatewayNotFound    = errors.New("gateway resource not found")
)

// ClientConfig configures the HTTP client for the gateway API.
type ClientConfig struct {
	BaseURL    string
	ID         string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the gateway REST API.
type Client struct {
	baseURL string
	id      string
	secret  string
	http    *http.Client
}

// NewClient creates a gateway API client.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		id:      cfg.ID,
		secret:  cfg.Secret,
		http:    hc,
	}
}

// LookupPublicKey fetches the public key of threemaID.
func (c *Client) LookupPublicKey(ctx context.Context, threemaID string) ([KeySize]byte, error) {
	var key [KeySize]byte
	if !ValidThreemaID(threemaID) {
		return key, ErrInvalidThreemaID
	}

	body, err := c.get(ctx, "/pubkeys/"+url.PathEscape(threemaID))
	if err != nil {
		return key, err
	}
	return ParseKey(string(body))
}

// PublicKey implements PublicKeyResolver directly against the API.
func (c *Client) PublicKey(ctx context.Context, threemaID string) ([KeySize]byte, error) {
	return c.LookupPublicKey(ctx, threemaID)
}

// SendE2E delivers an already encrypted box and returns the message id the
// gateway assigned.
func (c *Client) SendE2E(ctx context.Context, to string, boxed []byte, nonce Nonce) (MessageID, error) {
	var id MessageID
	if !ValidThreemaID(to) {
		return id, ErrInvalidThreemaID
	}

	form := url.Values{}
	form.Set("from", c.id)
	form.Set("to", to)
	form.Set("nonce", nonce.String())
	form.Set("box", hex.EncodeToString(boxed))
	form.Set("secret", c.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_e2e", strings.NewReader(form.Encode()))
	if err != nil {
		return id, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")

	body, err := c.do(req)
	if err != nil {
		return id, err
	}
	return ParseMessageID(strings.TrimSpace(string(body)))
}

// DownloadBlob fetches an encrypted blob.
func (c *Client) DownloadBlob(ctx context.Context, blobID string) ([]byte, error) {
	if _, err := hex.DecodeString(blobID); err != nil || len(blobID) != blobIDSize*2 {
		return nil, ErrMalformedPayload
	}
	return c.get(ctx, "/blobs/"+blobID)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	q := url.Values{}
	q.Set("from", c.id)
	q.Set("secret", c.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrGatewayNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
}

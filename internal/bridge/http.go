package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/crypto"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// HTTPBridge speaks the generic REST bridge contract:
//
//	POST {base}/transfers        body TransferRequest, reply {"transfer_id": "..."}
//	GET  {base}/transfers/{id}   reply {"status": "IN_TRANSIT"}
//
// Requests are HMAC-signed when auth is set.
type HTTPBridge struct {
	id         string
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewHTTPBridge creates a REST bridge client. auth may be nil.
func NewHTTPBridge(id, baseURL string, timeout time.Duration, auth *crypto.HMACAuth) *HTTPBridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBridge{
		id:         id,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}
}

func (b *HTTPBridge) ID() string { return b.id }

type initiateBody struct {
	domain.TransferRequest
	BridgeID string `json:"bridge_id"`
}

type initiateReply struct {
	TransferID string `json:"transfer_id"`
}

type statusReply struct {
	Status domain.BridgeStatus `json:"status"`
}

// Initiate starts a transfer and returns the bridge-assigned id.
func (b *HTTPBridge) Initiate(ctx context.Context, req domain.TransferRequest) (string, error) {
	respBody, err := b.do(ctx, http.MethodPost, "/transfers", initiateBody{TransferRequest: req, BridgeID: b.id})
	if err != nil {
		return "", fmt.Errorf("bridge/%s: initiate: %w", b.id, err)
	}
	var reply initiateReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return "", fmt.Errorf("bridge/%s: decode initiate reply: %w", b.id, err)
	}
	if reply.TransferID == "" {
		return "", fmt.Errorf("bridge/%s: initiate: empty transfer id: %w", b.id, domain.ErrBridge)
	}
	return reply.TransferID, nil
}

// PollStatus returns the current status of a transfer.
func (b *HTTPBridge) PollStatus(ctx context.Context, transferID string) (domain.BridgeStatus, error) {
	respBody, err := b.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(transferID), nil)
	if err != nil {
		return "", fmt.Errorf("bridge/%s: poll %s: %w", b.id, transferID, err)
	}
	var reply statusReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return "", fmt.Errorf("bridge/%s: decode status reply: %w", b.id, err)
	}
	switch reply.Status {
	case domain.BridgeInitiated, domain.BridgeInTransit, domain.BridgeConfirmed, domain.BridgeFailed:
		return reply.Status, nil
	default:
		return "", fmt.Errorf("bridge/%s: unknown status %q: %w", b.id, reply.Status, domain.ErrBridge)
	}
}

func (b *HTTPBridge) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.auth != nil {
		for k, v := range b.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrBridge, statusCode, body)
	}
}

var _ domain.Bridge = (*HTTPBridge)(nil)

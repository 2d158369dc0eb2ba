package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// QuoteClient talks to an aggregator-style quote/swap service:
//
//	GET  {base}/quote?inputMint=&outputMint=&amount=&slippageBps=  -> QuoteResponse
//	POST {base}/swap  {"route":Route,"userPublicKey":"..."}       -> SwapResponse
//
// Amounts are integer base units encoded as decimal strings.
type QuoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewQuoteClient creates a client for the service at baseURL.
func NewQuoteClient(baseURL string, timeout time.Duration) *QuoteClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QuoteClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Route is one priced path returned by the service.
type Route struct {
	RouteID     string  `json:"routeId"`
	InAmount    string  `json:"inAmount"`
	OutAmount   string  `json:"outAmount"`
	PriceImpact float64 `json:"priceImpact"` // fraction, 0.01 = 1%
}

// QuoteResponse lists the routes for one request, best first.
type QuoteResponse struct {
	Routes []Route `json:"routes"`
}

// SwapResponse carries the unsigned base64 wire transaction.
type SwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Quote fetches routes for amount base units of inputMint.
func (q *QuoteClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (QuoteResponse, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := q.do(req)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("solana/quote: get quote: %w", err)
	}
	var out QuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return QuoteResponse{}, fmt.Errorf("solana/quote: decode quote: %w", err)
	}
	return out, nil
}

// Swap asks the service to build a transaction for route, paid by user.
func (q *QuoteClient) Swap(ctx context.Context, route Route, userPublicKey string) (SwapResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"route":         route,
		"userPublicKey": userPublicKey,
	})
	if err != nil {
		return SwapResponse{}, fmt.Errorf("solana/quote: marshal swap: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return SwapResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := q.do(req)
	if err != nil {
		return SwapResponse{}, fmt.Errorf("solana/quote: swap: %w", err)
	}
	var out SwapResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return SwapResponse{}, fmt.Errorf("solana/quote: decode swap: %w", err)
	}
	if out.SwapTransaction == "" {
		return SwapResponse{}, fmt.Errorf("solana/quote: empty swap transaction")
	}
	return out, nil
}

func (q *QuoteClient) do(req *http.Request) ([]byte, error) {
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

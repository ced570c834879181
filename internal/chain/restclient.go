package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/satmeter/facilitator/internal/retry"
	"github.com/satmeter/facilitator/internal/x402"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	lookupMaxAttempts  = 3
	lookupBaseDelay    = 200 * time.Millisecond
)

// RESTClient talks to a chain index over its JSON REST API. It implements
// both Oracle and Broadcaster.
//
// Read endpoints are retried with backoff on transient failures; broadcast
// is attempted exactly once.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a client for the index at baseURL.
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type outputResponse struct {
	Value         int64  `json:"value"`
	Address       string `json:"address"`
	Confirmations int64  `json:"confirmations"`
	Spent         bool   `json:"spent"`
}

type balanceResponse struct {
	Confirmed int64 `json:"confirmed"`
}

type broadcastRequest struct {
	Outputs []Output `json:"outputs"`
}

type broadcastResponse struct {
	TxID string `json:"txid"`
}

func (c *RESTClient) Spendable(ctx context.Context, ref x402.FundingRef) (bool, error) {
	out, err := c.fetchOutput(ctx, ref)
	if err != nil {
		return false, err
	}
	return !out.Spent, nil
}

func (c *RESTClient) Describe(ctx context.Context, ref x402.FundingRef) (*OutputInfo, error) {
	out, err := c.fetchOutput(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &OutputInfo{
		Value:         out.Value,
		Recipient:     out.Address,
		Confirmations: out.Confirmations,
	}, nil
}

func (c *RESTClient) AddressBalance(ctx context.Context, address string) (int64, error) {
	var resp balanceResponse
	url := fmt.Sprintf("%s/address/%s/balance", c.baseURL, address)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return 0, err
	}
	return resp.Confirmed, nil
}

// Send broadcasts a transfer. Exactly one attempt: retrying a broadcast that
// timed out mid-flight risks paying twice.
func (c *RESTClient) Send(ctx context.Context, outputs []Output) (string, error) {
	body, err := json.Marshal(broadcastRequest{Outputs: outputs})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx/broadcast", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: index returned %d", ErrBroadcast, httpResp.StatusCode)
	}

	var resp broadcastResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	return resp.TxID, nil
}

func (c *RESTClient) fetchOutput(ctx context.Context, ref x402.FundingRef) (*outputResponse, error) {
	var resp outputResponse
	url := fmt.Sprintf("%s/tx/%s/out/%d", c.baseURL, ref.TxID, ref.Vout)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// getJSON fetches url into dst, retrying transient failures. A 404 is
// permanent and mapped to ErrOutputNotFound; other non-200 statuses and
// transport errors are retried as ErrUnavailable.
func (c *RESTClient) getJSON(ctx context.Context, url string, dst interface{}) error {
	return retry.Do(ctx, lookupMaxAttempts, lookupBaseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer func() { _ = httpResp.Body.Close() }()

		switch {
		case httpResp.StatusCode == http.StatusOK:
		case httpResp.StatusCode == http.StatusNotFound:
			return retry.Permanent(ErrOutputNotFound)
		default:
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, httpResp.Body)
			return fmt.Errorf("%w: index returned %d", ErrUnavailable, httpResp.StatusCode)
		}

		if err := json.NewDecoder(httpResp.Body).Decode(dst); err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		return nil
	})
}

// Compile-time assertions.
var (
	_ Oracle      = (*RESTClient)(nil)
	_ Broadcaster = (*RESTClient)(nil)
)

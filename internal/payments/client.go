package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vendly/ordercore/internal/apperr"
)

// GatewayOrder is the remote transaction handle returned by the payment
// gateway. One handle spans every vendor sub-order of a checkout.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// GatewayRefund is the gateway's record of a refund against a captured
// payment.
type GatewayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Client calls the payment gateway's REST API. The injected http.Client
// carries a bounded timeout; a timed-out call is an upstream failure,
// never an implicit success.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

func NewClient(baseURL, keyID, keySecret string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: httpClient,
	}
}

// KeyID is the public key identifier the browser needs to open the
// gateway's checkout UI.
func (c *Client) KeyID() string {
	return c.keyID
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

// CreateOrder opens one remote transaction covering the checkout's grand
// total in minor currency units. Notes carry the internal order ids and
// the application id used to reject cross-application webhook noise.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*GatewayOrder, error) {
	var out GatewayOrder
	err := c.post(ctx, "/v1/orders", createOrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type refundRequest struct {
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes"`
}

// Refund issues a refund against a previously captured payment. The
// gateway is the source of truth for money movement: callers must not
// record a local refund unless this returns successfully.
func (c *Client) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*GatewayRefund, error) {
	var out GatewayRefund
	err := c.post(ctx, fmt.Sprintf("/v1/payments/%s/refund", paymentID), refundRequest{
		Amount: amount,
		Notes:  notes,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeGatewayUpstream, "payment gateway unavailable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Upstream error bodies are logged by the caller, never returned
		// to the client.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.Wrap(apperr.CodeGatewayUpstream, "payment gateway request failed",
			fmt.Errorf("gateway: %s returned %d: %s", path, resp.StatusCode, detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.CodeGatewayUpstream, "payment gateway returned malformed response", err)
	}
	return nil
}

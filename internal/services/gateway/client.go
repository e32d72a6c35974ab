package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"slot-booking/internal/status"
	"slot-booking/models"
)

type ClientConfig struct {
	// BaseURL is the base url of the payment processor backend.
	BaseURL string `json:"baseUrl" mapstructure:"base_url"`

	// APIKey is sent as bearer auth on every call.
	APIKey string `json:"apiKey" mapstructure:"api_key"`

	// HMACKey signs request bodies.
	HMACKey string `json:"hmacKey" mapstructure:"hmac_key"`
}

// HTTPClient talks to the processor over HTTP+JSON. Every call carries
// bearer auth and an HMAC-SHA256 signature of the body.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hmacKey string

	// hc is the http client.
	hc *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new processor client.
func NewHTTPClient(c *ClientConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: c.BaseURL,
		apiKey:  c.APIKey,
		hmacKey: c.HMACKey,

		// set http client with timeout; per-call contexts narrow it.
		hc: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// wirePayment is the processor's payment representation.
type wirePayment struct {
	PaymentID     string          `json:"payment_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	ReceiptURL    string          `json:"receipt_url"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (w *wirePayment) toResult() *PaymentResult {
	return &PaymentResult{
		PaymentID:     w.PaymentID,
		Status:        models.ParsePaymentStatus(w.Status),
		Amount:        w.Amount,
		TransactionID: w.TransactionID,
		ReceiptURL:    w.ReceiptURL,
		Timestamp:     w.Timestamp,
	}
}

func (c *HTTPClient) Pay(ctx context.Context, req *PayRequest) (*PaymentResult, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("gateway.Pay: randomNumber: %v", err)
	}

	body := map[string]any{
		"request_id": number,
		"payment_id": req.PaymentID,
		"booking_id": req.BookingID,
		"amount":     req.Amount,
		"currency":   req.Currency,
		"method":     req.Method,
		"metadata":   req.Metadata,
		"timestamp":  time.Now().UTC(),
	}

	var reply wirePayment
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &reply); err != nil {
		return nil, err
	}
	return reply.toResult(), nil
}

func (c *HTTPClient) Retry(ctx context.Context, paymentID string) (*PaymentResult, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("gateway.Retry: randomNumber: %v", err)
	}

	body := map[string]any{
		"request_id": number,
		"timestamp":  time.Now().UTC(),
	}

	var reply wirePayment
	path := fmt.Sprintf("/api/v1/payments/%s/retry", url.PathEscape(paymentID))
	if err := c.do(ctx, http.MethodPost, path, body, &reply); err != nil {
		return nil, err
	}
	return reply.toResult(), nil
}

func (c *HTTPClient) Cancel(ctx context.Context, paymentID string) error {
	number, err := randomNumber()
	if err != nil {
		return fmt.Errorf("gateway.Cancel: randomNumber: %v", err)
	}

	body := map[string]any{
		"request_id": number,
		"timestamp":  time.Now().UTC(),
	}

	path := fmt.Sprintf("/api/v1/payments/%s/cancel", url.PathEscape(paymentID))
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("gateway.Refund: randomNumber: %v", err)
	}

	body := map[string]any{
		"request_id": number,
		"refund_id":  req.RefundID,
		"amount":     req.Amount,
		"reason":     req.Reason,
		"timestamp":  time.Now().UTC(),
	}

	var reply struct {
		RefundID      string    `json:"refund_id"`
		TransactionID string    `json:"transaction_id"`
		RefundedAt    time.Time `json:"refunded_at"`
	}
	path := fmt.Sprintf("/api/v1/payments/%s/refunds", url.PathEscape(req.PaymentID))
	if err := c.do(ctx, http.MethodPost, path, body, &reply); err != nil {
		return nil, err
	}

	refundedAt := reply.RefundedAt
	if refundedAt.IsZero() {
		refundedAt = time.Now().UTC()
	}
	return &RefundResult{
		RefundID:      reply.RefundID,
		TransactionID: reply.TransactionID,
		RefundedAt:    refundedAt,
	}, nil
}

func (c *HTTPClient) Status(ctx context.Context, paymentID string) (*PaymentResult, error) {
	var reply wirePayment
	path := fmt.Sprintf("/api/v1/payments/%s", url.PathEscape(paymentID))
	if err := c.do(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return nil, err
	}
	return reply.toResult(), nil
}

// do issues one signed call and decodes the reply. Timeouts and
// network failures surface as transient errors so callers can re-query
// instead of assuming the processor did nothing; non-2xx replies are
// parsed for a message field and surfaced as gateway errors.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, dst any) error {
	var bodyReader io.Reader
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("gateway: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if raw != nil {
		req.Header.Set("SignedHash", Hmac256(raw, []byte(c.hmacKey)))
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return status.Transient(status.CodeTimeout, "gateway %s %s timed out", method, path)
		}
		return status.Transient(status.CodeGatewayError, "gateway %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var reply struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &reply)
		if reply.Message == "" {
			reply.Message = http.StatusText(resp.StatusCode)
		}
		return status.Gateway(reply.Message, fmt.Errorf("gateway: %s %s: status %d", method, path, resp.StatusCode))
	}

	if dst == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("gateway: json.Decode: %w", err)
	}
	return nil
}

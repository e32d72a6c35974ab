// Package gateway is the boundary to the external payment processor.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"slot-booking/models"
)

// PayRequest carries one payment attempt. PaymentID is the
// caller-generated idempotency key: retrying the same id must create
// at most one processor-side payment.
type PayRequest struct {
	PaymentID string               `json:"payment_id"`
	BookingID string               `json:"booking_id"`
	Amount    decimal.Decimal      `json:"amount"`
	Currency  string               `json:"currency"`
	Method    models.PaymentMethod `json:"method"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
}

// PaymentResult is the processor's answer mapped into the closed
// status enumeration.
type PaymentResult struct {
	PaymentID     string
	Status        models.PaymentStatus
	Amount        decimal.Decimal
	TransactionID string
	ReceiptURL    string
	Timestamp     time.Time
}

// RefundRequest carries one refund attempt against a processed payment.
// RefundID is the idempotency key for the refund operation.
type RefundRequest struct {
	RefundID  string          `json:"refund_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

type RefundResult struct {
	RefundID      string
	TransactionID string
	RefundedAt    time.Time
}

// Client is the narrow processor interface the orchestrator depends on.
type Client interface {
	Pay(ctx context.Context, req *PayRequest) (*PaymentResult, error)
	Retry(ctx context.Context, paymentID string) (*PaymentResult, error)
	Cancel(ctx context.Context, paymentID string) error
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
	Status(ctx context.Context, paymentID string) (*PaymentResult, error)
}

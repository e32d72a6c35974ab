package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// paymentStatusByWire maps gateway wire values to the closed enum.
var paymentStatusByWire = map[string]PaymentStatus{
	"pending":            PaymentStatusPending,
	"processing":         PaymentStatusProcessing,
	"completed":          PaymentStatusCompleted,
	"succeeded":          PaymentStatusCompleted,
	"failed":             PaymentStatusFailed,
	"cancelled":          PaymentStatusCancelled,
	"canceled":           PaymentStatusCancelled,
	"refunded":           PaymentStatusRefunded,
	"partially_refunded": PaymentStatusPartiallyRefunded,
}

// ParsePaymentStatus maps a wire status string to the enum.
// Unknown values map to pending so an unrecognized gateway answer
// never flips a payment into a terminal state.
func ParsePaymentStatus(s string) PaymentStatus {
	if v, ok := paymentStatusByWire[s]; ok {
		return v
	}
	return PaymentStatusPending
}

type PaymentMethod string

const (
	PaymentMethodUnknown      PaymentMethod = "unknown"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodQRCode       PaymentMethod = "qr_code"
)

var paymentMethodByWire = map[string]PaymentMethod{
	"card":          PaymentMethodCard,
	"credit_card":   PaymentMethodCard,
	"bank_transfer": PaymentMethodBankTransfer,
	"qr_code":       PaymentMethodQRCode,
}

// ParsePaymentMethod maps a wire method string to the enum,
// falling back to an explicit unknown.
func ParsePaymentMethod(s string) PaymentMethod {
	if v, ok := paymentMethodByWire[s]; ok {
		return v
	}
	return PaymentMethodUnknown
}

// RefundInfo is one completed refund against a payment.
type RefundInfo struct {
	ID            string          `json:"refund_id"`
	Amount        decimal.Decimal `json:"refund_amount"`
	Reason        string          `json:"reason"`
	RefundedAt    time.Time       `json:"refunded_at"`
	TransactionID string          `json:"refund_transaction_id,omitempty"`
}

// PaymentInfo is one payment attempt tied to a booking. Its ID is the
// caller-generated idempotency key used on every gateway call.
type PaymentInfo struct {
	ID            string          `json:"payment_id"`
	BookingID     string          `json:"booking_id"`
	UserID        string          `json:"user_id,omitempty"`
	Method        PaymentMethod   `json:"method"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ReceiptURL    string          `json:"receipt_url,omitempty"`

	// Refunds accumulates every settled refund; their sum never exceeds Amount.
	Refunds []RefundInfo `json:"refunds,omitempty"`

	// RefundReserved is the amount held by in-flight refunds between the
	// cap check and the gateway answer.
	RefundReserved decimal.Decimal `json:"refund_reserved"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefundedTotal is the sum of all settled refunds.
func (p *PaymentInfo) RefundedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.Refunds {
		total = total.Add(r.Amount)
	}
	return total
}

// RefundableRemainder is what may still be refunded, net of reservations.
func (p *PaymentInfo) RefundableRemainder() decimal.Decimal {
	return p.Amount.Sub(p.RefundedTotal()).Sub(p.RefundReserved)
}

// IsSuccessful reports whether money was actually collected.
func (p *PaymentInfo) IsSuccessful() bool {
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// CanRefund reports whether a refund may be attempted at all.
func (p *PaymentInfo) CanRefund() bool {
	return p.IsSuccessful() && p.RefundableRemainder().IsPositive()
}

// ApplyRefund settles a refund and derives the resulting status.
// status == refunded implies the full amount is refunded;
// partially_refunded implies 0 < refunded < amount.
func (p *PaymentInfo) ApplyRefund(r RefundInfo) {
	p.Refunds = append(p.Refunds, r)
	if p.RefundedTotal().GreaterThanOrEqual(p.Amount) {
		p.Status = PaymentStatusRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
}

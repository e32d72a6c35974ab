package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// bookingTransitions is the closed transition table. Transitions are
// one-directional except pending<->confirmed.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusPending, BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusCompleted: {BookingStatusRefunded},
	BookingStatusCancelled: {BookingStatusRefunded},
	BookingStatusRefunded:  {},
	BookingStatusNoShow:    {},
}

// Booking is a reservation of one TimeSlot by one user.
type Booking struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	TimeSlotID         string          `json:"time_slot_id"`
	ItemID             string          `json:"item_id,omitempty"`
	Type               SlotType        `json:"type"`
	Status             BookingStatus   `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaymentID          string          `json:"payment_id,omitempty"`
	Title              string          `json:"title,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
}

// IsActive reports whether the booking may still be cancelled.
func (b *Booking) IsActive() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// CanTransitionTo checks the status machine.
func (b *Booking) CanTransitionTo(next BookingStatus) bool {
	for _, s := range bookingTransitions[b.Status] {
		if s == next {
			return true
		}
	}
	return false
}

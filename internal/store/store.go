// Package store persists slots, bookings and payments. All contended
// state (slot capacity counters, accumulated refund totals) is mutated
// only through RunInTransaction, which gives an all-or-nothing commit
// with automatic retry on write conflict.
package store

import (
	"context"

	"slot-booking/models"
)

// Tx is the view inside one transaction. Reads observe earlier writes
// of the same transaction; writes become visible only on commit.
type Tx interface {
	Slot(id string) (*models.TimeSlot, error)
	SaveSlot(slot *models.TimeSlot)
	Booking(id string) (*models.Booking, error)
	SaveBooking(booking *models.Booking)
	Payment(id string) (*models.PaymentInfo, error)
	SavePayment(payment *models.PaymentInfo)
}

type Store interface {
	GetSlot(ctx context.Context, id string) (*models.TimeSlot, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetPayment(ctx context.Context, id string) (*models.PaymentInfo, error)

	// SaveSlot upserts a slot outside a transaction (catalog sync path).
	SaveSlot(ctx context.Context, slot *models.TimeSlot) error
	DeleteSlot(ctx context.Context, id string) error

	ActiveSlotIDs(ctx context.Context) ([]string, error)
	PendingBookingIDs(ctx context.Context) ([]string, error)
	UserBookingIDs(ctx context.Context, userID string) ([]string, error)

	// RunInTransaction runs fn against a transactional view. watchKeys
	// name the records the transaction contends on (see SlotKey etc.).
	// On write conflict the closure is retried a bounded number of
	// times before a transient error surfaces.
	RunInTransaction(ctx context.Context, watchKeys []string, fn func(tx Tx) error) error
}

func SlotKey(id string) string    { return "slot:" + id }
func BookingKey(id string) string { return "booking:" + id }
func PaymentKey(id string) string { return "payment:" + id }

const (
	activeSlotsKey     = "slots:active"
	pendingBookingsKey = "bookings:pending"
)

func userBookingsKey(userID string) string { return "user_bookings:" + userID }

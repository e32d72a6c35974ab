package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"slot-booking/internal/status"
	"slot-booking/internal/store"
	"slot-booking/models"
	"slot-booking/monitoring"
)

// BookingService creates and cancels bookings. The capacity check, the
// booking write and the counter update always commit as one store
// transaction, so no reader ever observes a booking without its
// increment or vice versa.
type BookingService struct {
	store store.Store
}

func NewBookingService(s store.Store) *BookingService {
	return &BookingService{store: s}
}

type CreateBookingRequest struct {
	UserID      string          `json:"user_id"`
	TimeSlotID  string          `json:"time_slot_id"`
	ItemID      string          `json:"item_id,omitempty"`
	Type        models.SlotType `json:"type"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Title       string          `json:"title,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	if req.TimeSlotID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "time slot id is required")
	}
	if req.UserID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "user id is required")
	}
	if req.TotalAmount.IsNegative() {
		return nil, status.Validation(status.CodeInvalidAmount, "total amount must not be negative")
	}

	now := time.Now().UTC()
	booking := &models.Booking{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		TimeSlotID:  req.TimeSlotID,
		ItemID:      req.ItemID,
		Type:        req.Type,
		Status:      models.BookingStatusPending,
		TotalAmount: req.TotalAmount,
		Title:       req.Title,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.RunInTransaction(ctx, []string{store.SlotKey(req.TimeSlotID)}, func(tx store.Tx) error {
		slot, err := tx.Slot(req.TimeSlotID)
		if err != nil {
			return err
		}
		if !slot.HasCapacity() {
			return status.Conflict(status.CodeSlotFull, "time slot %s is fully booked", slot.ID)
		}

		slot.IncrementBookings()
		tx.SaveSlot(slot)
		tx.SaveBooking(booking)
		return nil
	})
	if err != nil {
		monitoring.TrackBookingOperation("create", "error")
		return nil, err
	}

	monitoring.TrackBookingOperation("create", "ok")
	slog.Info("booking created", "booking_id", booking.ID, "slot_id", booking.TimeSlotID, "user_id", booking.UserID)
	return booking, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	if bookingID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "booking id is required")
	}

	// First lookup only resolves the slot key to watch; the state is
	// re-read and re-verified inside the transaction.
	existing, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var cancelled *models.Booking
	keys := []string{store.BookingKey(bookingID), store.SlotKey(existing.TimeSlotID)}
	err = s.store.RunInTransaction(ctx, keys, func(tx store.Tx) error {
		booking, err := tx.Booking(bookingID)
		if err != nil {
			return err
		}
		if !booking.IsActive() {
			return status.Conflict(status.CodeNotCancellable, "booking %s is %s and cannot be cancelled", booking.ID, booking.Status)
		}

		now := time.Now().UTC()
		booking.Status = models.BookingStatusCancelled
		booking.CancelledAt = &now
		booking.CancellationReason = reason
		booking.UpdatedAt = now
		tx.SaveBooking(booking)

		slot, err := tx.Slot(booking.TimeSlotID)
		if err != nil {
			// A missing slot never blocks a cancellation.
			if status.IsKind(err, status.KindNotFound) {
				cancelled = booking
				return nil
			}
			return err
		}
		slot.DecrementBookings()
		tx.SaveSlot(slot)

		cancelled = booking
		return nil
	})
	if err != nil {
		monitoring.TrackBookingOperation("cancel", "error")
		return nil, err
	}

	monitoring.TrackBookingOperation("cancel", "ok")
	slog.Info("booking cancelled", "booking_id", bookingID, "reason", reason)
	return cancelled, nil
}

// ConfirmBooking moves a pending booking to confirmed.
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.BookingStatusConfirmed)
}

// CompleteBooking marks a confirmed booking as completed after the slot.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.BookingStatusCompleted)
}

// MarkNoShow marks a confirmed booking whose user never showed up.
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.BookingStatusNoShow)
}

func (s *BookingService) transition(ctx context.Context, bookingID string, next models.BookingStatus) (*models.Booking, error) {
	if bookingID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "booking id is required")
	}

	var updated *models.Booking
	err := s.store.RunInTransaction(ctx, []string{store.BookingKey(bookingID)}, func(tx store.Tx) error {
		booking, err := tx.Booking(bookingID)
		if err != nil {
			return err
		}
		if !booking.CanTransitionTo(next) {
			return status.Conflict(status.CodeNotCancellable, "booking %s cannot go from %s to %s", booking.ID, booking.Status, next)
		}
		booking.Status = next
		booking.UpdatedAt = time.Now().UTC()
		tx.SaveBooking(booking)
		updated = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

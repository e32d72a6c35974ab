package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"slot-booking/internal/status"
	"slot-booking/internal/store"
	"slot-booking/models"
	"slot-booking/monitoring"
)

// RefundService applies the refund policy automatically after
// cancellations. A cancellation is never rolled back because its
// refund failed: the booking stays cancelled and the refund is
// reported for retry.
type RefundService struct {
	store    store.Store
	payments *PaymentService
	notifier Notifier
}

func NewRefundService(s store.Store, payments *PaymentService, notifier Notifier) *RefundService {
	return &RefundService{store: s, payments: payments, notifier: notifier}
}

// RefundOutcome is the result of one automatic refund attempt.
type RefundOutcome struct {
	BookingID string             `json:"booking_id"`
	Refund    *models.RefundInfo `json:"refund,omitempty"`
	Amount    decimal.Decimal    `json:"amount"`
	Skipped   bool               `json:"skipped"`
	Reason    string             `json:"reason,omitempty"`
}

type BatchRefundFailure struct {
	BookingID string `json:"booking_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// BatchRefundResult accumulates per-booking outcomes; one booking's
// failure never aborts the rest of the batch.
type BatchRefundResult struct {
	Succeeded []RefundOutcome      `json:"succeeded"`
	Failed    []BatchRefundFailure `json:"failed"`
}

// RefundQuote previews what a cancellation would refund right now.
type RefundQuote struct {
	BookingID       string          `json:"booking_id"`
	Amount          decimal.Decimal `json:"amount"`
	Rate            decimal.Decimal `json:"rate"`
	HoursUntilStart int64           `json:"hours_until_start"`
	PolicyText      string          `json:"policy_text"`
}

// ProcessAutomaticRefund refunds a cancelled booking per the time
// tiers. Bookings without a collected payment, or cancelled inside the
// no-refund window, are skipped without error.
func (s *RefundService) ProcessAutomaticRefund(ctx context.Context, bookingID, reason string) (*RefundOutcome, error) {
	outcome, err := s.refundOne(ctx, bookingID, reason, false)
	if err != nil {
		monitoring.TrackRefundOperation("automatic", "error")
		return nil, err
	}
	monitoring.TrackRefundOperation("automatic", "ok")
	return outcome, nil
}

// ProcessBatchRefunds runs refunds for many bookings independently.
// fullRefund bypasses the time tiers and refunds the full remainder,
// for operator-driven cases like a cancelled class.
func (s *RefundService) ProcessBatchRefunds(ctx context.Context, bookingIDs []string, reason string, fullRefund bool) *BatchRefundResult {
	result := &BatchRefundResult{}
	for _, id := range bookingIDs {
		outcome, err := s.refundOneSafe(ctx, id, reason, fullRefund)
		switch {
		case err != nil:
			result.Failed = append(result.Failed, BatchRefundFailure{
				BookingID: id,
				Kind:      status.KindOf(err).String(),
				Message:   err.Error(),
			})
		case outcome.Skipped:
			result.Failed = append(result.Failed, BatchRefundFailure{
				BookingID: id,
				Kind:      "skipped",
				Message:   outcome.Reason,
			})
		default:
			result.Succeeded = append(result.Succeeded, *outcome)
		}
	}
	slog.Info("batch refunds finished", "total", len(bookingIDs), "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result
}

// refundOneSafe shields the batch loop from panics in a single item.
func (s *RefundService) refundOneSafe(ctx context.Context, bookingID, reason string, fullRefund bool) (outcome *RefundOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = status.Transient(status.CodeGatewayError, "refund for booking %s panicked: %v", bookingID, r)
			slog.Error("refund panic recovered", "booking_id", bookingID, "panic", r)
		}
	}()
	return s.refundOne(ctx, bookingID, reason, fullRefund)
}

func (s *RefundService) refundOne(ctx context.Context, bookingID, reason string, fullRefund bool) (*RefundOutcome, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentID == "" {
		return &RefundOutcome{BookingID: bookingID, Skipped: true, Reason: "no payment on booking"}, nil
	}

	payment, err := s.store.GetPayment(ctx, booking.PaymentID)
	if err != nil {
		if status.IsKind(err, status.KindNotFound) {
			return &RefundOutcome{BookingID: bookingID, Skipped: true, Reason: "payment record missing"}, nil
		}
		return nil, err
	}
	if !payment.CanRefund() {
		return &RefundOutcome{BookingID: bookingID, Skipped: true, Reason: "payment is " + string(payment.Status) + " with nothing left to refund"}, nil
	}

	var amount decimal.Decimal
	if fullRefund {
		amount = payment.RefundableRemainder()
	} else {
		slot, err := s.store.GetSlot(ctx, booking.TimeSlotID)
		if err != nil {
			return nil, err
		}
		amount = RefundAmount(payment.Amount, slot.StartAt, time.Now().UTC())
		if remainder := payment.RefundableRemainder(); amount.GreaterThan(remainder) {
			amount = remainder
		}
	}
	if !amount.IsPositive() {
		return &RefundOutcome{BookingID: bookingID, Skipped: true, Reason: "refund window closed"}, nil
	}

	refund, err := s.payments.ProcessRefund(ctx, payment.ID, amount, reason)
	if err != nil {
		s.notifier.NotifyRefundFailed(ctx, booking.UserID, booking.Title, err.Error())
		return nil, err
	}

	s.notifier.NotifyRefundCompleted(ctx, booking.UserID, refund, booking.Title)
	return &RefundOutcome{BookingID: bookingID, Refund: refund, Amount: amount}, nil
}

// ValidateRefundEligibility reports whether a refund could be issued
// for the booking right now. Ineligibility is an answer, not an error.
// A zero slotStart is resolved from the stored slot.
func (s *RefundService) ValidateRefundEligibility(ctx context.Context, bookingID string, slotStart time.Time) (bool, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if booking.PaymentID == "" {
		return false, nil
	}

	payment, err := s.store.GetPayment(ctx, booking.PaymentID)
	if err != nil {
		if status.IsKind(err, status.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	if !payment.CanRefund() {
		return false, nil
	}

	if slotStart.IsZero() {
		slot, err := s.store.GetSlot(ctx, booking.TimeSlotID)
		if err != nil {
			return false, err
		}
		slotStart = slot.StartAt
	}
	// Refunds stop one hour out even though the 0% tier starts earlier;
	// the quote endpoint reports the actual amount.
	return HoursUntilStart(slotStart, time.Now().UTC()) >= 1, nil
}

// CalculateRefundAmount quotes the refund a cancellation would produce
// now, without touching any state.
func (s *RefundService) CalculateRefundAmount(ctx context.Context, bookingID string) (*RefundQuote, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	slot, err := s.store.GetSlot(ctx, booking.TimeSlotID)
	if err != nil {
		return nil, err
	}

	hours := HoursUntilStart(slot.StartAt, time.Now().UTC())
	quote := &RefundQuote{
		BookingID:       bookingID,
		Rate:            RefundRate(hours),
		HoursUntilStart: hours,
		PolicyText:      PolicyText(hours),
		Amount:          decimal.Zero,
	}

	if booking.PaymentID == "" {
		return quote, nil
	}
	payment, err := s.store.GetPayment(ctx, booking.PaymentID)
	if err != nil {
		if status.IsKind(err, status.KindNotFound) {
			return quote, nil
		}
		return nil, err
	}
	if payment.IsSuccessful() {
		amount := payment.Amount.Mul(quote.Rate).Round(2)
		if remainder := payment.RefundableRemainder(); amount.GreaterThan(remainder) {
			amount = remainder
		}
		quote.Amount = amount
	}
	return quote, nil
}

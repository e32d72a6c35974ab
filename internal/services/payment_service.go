package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"slot-booking/config"
	"slot-booking/internal/services/gateway"
	"slot-booking/internal/status"
	"slot-booking/internal/store"
	"slot-booking/models"
	"slot-booking/monitoring"
	"slot-booking/utils"
)

// PaymentService orchestrates payments and refunds against the external
// processor. Local state commits before and after each gateway call;
// no store transaction is ever held open across the wire.
type PaymentService struct {
	store store.Store
	gw    gateway.Client
	cb    *utils.CircuitBreaker

	paymentTimeout time.Duration
	statusTimeout  time.Duration
}

func NewPaymentService(s store.Store, gw gateway.Client, cfg *config.Config) *PaymentService {
	return &PaymentService{
		store:          s,
		gw:             gw,
		cb:             utils.NewCircuitBreaker("payment-gateway"),
		paymentTimeout: cfg.PaymentTimeout,
		statusTimeout:  cfg.StatusTimeout,
	}
}

type ProcessPaymentRequest struct {
	// PaymentID is optional; when the caller retries a request it must
	// resend the id from the first attempt so the processor dedupes.
	PaymentID string `json:"payment_id,omitempty"`

	BookingID string               `json:"booking_id"`
	Amount    decimal.Decimal      `json:"amount"`
	Currency  string               `json:"currency"`
	Method    models.PaymentMethod `json:"method"`
}

func (s *PaymentService) ProcessPayment(ctx context.Context, req *ProcessPaymentRequest) (*models.PaymentInfo, error) {
	if req.BookingID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "booking id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, status.Validation(status.CodeInvalidAmount, "amount must be positive, got %s", req.Amount)
	}
	if req.Currency == "" {
		return nil, status.Validation(status.CodeInvalidInput, "currency is required")
	}
	if req.Method == models.PaymentMethodUnknown || req.Method == "" {
		return nil, status.Validation(status.CodeInvalidInput, "payment method is required")
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}

	var payment *models.PaymentInfo
	keys := []string{store.BookingKey(req.BookingID), store.PaymentKey(paymentID)}
	err := s.store.RunInTransaction(ctx, keys, func(tx store.Tx) error {
		booking, err := tx.Booking(req.BookingID)
		if err != nil {
			return err
		}
		if !booking.IsActive() {
			return status.Conflict(status.CodeNotCancellable, "booking %s is %s and cannot be paid", booking.ID, booking.Status)
		}

		if booking.PaymentID != "" && booking.PaymentID != paymentID {
			prev, err := tx.Payment(booking.PaymentID)
			if err != nil && !status.IsKind(err, status.KindNotFound) {
				return err
			}
			if prev != nil && prev.Status != models.PaymentStatusFailed && prev.Status != models.PaymentStatusCancelled {
				return status.Conflict(status.CodePaymentExists, "booking %s already has payment %s in status %s", booking.ID, prev.ID, prev.Status)
			}
		}

		// A resent id reuses the pending record from the first attempt.
		existing, err := tx.Payment(paymentID)
		if err != nil && !status.IsKind(err, status.KindNotFound) {
			return err
		}
		if existing != nil {
			payment = existing
		} else {
			now := time.Now().UTC()
			payment = &models.PaymentInfo{
				ID:        paymentID,
				BookingID: booking.ID,
				UserID:    booking.UserID,
				Method:    req.Method,
				Status:    models.PaymentStatusPending,
				Amount:    req.Amount,
				Currency:  req.Currency,
				CreatedAt: now,
				UpdatedAt: now,
			}
			tx.SavePayment(payment)
		}

		booking.PaymentID = paymentID
		booking.UpdatedAt = time.Now().UTC()
		tx.SaveBooking(booking)
		return nil
	})
	if err != nil {
		monitoring.TrackPaymentOperation("process", "error")
		return nil, err
	}

	if payment.Status == models.PaymentStatusCompleted {
		// Resent request for an already settled payment.
		monitoring.TrackPaymentOperation("process", "ok")
		return payment, nil
	}

	result, gwErr := s.callPay(ctx, payment)
	return s.applyGatewayResult(ctx, "process", payment.ID, result, gwErr)
}

// RetryPayment re-submits a failed payment. Payments in any other
// status are rejected before the gateway is contacted.
func (s *PaymentService) RetryPayment(ctx context.Context, paymentID string) (*models.PaymentInfo, error) {
	if paymentID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "payment id is required")
	}

	err := s.store.RunInTransaction(ctx, []string{store.PaymentKey(paymentID)}, func(tx store.Tx) error {
		payment, err := tx.Payment(paymentID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusFailed {
			return status.Conflict(status.CodeNotFailed, "payment %s is %s, only failed payments can be retried", payment.ID, payment.Status)
		}
		payment.Status = models.PaymentStatusPending
		payment.FailureReason = ""
		payment.UpdatedAt = time.Now().UTC()
		tx.SavePayment(payment)
		return nil
	})
	if err != nil {
		monitoring.TrackPaymentOperation("retry", "error")
		return nil, err
	}

	start := time.Now()
	var result *gateway.PaymentResult
	gwErr := s.cb.Execute(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		defer cancel()
		r, err := s.gw.Retry(cctx, paymentID)
		result = r
		return err
	})
	monitoring.TrackGatewayCall("retry", time.Since(start))

	return s.applyGatewayResult(ctx, "retry", paymentID, result, gwErr)
}

// CancelPayment voids a payment that has not collected money.
func (s *PaymentService) CancelPayment(ctx context.Context, paymentID string) error {
	if paymentID == "" {
		return status.Validation(status.CodeInvalidInput, "payment id is required")
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status == models.PaymentStatusCancelled {
		return nil
	}
	if payment.IsSuccessful() || payment.Status == models.PaymentStatusRefunded {
		return status.Conflict(status.CodeNotCancellable, "payment %s is %s, settled payments are refunded, not cancelled", payment.ID, payment.Status)
	}

	start := time.Now()
	gwErr := s.cb.Execute(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		defer cancel()
		return s.gw.Cancel(cctx, paymentID)
	})
	monitoring.TrackGatewayCall("cancel", time.Since(start))
	if gwErr != nil {
		monitoring.TrackPaymentOperation("cancel", "error")
		return s.classifyGatewayErr(gwErr)
	}

	err = s.store.RunInTransaction(ctx, []string{store.PaymentKey(paymentID)}, func(tx store.Tx) error {
		p, err := tx.Payment(paymentID)
		if err != nil {
			return err
		}
		p.Status = models.PaymentStatusCancelled
		p.UpdatedAt = time.Now().UTC()
		tx.SavePayment(p)
		return nil
	})
	if err != nil {
		return err
	}

	monitoring.TrackPaymentOperation("cancel", "ok")
	slog.Info("payment cancelled", "payment_id", paymentID)
	return nil
}

// ProcessRefund refunds part or all of a settled payment. The amount
// is reserved against the refundable remainder before the gateway call
// and settled or released after, so concurrent refunds can never sum
// past the original payment.
func (s *PaymentService) ProcessRefund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*models.RefundInfo, error) {
	if paymentID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "payment id is required")
	}
	if !amount.IsPositive() {
		return nil, status.Validation(status.CodeInvalidAmount, "refund amount must be positive, got %s", amount)
	}
	if reason == "" {
		return nil, status.Validation(status.CodeInvalidInput, "refund reason is required")
	}

	var payment *models.PaymentInfo
	err := s.store.RunInTransaction(ctx, []string{store.PaymentKey(paymentID)}, func(tx store.Tx) error {
		p, err := tx.Payment(paymentID)
		if err != nil {
			return err
		}
		if !p.IsSuccessful() {
			return status.Conflict(status.CodeNotRefundable, "payment %s is %s and cannot be refunded", p.ID, p.Status)
		}
		if remainder := p.RefundableRemainder(); amount.GreaterThan(remainder) {
			return status.Conflict(status.CodeAmountExceeded, "refund of %s exceeds refundable remainder %s on payment %s", amount, remainder, p.ID)
		}
		p.RefundReserved = p.RefundReserved.Add(amount)
		p.UpdatedAt = time.Now().UTC()
		tx.SavePayment(p)
		payment = p
		return nil
	})
	if err != nil {
		monitoring.TrackRefundOperation("refund", "error")
		return nil, err
	}

	refundID := uuid.NewString()
	start := time.Now()
	var result *gateway.RefundResult
	gwErr := s.cb.Execute(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		defer cancel()
		r, err := s.gw.Refund(cctx, &gateway.RefundRequest{
			RefundID:  refundID,
			PaymentID: paymentID,
			Amount:    amount,
			Reason:    reason,
		})
		result = r
		return err
	})
	monitoring.TrackGatewayCall("refund", time.Since(start))

	if gwErr != nil {
		if relErr := s.releaseReservation(ctx, paymentID, amount); relErr != nil {
			slog.Error("release refund reservation", "payment_id", paymentID, "error", relErr)
		}
		monitoring.TrackRefundOperation("refund", "error")
		return nil, s.classifyGatewayErr(gwErr)
	}

	refund := models.RefundInfo{
		ID:            result.RefundID,
		Amount:        amount,
		Reason:        reason,
		RefundedAt:    result.RefundedAt,
		TransactionID: result.TransactionID,
	}
	if refund.ID == "" {
		refund.ID = refundID
	}

	keys := []string{store.PaymentKey(paymentID), store.BookingKey(payment.BookingID)}
	err = s.store.RunInTransaction(ctx, keys, func(tx store.Tx) error {
		p, err := tx.Payment(paymentID)
		if err != nil {
			return err
		}
		p.RefundReserved = p.RefundReserved.Sub(amount)
		if p.RefundReserved.IsNegative() {
			p.RefundReserved = decimal.Zero
		}
		p.ApplyRefund(refund)
		p.UpdatedAt = time.Now().UTC()
		tx.SavePayment(p)

		if p.Status == models.PaymentStatusRefunded {
			booking, err := tx.Booking(p.BookingID)
			if err != nil {
				if status.IsKind(err, status.KindNotFound) {
					return nil
				}
				return err
			}
			if booking.CanTransitionTo(models.BookingStatusRefunded) {
				booking.Status = models.BookingStatusRefunded
				booking.UpdatedAt = time.Now().UTC()
				tx.SaveBooking(booking)
			}
		}
		return nil
	})
	if err != nil {
		// The gateway refund went through; the settle must not be lost.
		slog.Error("settle refund", "payment_id", paymentID, "refund_id", refund.ID, "error", err)
		monitoring.TrackRefundOperation("refund", "error")
		return nil, err
	}

	monitoring.TrackRefundOperation("refund", "ok")
	amt, _ := amount.Float64()
	monitoring.TrackRefundedAmount(payment.Currency, amt)
	slog.Info("refund settled", "payment_id", paymentID, "refund_id", refund.ID, "amount", amount)
	return &refund, nil
}

// GetPaymentStatus returns the local status after reconciling it with
// the processor. Gateway failures fall back to the stored status.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, paymentID string) (*models.PaymentInfo, error) {
	if paymentID == "" {
		return nil, status.Validation(status.CodeInvalidInput, "payment id is required")
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var result *gateway.PaymentResult
	gwErr := s.cb.Execute(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
		r, err := s.gw.Status(cctx, paymentID)
		result = r
		return err
	})
	monitoring.TrackGatewayCall("status", time.Since(start))
	if gwErr != nil {
		slog.Warn("status reconciliation skipped", "payment_id", paymentID, "error", gwErr)
		return payment, nil
	}

	if result.Status == payment.Status {
		return payment, nil
	}
	return s.applyGatewayResult(ctx, "status", paymentID, result, nil)
}

func (s *PaymentService) callPay(ctx context.Context, payment *models.PaymentInfo) (*gateway.PaymentResult, error) {
	start := time.Now()
	var result *gateway.PaymentResult
	err := s.cb.Execute(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		defer cancel()
		r, err := s.gw.Pay(cctx, &gateway.PayRequest{
			PaymentID: payment.ID,
			BookingID: payment.BookingID,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			Method:    payment.Method,
		})
		result = r
		return err
	})
	monitoring.TrackGatewayCall("pay", time.Since(start))
	return result, err
}

// applyGatewayResult folds the processor's answer (or failure) back
// into the stored payment. A timeout leaves the payment in processing:
// the processor may still settle it, so only a later status query or
// retry moves it on.
func (s *PaymentService) applyGatewayResult(ctx context.Context, op, paymentID string, result *gateway.PaymentResult, gwErr error) (*models.PaymentInfo, error) {
	if gwErr != nil {
		gwErr = s.classifyGatewayErr(gwErr)

		next := models.PaymentStatusFailed
		if status.IsKind(gwErr, status.KindTransient) {
			next = models.PaymentStatusProcessing
		}

		err := s.store.RunInTransaction(ctx, []string{store.PaymentKey(paymentID)}, func(tx store.Tx) error {
			p, err := tx.Payment(paymentID)
			if err != nil {
				return err
			}
			p.Status = next
			if next == models.PaymentStatusFailed {
				p.FailureReason = gwErr.Error()
			}
			p.UpdatedAt = time.Now().UTC()
			tx.SavePayment(p)
			return nil
		})
		if err != nil {
			slog.Error("record gateway failure", "payment_id", paymentID, "error", err)
		}
		monitoring.TrackPaymentOperation(op, "error")
		return nil, gwErr
	}

	var payment *models.PaymentInfo
	err := s.store.RunInTransaction(ctx, []string{store.PaymentKey(paymentID)}, func(tx store.Tx) error {
		p, err := tx.Payment(paymentID)
		if err != nil {
			return err
		}
		p.Status = result.Status
		p.TransactionID = result.TransactionID
		if result.ReceiptURL != "" {
			p.ReceiptURL = result.ReceiptURL
		}
		if result.Status == models.PaymentStatusCompleted && p.PaidAt == nil {
			paidAt := result.Timestamp
			if paidAt.IsZero() {
				paidAt = time.Now().UTC()
			}
			p.PaidAt = &paidAt
		}
		p.UpdatedAt = time.Now().UTC()
		tx.SavePayment(p)
		payment = p
		return nil
	})
	if err != nil {
		monitoring.TrackPaymentOperation(op, "error")
		return nil, err
	}

	if payment.Status == models.PaymentStatusCompleted {
		s.confirmBooking(ctx, payment.BookingID)
	}

	monitoring.TrackPaymentOperation(op, "ok")
	slog.Info("payment updated", "operation", op, "payment_id", paymentID, "status", payment.Status)
	return payment, nil
}

// confirmBooking moves the booking to confirmed after a settled
// payment. Best effort: the payment record is the source of truth.
func (s *PaymentService) confirmBooking(ctx context.Context, bookingID string) {
	err := s.store.RunInTransaction(ctx, []string{store.BookingKey(bookingID)}, func(tx store.Tx) error {
		booking, err := tx.Booking(bookingID)
		if err != nil {
			return err
		}
		if !booking.CanTransitionTo(models.BookingStatusConfirmed) {
			return nil
		}
		booking.Status = models.BookingStatusConfirmed
		booking.UpdatedAt = time.Now().UTC()
		tx.SaveBooking(booking)
		return nil
	})
	if err != nil {
		slog.Warn("confirm booking after payment", "booking_id", bookingID, "error", err)
	}
}

func (s *PaymentService) releaseReservation(ctx context.Context, paymentID string, amount decimal.Decimal) error {
	return s.store.RunInTransaction(ctx, []string{store.PaymentKey(paymentID)}, func(tx store.Tx) error {
		p, err := tx.Payment(paymentID)
		if err != nil {
			return err
		}
		p.RefundReserved = p.RefundReserved.Sub(amount)
		if p.RefundReserved.IsNegative() {
			p.RefundReserved = decimal.Zero
		}
		p.UpdatedAt = time.Now().UTC()
		tx.SavePayment(p)
		return nil
	})
}

func (s *PaymentService) classifyGatewayErr(err error) error {
	if errors.Is(err, utils.ErrCircuitOpen) {
		return status.Transient(status.CodeGatewayError, "payment gateway unavailable: %v", err)
	}
	return err
}

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slot-booking/config"
	"slot-booking/internal/services/gateway"
	"slot-booking/internal/status"
	"slot-booking/internal/store"
	"slot-booking/models"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyRefundCompleted(ctx context.Context, userID string, refund *models.RefundInfo, bookingTitle string) {
	m.Called(ctx, userID, refund, bookingTitle)
}

func (m *mockNotifier) NotifyRefundFailed(ctx context.Context, userID, bookingTitle, reason string) {
	m.Called(ctx, userID, bookingTitle, reason)
}

func (m *mockNotifier) NotifyBookingCancelled(ctx context.Context, userID, bookingTitle string) {
	m.Called(ctx, userID, bookingTitle)
}

func setupRefundService(t *testing.T) (*RefundService, *mockGateway, *mockNotifier, store.Store) {
	t.Helper()
	memStore := store.NewMemStore()
	gw := newMockGateway()
	notifier := &mockNotifier{}
	payments := NewPaymentService(memStore, gw, config.LoadConfig())
	svc := NewRefundService(memStore, payments, notifier)
	return svc, gw, notifier, memStore
}

// seedPaidBooking creates a cancelled booking with a completed payment
// on a slot starting hoursOut from now.
func seedPaidBooking(t *testing.T, s store.Store, n int, hoursOut time.Duration, amount int64) (bookingID string) {
	t.Helper()
	ctx := context.Background()

	slotID := fmt.Sprintf("slot-%d", n)
	bookingID = fmt.Sprintf("book-%d", n)
	paymentID := fmt.Sprintf("pay-%d", n)

	require.NoError(t, s.SaveSlot(ctx, &models.TimeSlot{
		ID:          slotID,
		Type:        models.SlotTypeWorkshop,
		StartAt:     time.Now().UTC().Add(hoursOut),
		EndAt:       time.Now().UTC().Add(hoursOut + 2*time.Hour),
		MaxCapacity: 10,
		IsAvailable: true,
	}))

	booking := &models.Booking{
		ID:          bookingID,
		UserID:      "user-1",
		TimeSlotID:  slotID,
		Status:      models.BookingStatusCancelled,
		TotalAmount: decimal.NewFromInt(amount),
		PaymentID:   paymentID,
		Title:       "Workshop " + bookingID,
	}
	payment := &models.PaymentInfo{
		ID:        paymentID,
		BookingID: bookingID,
		UserID:    "user-1",
		Status:    models.PaymentStatusCompleted,
		Amount:    decimal.NewFromInt(amount),
		Currency:  "USD",
	}
	err := s.RunInTransaction(ctx, []string{store.BookingKey(bookingID), store.PaymentKey(paymentID)}, func(tx store.Tx) error {
		tx.SaveBooking(booking)
		tx.SavePayment(payment)
		return nil
	})
	require.NoError(t, err)
	return bookingID
}

func TestProcessAutomaticRefund_FullTier(t *testing.T) {
	svc, gw, notifier, memStore := setupRefundService(t)
	bookingID := seedPaidBooking(t, memStore, 1, 200*time.Hour, 100000)

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:   "ref-1",
		RefundedAt: time.Now().UTC(),
	}, nil)
	notifier.On("NotifyRefundCompleted", mock.Anything, "user-1", mock.Anything, mock.Anything).Return()

	outcome, err := svc.ProcessAutomaticRefund(context.Background(), bookingID, "booking cancelled")
	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.True(t, outcome.Amount.Equal(decimal.NewFromInt(100000)), "got %s", outcome.Amount)

	notifier.AssertCalled(t, "NotifyRefundCompleted", mock.Anything, "user-1", mock.Anything, mock.Anything)
}

func TestProcessAutomaticRefund_HalfTier(t *testing.T) {
	svc, gw, notifier, memStore := setupRefundService(t)
	bookingID := seedPaidBooking(t, memStore, 1, 50*time.Hour, 100000)

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:   "ref-1",
		RefundedAt: time.Now().UTC(),
	}, nil)
	notifier.On("NotifyRefundCompleted", mock.Anything, "user-1", mock.Anything, mock.Anything).Return()

	outcome, err := svc.ProcessAutomaticRefund(context.Background(), bookingID, "booking cancelled")
	require.NoError(t, err)
	assert.True(t, outcome.Amount.Equal(decimal.NewFromInt(50000)), "got %s", outcome.Amount)
}

func TestProcessAutomaticRefund_WindowClosed(t *testing.T) {
	svc, gw, _, memStore := setupRefundService(t)
	bookingID := seedPaidBooking(t, memStore, 1, 10*time.Hour, 100000)

	outcome, err := svc.ProcessAutomaticRefund(context.Background(), bookingID, "booking cancelled")
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, "refund window closed", outcome.Reason)

	// Zero-amount refunds never reach the processor.
	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestProcessAutomaticRefund_NoPayment(t *testing.T) {
	svc, gw, _, memStore := setupRefundService(t)

	booking := &models.Booking{
		ID:     "book-1",
		UserID: "user-1",
		Status: models.BookingStatusCancelled,
	}
	err := memStore.RunInTransaction(context.Background(), []string{store.BookingKey("book-1")}, func(tx store.Tx) error {
		tx.SaveBooking(booking)
		return nil
	})
	require.NoError(t, err)

	outcome, err := svc.ProcessAutomaticRefund(context.Background(), "book-1", "booking cancelled")
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)

	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestProcessAutomaticRefund_GatewayFailureNotifies(t *testing.T) {
	svc, gw, notifier, memStore := setupRefundService(t)
	bookingID := seedPaidBooking(t, memStore, 1, 200*time.Hour, 500)

	gw.On("Refund", mock.Anything, mock.Anything).Return(nil,
		status.Gateway("refund rejected", nil))
	notifier.On("NotifyRefundFailed", mock.Anything, "user-1", mock.Anything, mock.Anything).Return()

	_, err := svc.ProcessAutomaticRefund(context.Background(), bookingID, "booking cancelled")
	require.Error(t, err)

	// The booking stays cancelled regardless of the refund outcome.
	booking, err2 := memStore.GetBooking(context.Background(), bookingID)
	require.NoError(t, err2)
	assert.Equal(t, models.BookingStatusCancelled, booking.Status)

	notifier.AssertCalled(t, "NotifyRefundFailed", mock.Anything, "user-1", mock.Anything, mock.Anything)
}

// Five bookings, the third has no successful payment; the other four
// are refunded and the batch reports the odd one out.
func TestProcessBatchRefunds_Independence(t *testing.T) {
	svc, gw, notifier, memStore := setupRefundService(t)

	ids := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		id := seedPaidBooking(t, memStore, i, 200*time.Hour, 100)
		if i == 3 {
			err := memStore.RunInTransaction(context.Background(), []string{store.PaymentKey("pay-3")}, func(tx store.Tx) error {
				p, err := tx.Payment("pay-3")
				if err != nil {
					return err
				}
				p.Status = models.PaymentStatusFailed
				tx.SavePayment(p)
				return nil
			})
			require.NoError(t, err)
		}
		ids = append(ids, id)
	}

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:   "ref-x",
		RefundedAt: time.Now().UTC(),
	}, nil)
	notifier.On("NotifyRefundCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result := svc.ProcessBatchRefunds(context.Background(), ids, "class cancelled", false)

	assert.Len(t, result.Succeeded, 4)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "book-3", result.Failed[0].BookingID)

	gw.AssertNumberOfCalls(t, "Refund", 4)
}

func TestProcessBatchRefunds_FullRefundBypassesTiers(t *testing.T) {
	svc, gw, notifier, memStore := setupRefundService(t)
	// Inside the no-refund window, but the operator forces 100%.
	bookingID := seedPaidBooking(t, memStore, 1, 10*time.Hour, 250)

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:   "ref-1",
		RefundedAt: time.Now().UTC(),
	}, nil)
	notifier.On("NotifyRefundCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result := svc.ProcessBatchRefunds(context.Background(), []string{bookingID}, "venue closed", true)

	require.Len(t, result.Succeeded, 1)
	assert.True(t, result.Succeeded[0].Amount.Equal(decimal.NewFromInt(250)))
	assert.Empty(t, result.Failed)
}

func TestProcessBatchRefunds_MissingBooking(t *testing.T) {
	svc, _, _, _ := setupRefundService(t)

	result := svc.ProcessBatchRefunds(context.Background(), []string{"ghost"}, "reason", false)

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "not_found", result.Failed[0].Kind)
}

func TestValidateRefundEligibility(t *testing.T) {
	svc, _, _, memStore := setupRefundService(t)

	eligible := seedPaidBooking(t, memStore, 1, 48*time.Hour, 100)
	tooLate := seedPaidBooking(t, memStore, 2, 30*time.Minute, 100)

	ok, err := svc.ValidateRefundEligibility(context.Background(), eligible, time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ValidateRefundEligibility(context.Background(), tooLate, time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCalculateRefundAmount_Quote(t *testing.T) {
	svc, _, _, memStore := setupRefundService(t)
	bookingID := seedPaidBooking(t, memStore, 1, 100*time.Hour, 100)

	quote, err := svc.CalculateRefundAmount(context.Background(), bookingID)
	require.NoError(t, err)
	assert.True(t, quote.Rate.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, quote.Amount.Equal(decimal.NewFromInt(80)), "got %s", quote.Amount)
	assert.Contains(t, quote.PolicyText, "80%")
	assert.InDelta(t, 99, quote.HoursUntilStart, 1)
}

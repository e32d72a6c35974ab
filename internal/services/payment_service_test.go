package services

import (
	"context"
	"sync"
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

type mockGateway struct {
	mock.Mock

	// createdPayments tracks processor-side payment ids to verify
	// create-if-absent semantics on resubmission.
	mu              sync.Mutex
	createdPayments map[string]int
}

func newMockGateway() *mockGateway {
	return &mockGateway{createdPayments: map[string]int{}}
}

func (m *mockGateway) Pay(ctx context.Context, req *gateway.PayRequest) (*gateway.PaymentResult, error) {
	m.mu.Lock()
	m.createdPayments[req.PaymentID]++
	m.mu.Unlock()

	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*gateway.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Retry(ctx context.Context, paymentID string) (*gateway.PaymentResult, error) {
	args := m.Called(ctx, paymentID)
	if r := args.Get(0); r != nil {
		return r.(*gateway.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, paymentID string) error {
	args := m.Called(ctx, paymentID)
	return args.Error(0)
}

func (m *mockGateway) Refund(ctx context.Context, req *gateway.RefundRequest) (*gateway.RefundResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*gateway.RefundResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Status(ctx context.Context, paymentID string) (*gateway.PaymentResult, error) {
	args := m.Called(ctx, paymentID)
	if r := args.Get(0); r != nil {
		return r.(*gateway.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// distinctPaymentIDs is how many processor-side payments got created.
func (m *mockGateway) distinctPaymentIDs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.createdPayments)
}

func setupPaymentService(t *testing.T) (*PaymentService, *mockGateway, store.Store) {
	t.Helper()
	memStore := store.NewMemStore()
	gw := newMockGateway()
	svc := NewPaymentService(memStore, gw, config.LoadConfig())
	return svc, gw, memStore
}

func seedActiveBooking(t *testing.T, s store.Store, id, userID string) *models.Booking {
	t.Helper()
	booking := &models.Booking{
		ID:          id,
		UserID:      userID,
		TimeSlotID:  "slot-1",
		Status:      models.BookingStatusPending,
		TotalAmount: decimal.NewFromInt(100),
		CreatedAt:   time.Now().UTC(),
	}
	err := s.RunInTransaction(context.Background(), []string{store.BookingKey(id)}, func(tx store.Tx) error {
		tx.SaveBooking(booking)
		return nil
	})
	require.NoError(t, err)
	return booking
}

func seedPayment(t *testing.T, s store.Store, p *models.PaymentInfo) {
	t.Helper()
	err := s.RunInTransaction(context.Background(), []string{store.PaymentKey(p.ID)}, func(tx store.Tx) error {
		tx.SavePayment(p)
		return nil
	})
	require.NoError(t, err)
}

func TestProcessPayment_Succeeds(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")

	gw.On("Pay", mock.Anything, mock.Anything).Return(&gateway.PaymentResult{
		Status:        models.PaymentStatusCompleted,
		TransactionID: "txn-1",
		ReceiptURL:    "https://processor.example/receipts/txn-1",
		Timestamp:     time.Now().UTC(),
	}, nil)

	payment, err := svc.ProcessPayment(context.Background(), &ProcessPaymentRequest{
		BookingID: "book-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
		Method:    models.PaymentMethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "txn-1", payment.TransactionID)
	assert.NotNil(t, payment.PaidAt)

	booking, err := memStore.GetBooking(context.Background(), "book-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, payment.ID, booking.PaymentID)
}

func TestProcessPayment_Validation(t *testing.T) {
	svc, gw, _ := setupPaymentService(t)

	cases := []*ProcessPaymentRequest{
		{Amount: decimal.NewFromInt(10), Currency: "USD", Method: models.PaymentMethodCard},
		{BookingID: "b", Amount: decimal.Zero, Currency: "USD", Method: models.PaymentMethodCard},
		{BookingID: "b", Amount: decimal.NewFromInt(-5), Currency: "USD", Method: models.PaymentMethodCard},
		{BookingID: "b", Amount: decimal.NewFromInt(10), Method: models.PaymentMethodCard},
		{BookingID: "b", Amount: decimal.NewFromInt(10), Currency: "USD"},
	}
	for i, req := range cases {
		_, err := svc.ProcessPayment(context.Background(), req)
		assert.True(t, status.IsKind(err, status.KindValidation), "case %d: %v", i, err)
	}

	gw.AssertNotCalled(t, "Pay", mock.Anything, mock.Anything)
}

func TestProcessPayment_IdempotentResubmission(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")

	gw.On("Pay", mock.Anything, mock.Anything).Return(&gateway.PaymentResult{
		Status:        models.PaymentStatusCompleted,
		TransactionID: "txn-1",
	}, nil)

	req := &ProcessPaymentRequest{
		PaymentID: "pay-fixed",
		BookingID: "book-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
		Method:    models.PaymentMethodCard,
	}

	first, err := svc.ProcessPayment(context.Background(), req)
	require.NoError(t, err)

	// Network retry resends the same payment id.
	second, err := svc.ProcessPayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, gw.distinctPaymentIDs())

	// The settled record is returned without another gateway call.
	gw.AssertNumberOfCalls(t, "Pay", 1)
}

func TestProcessPayment_TimeoutLeavesProcessing(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")

	gw.On("Pay", mock.Anything, mock.Anything).Return(nil,
		status.Transient(status.CodeTimeout, "gateway POST /api/v1/payments timed out"))

	_, err := svc.ProcessPayment(context.Background(), &ProcessPaymentRequest{
		PaymentID: "pay-1",
		BookingID: "book-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
		Method:    models.PaymentMethodCard,
	})
	require.Error(t, err)
	assert.True(t, status.IsKind(err, status.KindTransient))
	assert.Equal(t, status.CodeTimeout, status.CodeOf(err))

	// The processor may still settle it; nothing is marked failed.
	payment, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, payment.Status)
	assert.Empty(t, payment.FailureReason)
}

func TestProcessPayment_GatewayRejection(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")

	gw.On("Pay", mock.Anything, mock.Anything).Return(nil,
		status.Gateway("card declined", nil))

	_, err := svc.ProcessPayment(context.Background(), &ProcessPaymentRequest{
		PaymentID: "pay-1",
		BookingID: "book-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
		Method:    models.PaymentMethodCard,
	})
	require.Error(t, err)
	assert.True(t, status.IsKind(err, status.KindGateway))

	payment, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Contains(t, payment.FailureReason, "card declined")
}

func TestRetryPayment_OnlyFromFailed(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)

	for _, st := range []models.PaymentStatus{
		models.PaymentStatusPending,
		models.PaymentStatusProcessing,
		models.PaymentStatusCompleted,
		models.PaymentStatusCancelled,
		models.PaymentStatusRefunded,
	} {
		seedPayment(t, memStore, &models.PaymentInfo{
			ID:     "pay-" + string(st),
			Status: st,
			Amount: decimal.NewFromInt(100),
		})

		_, err := svc.RetryPayment(context.Background(), "pay-"+string(st))
		assert.True(t, status.IsKind(err, status.KindConflict), "status %s", st)
		assert.Equal(t, status.CodeNotFailed, status.CodeOf(err), "status %s", st)
	}

	// The gate rejects before the processor is ever contacted.
	gw.AssertNotCalled(t, "Retry", mock.Anything, mock.Anything)
}

func TestRetryPayment_FromFailed(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:            "pay-1",
		BookingID:     "book-1",
		Status:        models.PaymentStatusFailed,
		FailureReason: "card declined",
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
	})

	gw.On("Retry", mock.Anything, "pay-1").Return(&gateway.PaymentResult{
		Status:        models.PaymentStatusCompleted,
		TransactionID: "txn-2",
	}, nil)

	payment, err := svc.RetryPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Empty(t, payment.FailureReason)

	gw.AssertNumberOfCalls(t, "Retry", 1)
}

func TestCancelPayment_SettledRejected(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:     "pay-1",
		Status: models.PaymentStatusCompleted,
		Amount: decimal.NewFromInt(100),
	})

	err := svc.CancelPayment(context.Background(), "pay-1")
	assert.True(t, status.IsKind(err, status.KindConflict))
	assert.Equal(t, status.CodeNotCancellable, status.CodeOf(err))

	gw.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestProcessRefund_Partial(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:        "pay-1",
		BookingID: "book-1",
		Status:    models.PaymentStatusCompleted,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
	})

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:      "ref-1",
		TransactionID: "txn-r1",
		RefundedAt:    time.Now().UTC(),
	}, nil)

	refund, err := svc.ProcessRefund(context.Background(), "pay-1", decimal.NewFromInt(40), "schedule change")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", refund.ID)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(40)))

	payment, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, payment.Status)
	assert.True(t, payment.RefundReserved.IsZero())
	assert.True(t, payment.RefundableRemainder().Equal(decimal.NewFromInt(60)))
}

func TestProcessRefund_CapEnforced(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:        "pay-1",
		BookingID: "book-1",
		Status:    models.PaymentStatusCompleted,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
	})

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:   "ref-1",
		RefundedAt: time.Now().UTC(),
	}, nil)

	_, err := svc.ProcessRefund(context.Background(), "pay-1", decimal.NewFromInt(60), "first")
	require.NoError(t, err)

	before, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)

	// 60 already refunded, 50 more would exceed the original payment.
	_, err = svc.ProcessRefund(context.Background(), "pay-1", decimal.NewFromInt(50), "second")
	require.Error(t, err)
	assert.True(t, status.IsKind(err, status.KindConflict))
	assert.Equal(t, status.CodeAmountExceeded, status.CodeOf(err))

	// The failed attempt changed nothing.
	after, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.True(t, before.RefundedTotal().Equal(after.RefundedTotal()))
	assert.True(t, after.RefundReserved.IsZero())
	assert.Len(t, after.Refunds, 1)

	gw.AssertNumberOfCalls(t, "Refund", 1)
}

func TestProcessRefund_FullMarksBookingRefunded(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	booking := seedActiveBooking(t, memStore, "book-1", "user-1")
	booking.Status = models.BookingStatusCancelled
	err := memStore.RunInTransaction(context.Background(), []string{store.BookingKey(booking.ID)}, func(tx store.Tx) error {
		tx.SaveBooking(booking)
		return nil
	})
	require.NoError(t, err)

	seedPayment(t, memStore, &models.PaymentInfo{
		ID:        "pay-1",
		BookingID: "book-1",
		Status:    models.PaymentStatusCompleted,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
	})

	gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.RefundResult{
		RefundID:   "ref-1",
		RefundedAt: time.Now().UTC(),
	}, nil)

	_, err = svc.ProcessRefund(context.Background(), "pay-1", decimal.NewFromInt(100), "full refund")
	require.NoError(t, err)

	payment, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)

	updated, err := memStore.GetBooking(context.Background(), "book-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRefunded, updated.Status)
}

func TestProcessRefund_GatewayFailureReleasesReservation(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:        "pay-1",
		BookingID: "book-1",
		Status:    models.PaymentStatusCompleted,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
	})

	gw.On("Refund", mock.Anything, mock.Anything).Return(nil,
		status.Gateway("refund rejected", nil))

	_, err := svc.ProcessRefund(context.Background(), "pay-1", decimal.NewFromInt(40), "attempt")
	require.Error(t, err)
	assert.True(t, status.IsKind(err, status.KindGateway))

	payment, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.True(t, payment.RefundReserved.IsZero())
	assert.True(t, payment.RefundableRemainder().Equal(decimal.NewFromInt(100)))
	assert.Empty(t, payment.Refunds)
}

func TestProcessRefund_NotRefundable(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:     "pay-1",
		Status: models.PaymentStatusFailed,
		Amount: decimal.NewFromInt(100),
	})

	_, err := svc.ProcessRefund(context.Background(), "pay-1", decimal.NewFromInt(10), "attempt")
	assert.True(t, status.IsKind(err, status.KindConflict))
	assert.Equal(t, status.CodeNotRefundable, status.CodeOf(err))

	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestGetPaymentStatus_Reconciles(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedActiveBooking(t, memStore, "book-1", "user-1")
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:        "pay-1",
		BookingID: "book-1",
		Status:    models.PaymentStatusProcessing,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
	})

	gw.On("Status", mock.Anything, "pay-1").Return(&gateway.PaymentResult{
		Status:        models.PaymentStatusCompleted,
		TransactionID: "txn-1",
	}, nil)

	payment, err := svc.GetPaymentStatus(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.NotNil(t, payment.PaidAt)

	stored, err := memStore.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
}

func TestGetPaymentStatus_GatewayDownFallsBack(t *testing.T) {
	svc, gw, memStore := setupPaymentService(t)
	seedPayment(t, memStore, &models.PaymentInfo{
		ID:     "pay-1",
		Status: models.PaymentStatusProcessing,
		Amount: decimal.NewFromInt(100),
	})

	gw.On("Status", mock.Anything, "pay-1").Return(nil,
		status.Transient(status.CodeTimeout, "gateway GET timed out"))

	payment, err := svc.GetPaymentStatus(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, payment.Status)
}

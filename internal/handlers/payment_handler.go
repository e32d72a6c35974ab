package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"slot-booking/internal/services"
	"slot-booking/internal/store"
	"slot-booking/models"
)

type PaymentHandler struct {
	app      *pocketbase.PocketBase
	store    store.Store
	payments *services.PaymentService
}

func NewPaymentHandler(app *pocketbase.PocketBase, s store.Store, payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		app:      app,
		store:    s,
		payments: payments,
	}
}

type processPaymentReq struct {
	PaymentID string          `json:"payment_id"`
	BookingID string          `json:"booking_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
}

func (h *PaymentHandler) ProcessPayment(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req processPaymentReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	booking, err := h.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return apiError(err)
	}
	if booking.UserID != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}

	payment, err := h.payments.ProcessPayment(ctx, &services.ProcessPaymentRequest{
		PaymentID: req.PaymentID,
		BookingID: req.BookingID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    models.ParsePaymentMethod(req.Method),
	})
	if err != nil {
		slog.Error("h.payments.ProcessPayment()", "booking_id", req.BookingID, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) RetryPayment(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	paymentID := e.Request.PathValue("paymentId")
	ctx := e.Request.Context()

	if err := h.checkOwnership(e, paymentID); err != nil {
		return err
	}

	payment, err := h.payments.RetryPayment(ctx, paymentID)
	if err != nil {
		slog.Error("h.payments.RetryPayment()", "payment_id", paymentID, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) CancelPayment(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	paymentID := e.Request.PathValue("paymentId")
	ctx := e.Request.Context()

	if err := h.checkOwnership(e, paymentID); err != nil {
		return err
	}

	if err := h.payments.CancelPayment(ctx, paymentID); err != nil {
		slog.Error("h.payments.CancelPayment()", "payment_id", paymentID, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "Payment cancelled"})
}

func (h *PaymentHandler) GetPaymentStatus(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	paymentID := e.Request.PathValue("paymentId")
	ctx := e.Request.Context()

	if err := h.checkOwnership(e, paymentID); err != nil {
		return err
	}

	payment, err := h.payments.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		slog.Error("h.payments.GetPaymentStatus()", "payment_id", paymentID, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"amount":     payment.Amount,
		"currency":   payment.Currency,
		"paid_at":    payment.PaidAt,
	})
}

func (h *PaymentHandler) checkOwnership(e *core.RequestEvent, paymentID string) error {
	payment, err := h.store.GetPayment(e.Request.Context(), paymentID)
	if err != nil {
		return apiError(err)
	}
	if payment.UserID != "" && payment.UserID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}
	return nil
}

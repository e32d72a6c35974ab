package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"slot-booking/internal/services"
	"slot-booking/internal/store"
)

type RefundHandler struct {
	store    store.Store
	payments *services.PaymentService
	refunds  *services.RefundService
}

func NewRefundHandler(s store.Store, payments *services.PaymentService, refunds *services.RefundService) *RefundHandler {
	return &RefundHandler{
		store:    s,
		payments: payments,
		refunds:  refunds,
	}
}

type processRefundReq struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// ProcessRefund issues a manual refund against a payment. Only
// superusers may refund payments they do not own.
func (h *RefundHandler) ProcessRefund(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	paymentID := e.Request.PathValue("paymentId")
	ctx := e.Request.Context()

	var req processRefundReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	payment, err := h.store.GetPayment(ctx, paymentID)
	if err != nil {
		return apiError(err)
	}
	if payment.UserID != "" && payment.UserID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	refund, err := h.payments.ProcessRefund(ctx, paymentID, req.Amount, req.Reason)
	if err != nil {
		slog.Error("h.payments.ProcessRefund()", "payment_id", paymentID, "amount", req.Amount, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, refund)
}

func (h *RefundHandler) GetRefundQuote(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	booking, err := h.store.GetBooking(ctx, bookingID)
	if err != nil {
		return apiError(err)
	}
	if booking.UserID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	quote, err := h.refunds.CalculateRefundAmount(ctx, bookingID)
	if err != nil {
		slog.Error("h.refunds.CalculateRefundAmount()", "booking_id", bookingID, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, quote)
}

func (h *RefundHandler) GetRefundEligibility(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	booking, err := h.store.GetBooking(ctx, bookingID)
	if err != nil {
		return apiError(err)
	}
	if booking.UserID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	eligible, err := h.refunds.ValidateRefundEligibility(ctx, bookingID, time.Time{})
	if err != nil {
		slog.Error("h.refunds.ValidateRefundEligibility()", "booking_id", bookingID, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"booking_id": bookingID,
		"eligible":   eligible,
	})
}

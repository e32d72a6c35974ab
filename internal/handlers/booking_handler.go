package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"slot-booking/internal/services"
	"slot-booking/internal/status"
	"slot-booking/internal/store"
	"slot-booking/models"
)

type BookingHandler struct {
	app      *pocketbase.PocketBase
	store    store.Store
	bookings *services.BookingService
	refunds  *services.RefundService
	notifier services.Notifier
}

func NewBookingHandler(app *pocketbase.PocketBase, s store.Store, bookings *services.BookingService, refunds *services.RefundService, notifier services.Notifier) *BookingHandler {
	return &BookingHandler{
		app:      app,
		store:    s,
		bookings: bookings,
		refunds:  refunds,
		notifier: notifier,
	}
}

type createBookingReq struct {
	TimeSlotID  string          `json:"time_slot_id"`
	ItemID      string          `json:"item_id"`
	Type        string          `json:"type"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Title       string          `json:"title"`
	Notes       string          `json:"notes"`
}

func (h *BookingHandler) CreateBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req createBookingReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	booking, err := h.bookings.CreateBooking(ctx, &services.CreateBookingRequest{
		UserID:      e.Auth.Id,
		TimeSlotID:  req.TimeSlotID,
		ItemID:      req.ItemID,
		Type:        models.SlotType(req.Type),
		TotalAmount: req.TotalAmount,
		Title:       req.Title,
		Notes:       req.Notes,
	})
	if err != nil {
		slog.Error("h.bookings.CreateBooking()", "user_id", e.Auth.Id, "slot_id", req.TimeSlotID, "error", err)
		return apiError(err)
	}

	h.archiveBooking(ctx, booking)

	return e.JSON(http.StatusCreated, booking)
}

type cancelBookingReq struct {
	Reason string `json:"reason"`
}

// CancelBooking cancels the booking and then runs the automatic
// refund. A refund failure is reported in the response but never undoes
// the cancellation.
func (h *BookingHandler) CancelBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	var req cancelBookingReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	existing, err := h.store.GetBooking(ctx, bookingID)
	if err != nil {
		return apiError(err)
	}
	if existing.UserID != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}

	booking, err := h.bookings.CancelBooking(ctx, bookingID, req.Reason)
	if err != nil {
		slog.Error("h.bookings.CancelBooking()", "booking_id", bookingID, "error", err)
		return apiError(err)
	}

	h.notifier.NotifyBookingCancelled(ctx, booking.UserID, booking.Title)
	h.archiveBooking(ctx, booking)

	reply := map[string]any{"booking": booking}
	outcome, err := h.refunds.ProcessAutomaticRefund(ctx, bookingID, "booking cancelled")
	if err != nil {
		slog.Error("h.refunds.ProcessAutomaticRefund()", "booking_id", bookingID, "error", err)
		reply["refund_error"] = err.Error()
		reply["refund_kind"] = status.KindOf(err).String()
	} else {
		reply["refund"] = outcome
	}

	return e.JSON(http.StatusOK, reply)
}

func (h *BookingHandler) GetBookingHistory(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	records, err := h.app.FindRecordsByFilter(
		"bookings",
		"user_id = {:userId}",
		"-created",
		100,
		0,
		map[string]any{"userId": e.Auth.Id},
	)
	if err != nil {
		slog.Error("h.app.FindRecordsByFilter(bookings)", "user_id", e.Auth.Id, "error", err)
		return apis.NewInternalServerError("internal error", err)
	}

	history := make([]map[string]any, 0, len(records))
	for _, r := range records {
		history = append(history, map[string]any{
			"booking_id":   r.GetString("booking_id"),
			"time_slot_id": r.GetString("time_slot_id"),
			"type":         r.GetString("type"),
			"status":       r.GetString("status"),
			"total_amount": r.GetString("total_amount"),
			"title":        r.GetString("title"),
			"created":      r.GetString("created"),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{"bookings": history})
}

// archiveBooking mirrors the booking into the PocketBase read model.
// Best effort: the store record stays authoritative.
func (h *BookingHandler) archiveBooking(ctx context.Context, booking *models.Booking) {
	records, _ := h.app.FindRecordsByFilter(
		"bookings",
		"booking_id = {:bookingId}",
		"",
		1,
		0,
		map[string]any{"bookingId": booking.ID},
	)

	var record *core.Record
	if len(records) > 0 {
		record = records[0]
	} else {
		collection, err := h.app.FindCollectionByNameOrId("bookings")
		if err != nil {
			slog.Error("h.app.FindCollectionByNameOrId(bookings)", "error", err)
			return
		}
		record = core.NewRecord(collection)
		record.Set("booking_id", booking.ID)
	}

	record.Set("user_id", booking.UserID)
	record.Set("time_slot_id", booking.TimeSlotID)
	record.Set("type", string(booking.Type))
	record.Set("status", string(booking.Status))
	record.Set("total_amount", booking.TotalAmount.String())
	record.Set("title", booking.Title)

	if err := h.app.SaveWithContext(ctx, record); err != nil {
		slog.Error("h.app.SaveWithContext(bookings)", "booking_id", booking.ID, "error", err)
	}
}

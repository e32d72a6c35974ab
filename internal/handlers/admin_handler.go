package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"slot-booking/internal/services"
	"slot-booking/internal/status"
	"slot-booking/internal/store"
)

type AdminHandler struct {
	store   store.Store
	refunds *services.RefundService
}

func NewAdminHandler(s store.Store, refunds *services.RefundService) *AdminHandler {
	return &AdminHandler{
		store:   s,
		refunds: refunds,
	}
}

type batchRefundsReq struct {
	BookingIDs []string `json:"booking_ids"`
	Reason     string   `json:"reason"`
	FullRefund bool     `json:"full_refund"`
}

// ProcessBatchRefunds refunds many bookings at once, for operator
// actions like cancelling a whole slot. Items fail independently.
func (h *AdminHandler) ProcessBatchRefunds(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superusers only", nil)
	}

	var req batchRefundsReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if len(req.BookingIDs) == 0 {
		return apis.NewBadRequestError("booking_ids is required", nil)
	}
	if req.Reason == "" {
		return apis.NewBadRequestError("reason is required", nil)
	}

	result := h.refunds.ProcessBatchRefunds(e.Request.Context(), req.BookingIDs, req.Reason, req.FullRefund)

	return e.JSON(http.StatusOK, result)
}

// GetSlotDashboard lists occupancy for every active slot.
func (h *AdminHandler) GetSlotDashboard(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superusers only", nil)
	}
	ctx := e.Request.Context()

	ids, err := h.store.ActiveSlotIDs(ctx)
	if err != nil {
		slog.Error("h.store.ActiveSlotIDs()", "error", err)
		return apiError(err)
	}

	slots := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		slot, err := h.store.GetSlot(ctx, id)
		if err != nil {
			if status.IsKind(err, status.KindNotFound) {
				continue
			}
			return apiError(err)
		}
		slots = append(slots, map[string]any{
			"slot_id":          slot.ID,
			"type":             slot.Type,
			"start_at":         slot.StartAt,
			"end_at":           slot.EndAt,
			"max_capacity":     slot.MaxCapacity,
			"current_bookings": slot.CurrentBookings,
			"is_available":     slot.IsAvailable,
		})
	}

	return e.JSON(http.StatusOK, map[string]any{"slots": slots})
}

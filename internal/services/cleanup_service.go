package services

import (
	"context"
	"log/slog"
	"time"

	"slot-booking/config"
	"slot-booking/internal/status"
	"slot-booking/internal/store"
)

// CleanupService cancels pending bookings whose payment window has
// expired, releasing their slot capacity.
type CleanupService struct {
	store    store.Store
	bookings *BookingService

	interval time.Duration
	ttl      time.Duration
}

func NewCleanupService(s store.Store, bookings *BookingService, cfg *config.Config) *CleanupService {
	return &CleanupService{
		store:    s,
		bookings: bookings,
		interval: cfg.CleanupInterval,
		ttl:      cfg.PendingBookingTTL,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("cleanup loop started", "interval", s.interval, "ttl", s.ttl)
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup loop stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *CleanupService) sweep(ctx context.Context) {
	ids, err := s.store.PendingBookingIDs(ctx)
	if err != nil {
		slog.Error("list pending bookings", "error", err)
		return
	}

	cutoff := time.Now().UTC().Add(-s.ttl)
	for _, id := range ids {
		booking, err := s.store.GetBooking(ctx, id)
		if err != nil {
			if status.IsKind(err, status.KindNotFound) {
				continue
			}
			slog.Error("load pending booking", "booking_id", id, "error", err)
			continue
		}
		if booking.CreatedAt.After(cutoff) {
			continue
		}

		if _, err := s.bookings.CancelBooking(ctx, id, "payment window expired"); err != nil {
			// Conflict means a payment landed between the read and the
			// cancel; that booking is no longer ours to expire.
			if status.IsKind(err, status.KindConflict) {
				continue
			}
			slog.Error("expire pending booking", "booking_id", id, "error", err)
			continue
		}
		slog.Info("pending booking expired", "booking_id", id, "created_at", booking.CreatedAt)
	}
}

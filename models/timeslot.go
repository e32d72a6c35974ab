package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SlotType string

const (
	SlotTypeWorkshop SlotType = "workshop"
	SlotTypeSpace    SlotType = "space"
)

// TimeSlot is a bookable unit of time with finite capacity.
// Capacity counters are mutated only inside store transactions.
type TimeSlot struct {
	ID              string           `json:"id"`
	Date            string           `json:"date"`
	StartAt         time.Time        `json:"start_at"`
	EndAt           time.Time        `json:"end_at"`
	Type            SlotType         `json:"type"`
	ItemID          string           `json:"item_id,omitempty"`
	MaxCapacity     int              `json:"max_capacity"`
	CurrentBookings int              `json:"current_bookings"`
	IsAvailable     bool             `json:"is_available"`
	OverridePrice   *decimal.Decimal `json:"override_price,omitempty"`
}

// HasCapacity reports whether one more booking fits.
func (s *TimeSlot) HasCapacity() bool {
	return s.IsAvailable && s.CurrentBookings < s.MaxCapacity
}

// IncrementBookings bumps the counter, capped at MaxCapacity.
func (s *TimeSlot) IncrementBookings() {
	if s.CurrentBookings < s.MaxCapacity {
		s.CurrentBookings++
	}
}

// DecrementBookings lowers the counter, clamped at 0.
func (s *TimeSlot) DecrementBookings() {
	if s.CurrentBookings > 0 {
		s.CurrentBookings--
	}
}

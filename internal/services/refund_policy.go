package services

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Refund tiers by full hours remaining before the slot starts.
const (
	hoursFullRefund = 168
	hoursHighRefund = 72
	hoursHalfRefund = 24
)

var (
	rateFull = decimal.NewFromInt(1)
	rateHigh = decimal.RequireFromString("0.8")
	rateHalf = decimal.RequireFromString("0.5")
)

// RefundRate returns the refund fraction for the given number of full
// hours until the slot starts. Slots already started refund nothing.
func RefundRate(hoursUntilStart int64) decimal.Decimal {
	switch {
	case hoursUntilStart >= hoursFullRefund:
		return rateFull
	case hoursUntilStart >= hoursHighRefund:
		return rateHigh
	case hoursUntilStart >= hoursHalfRefund:
		return rateHalf
	}
	return decimal.Zero
}

// HoursUntilStart counts full hours from now to the slot start,
// truncating partial hours downward. 71.9h before start is 71 hours
// and lands in the 50% tier, not the 80% one.
func HoursUntilStart(startAt, now time.Time) int64 {
	return int64(math.Floor(startAt.Sub(now).Hours()))
}

// RefundAmount is the paid amount scaled by the applicable rate,
// rounded to two decimal places.
func RefundAmount(paid decimal.Decimal, startAt, now time.Time) decimal.Decimal {
	return paid.Mul(RefundRate(HoursUntilStart(startAt, now))).Round(2)
}

// PolicyText describes the tier applied, for receipts and quotes.
func PolicyText(hoursUntilStart int64) string {
	switch {
	case hoursUntilStart >= hoursFullRefund:
		return "full refund: cancelled 7 days or more before start"
	case hoursUntilStart >= hoursHighRefund:
		return "80% refund: cancelled 3 to 7 days before start"
	case hoursUntilStart >= hoursHalfRefund:
		return "50% refund: cancelled 1 to 3 days before start"
	}
	return "no refund: cancelled less than 24 hours before start"
}

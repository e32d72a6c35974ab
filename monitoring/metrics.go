package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"slot-booking/internal/store"
)

var (
	bookingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Total booking operations",
		},
		[]string{"operation", "status"},
	)

	paymentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_operations_total",
			Help: "Total payment operations",
		},
		[]string{"operation", "status"},
	)

	refundOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_operations_total",
			Help: "Total refund operations",
		},
		[]string{"operation", "status"},
	)

	refundedAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunded_amount_total",
			Help: "Total refunded amount by currency",
		},
		[]string{"currency"},
	)

	slotOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slot_current_bookings",
			Help: "Current bookings per active time slot",
		},
		[]string{"slot_id"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)
)

// Track booking operations
func TrackBookingOperation(operation, status string) {
	bookingOperations.WithLabelValues(operation, status).Inc()
}

// Track payment operations
func TrackPaymentOperation(operation, status string) {
	paymentOperations.WithLabelValues(operation, status).Inc()
}

// Track refund operations
func TrackRefundOperation(operation, status string) {
	refundOperations.WithLabelValues(operation, status).Inc()
}

func TrackRefundedAmount(currency string, amount float64) {
	refundedAmount.WithLabelValues(currency).Add(amount)
}

// Track gateway call duration
func TrackGatewayCall(operation string, duration time.Duration) {
	gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

type Monitor struct {
	store store.Store
}

func NewMonitor(s store.Store) *Monitor {
	monitor := &Monitor{store: s}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		m.collectOccupancy(ctx)
	}
}

func (m *Monitor) collectOccupancy(ctx context.Context) {
	ids, err := m.store.ActiveSlotIDs(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		slot, err := m.store.GetSlot(ctx, id)
		if err != nil {
			continue
		}
		slotOccupancy.WithLabelValues(id).Set(float64(slot.CurrentBookings))
	}
}

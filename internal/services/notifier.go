package services

import (
	"context"
	"log"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"

	"slot-booking/models"
)

// Notifier delivers refund and cancellation outcomes to users.
// Delivery is best effort and never affects the money flow.
type Notifier interface {
	NotifyRefundCompleted(ctx context.Context, userID string, refund *models.RefundInfo, bookingTitle string)
	NotifyRefundFailed(ctx context.Context, userID, bookingTitle, reason string)
	NotifyBookingCancelled(ctx context.Context, userID, bookingTitle string)
}

// PubNubNotifier publishes to each user's private channel.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pn: pn}
}

func (n *PubNubNotifier) NotifyRefundCompleted(ctx context.Context, userID string, refund *models.RefundInfo, bookingTitle string) {
	n.publish(ctx, userID, map[string]any{
		"type":          "refund_completed",
		"booking_title": bookingTitle,
		"refund_id":     refund.ID,
		"amount":        refund.Amount.String(),
		"refunded_at":   refund.RefundedAt.Format(time.RFC3339),
	})
}

func (n *PubNubNotifier) NotifyRefundFailed(ctx context.Context, userID, bookingTitle, reason string) {
	n.publish(ctx, userID, map[string]any{
		"type":          "refund_failed",
		"booking_title": bookingTitle,
		"reason":        reason,
	})
}

func (n *PubNubNotifier) NotifyBookingCancelled(ctx context.Context, userID, bookingTitle string) {
	n.publish(ctx, userID, map[string]any{
		"type":          "booking_cancelled",
		"booking_title": bookingTitle,
	})
}

func (n *PubNubNotifier) publish(_ context.Context, userID string, message map[string]any) {
	channel := "user-" + userID

	_, _, err := n.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		log.Printf("publish to %v: %v\n", channel, err)
	}
}

// LogNotifier stands in when no PubNub keys are configured.
type LogNotifier struct{}

func (LogNotifier) NotifyRefundCompleted(_ context.Context, userID string, refund *models.RefundInfo, bookingTitle string) {
	slog.Info("notify refund completed", "user_id", userID, "refund_id", refund.ID, "booking", bookingTitle)
}

func (LogNotifier) NotifyRefundFailed(_ context.Context, userID, bookingTitle, reason string) {
	slog.Info("notify refund failed", "user_id", userID, "booking", bookingTitle, "reason", reason)
}

func (LogNotifier) NotifyBookingCancelled(_ context.Context, userID, bookingTitle string) {
	slog.Info("notify booking cancelled", "user_id", userID, "booking", bookingTitle)
}

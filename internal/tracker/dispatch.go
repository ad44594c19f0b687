package tracker

import (
	"context"
	"errors"

	"pricewatch/internal/alert"
	"pricewatch/internal/metrics"
)

// dispatch notifies once and records the acknowledgment. A failed dispatch
// leaves notificationSent false so the next tick retries it.
func (t *Tracker) dispatch(ctx context.Context, a *alert.PriceAlert) bool {
	logger := t.logger.With().Str("alert_id", a.ID).Logger()
	if t.notifier == nil {
		metrics.Notifications.WithLabelValues("unconfigured").Inc()
		logger.Warn().Msg("no notifier configured; notification left pending")
		return false
	}
	if a.TriggeredPrice == nil || a.TriggeredAt == nil {
		return false
	}
	triggeredAt := *a.TriggeredAt

	receipt, err := t.notifier.SendPriceAlert(ctx, a, *a.TriggeredPrice, a.OriginalPrice)
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("failed to dispatch alert")
		return false
	}

	now := t.now()
	_, err = t.store.Update(ctx, a.ID, func(p *alert.PriceAlert) error { return p.MarkNotified(triggeredAt, now) })
	if errors.Is(err, alert.ErrStaleNotification) {
		metrics.Notifications.WithLabelValues("stale").Inc()
		logger.Info().Str("reference", receipt.Reference).Msg("alert changed during dispatch; acknowledgment dropped")
		return false
	}
	if err != nil {
		// the message went out; a retry may duplicate it
		metrics.Notifications.WithLabelValues("unrecorded").Inc()
		logger.Error().Err(err).Str("reference", receipt.Reference).Msg("failed to record notification")
		return false
	}

	metrics.Notifications.WithLabelValues("sent").Inc()
	logger.Info().Str("channel", receipt.Channel).Str("reference", receipt.Reference).Msg("notification sent")
	return true
}

// retryPending re-dispatches triggered alerts whose earlier dispatch failed.
func (t *Tracker) retryPending(ctx context.Context) (retried, notified int) {
	if t.notifier == nil {
		return 0, 0
	}
	pending, err := t.store.FindPendingNotifications(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to load pending notifications")
		return 0, 0
	}
	for _, a := range pending {
		retried++
		if t.dispatch(ctx, a) {
			notified++
		}
	}
	return retried, notified
}

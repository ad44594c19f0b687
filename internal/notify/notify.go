package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/alert"
)

// Receipt is the acknowledgment of a dispatched notification.
type Receipt struct {
	Channel   string
	Reference string
}

// Notifier 定义价格告警输送接口。A nil error means the dispatch was acknowledged.
type Notifier interface {
	SendPriceAlert(ctx context.Context, a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) (Receipt, error)
}

// Channel names used in preferences and receipts.
const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelPush     = "push"
	ChannelSMS      = "sms"
)

// Multi 按告警偏好分发到各渠道，任一渠道成功即视为送达。
// An alert whose requested channels are all unconfigured is written to the log instead.
type Multi struct {
	channels map[string]Notifier
	fallback *Log
	logger   zerolog.Logger
}

var _ Notifier = (*Multi)(nil)

// NewMulti builds a dispatcher over the configured channels. Nil notifiers are ignored.
func NewMulti(channels map[string]Notifier, logger zerolog.Logger) *Multi {
	configured := make(map[string]Notifier, len(channels))
	for name, n := range channels {
		if n != nil {
			configured[name] = n
		}
	}
	return &Multi{
		channels: configured,
		fallback: NewLog(logger),
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Empty reports whether no channel is configured.
func (m *Multi) Empty() bool {
	return m == nil || len(m.channels) == 0
}

func (m *Multi) SendPriceAlert(ctx context.Context, a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) (Receipt, error) {
	var (
		refs []string
		sent []string
		errs []error
	)
	for _, name := range Requested(a.Notify) {
		n, ok := m.channels[name]
		if !ok {
			m.logger.Debug().Str("alert_id", a.ID).Str("channel", name).Msg("channel requested but not configured")
			continue
		}
		receipt, err := n.SendPriceAlert(ctx, a, triggered, original)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			m.logger.Warn().Err(err).Str("alert_id", a.ID).Str("channel", name).Msg("notification channel failed")
			continue
		}
		sent = append(sent, name)
		if receipt.Reference != "" {
			refs = append(refs, name+":"+receipt.Reference)
		}
	}

	if len(sent) == 0 {
		if len(errs) == 0 {
			m.logger.Warn().Str("alert_id", a.ID).Msg("alert requests no configured channel; logging trigger")
			return m.fallback.SendPriceAlert(ctx, a, triggered, original)
		}
		return Receipt{}, errors.Join(errs...)
	}
	return Receipt{Channel: strings.Join(sent, ","), Reference: strings.Join(refs, ",")}, nil
}

// Requested lists the channels an alert asks for, in dispatch order.
func Requested(p alert.Preferences) []string {
	var names []string
	if p.Telegram {
		names = append(names, ChannelTelegram)
	}
	if p.Email {
		names = append(names, ChannelEmail)
	}
	if p.Push {
		names = append(names, ChannelPush)
	}
	if p.SMS {
		names = append(names, ChannelSMS)
	}
	return names
}

// Log 仅记录告警，用于未配置任何渠道的本地运行。
type Log struct {
	logger zerolog.Logger
}

var _ Notifier = (*Log)(nil)

// NewLog returns a notifier that writes triggers to the log.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (l *Log) SendPriceAlert(_ context.Context, a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) (Receipt, error) {
	evt := l.logger.Info().
		Str("alert_id", a.ID).
		Str("user_id", a.UserID).
		Str("triggered_price", triggered.String()).
		Str("target_price", a.TargetPrice.String())
	if original != nil {
		evt = evt.Str("original_price", original.String())
	}
	evt.Msg(subject(a, triggered))
	return Receipt{Channel: "log"}, nil
}

func subject(a *alert.PriceAlert, triggered decimal.Decimal) string {
	return fmt.Sprintf("[PriceWatch] %s %s now %s %s", a.Type, describe(a), triggered.StringFixed(2), a.Currency)
}

func describe(a *alert.PriceAlert) string {
	switch a.Type {
	case alert.TypeFlight:
		return a.Search.Origin + "→" + a.Search.Destination
	default:
		if a.Search.Location != "" {
			return a.Search.Location
		}
		return a.Search.Destination
	}
}

func renderMessage(a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) string {
	builder := strings.Builder{}
	builder.WriteString("[PriceWatch Alert]\n")
	builder.WriteString(fmt.Sprintf("Watch: %s %s\n", a.Type, describe(a)))
	if a.Search.DepartureDate != nil {
		builder.WriteString(fmt.Sprintf("Date: %s\n", a.Search.DepartureDate.Format(time.DateOnly)))
	}
	builder.WriteString(fmt.Sprintf("Price: %s %s (target %s)\n", triggered.StringFixed(2), a.Currency, a.TargetPrice.StringFixed(2)))
	if original != nil && original.IsPositive() {
		drop := original.Sub(triggered)
		pct := drop.Div(*original).Mul(decimal.NewFromInt(100))
		builder.WriteString(fmt.Sprintf("Was: %s %s (-%s, %s%%)\n", original.StringFixed(2), a.Currency, drop.StringFixed(2), pct.StringFixed(1)))
	}
	builder.WriteString(fmt.Sprintf("Condition: %s\n", a.When.Mode))
	return builder.String()
}

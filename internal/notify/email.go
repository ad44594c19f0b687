package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"

	"pricewatch/internal/alert"
)

// EmailOptions configure SMTP delivery.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends composed messages. *gomail.Dialer satisfies it.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	from   string
	mailer Mailer
	logger zerolog.Logger
}

var _ Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	return NewEmailNotifierWithMailer(opts.From, gomail.NewDialer(opts.Host, opts.Port, opts.Username, opts.Password), logger)
}

// NewEmailNotifierWithMailer uses a caller-supplied transport.
func NewEmailNotifierWithMailer(from string, mailer Mailer, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		from:   from,
		mailer: mailer,
		logger: logger.With().Str("component", "notify_email").Logger(),
	}
}

// SendPriceAlert 发送邮件通知。
func (n *EmailNotifier) SendPriceAlert(ctx context.Context, a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) (Receipt, error) {
	to := strings.TrimSpace(a.Notify.EmailAddress)
	if to == "" {
		return Receipt{}, fmt.Errorf("email recipient empty")
	}
	if n.from == "" {
		return Receipt{}, fmt.Errorf("email sender not configured")
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	ref := fmt.Sprintf("<%s@pricewatch>", uuid.NewString())

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject(a, triggered))
	m.SetHeader("Message-ID", ref)
	m.SetBody("text/plain", renderMessage(a, triggered, original))
	m.AddAlternative("text/html", buildHTMLBody(a, triggered, original))

	if err := n.mailer.DialAndSend(m); err != nil {
		return Receipt{}, fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().Str("alert_id", a.ID).Str("to", to).Msg("email notification sent")
	return Receipt{Channel: ChannelEmail, Reference: ref}, nil
}

func buildHTMLBody(a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) string {
	priceLine := fmt.Sprintf("%s %s", triggered.StringFixed(2), a.Currency)
	if original != nil {
		priceLine = fmt.Sprintf("%s → %s %s", original.StringFixed(2), triggered.StringFixed(2), a.Currency)
	}

	template := `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 560px; margin: 0 auto; padding: 16px;">
    <h2>PriceWatch: %s</h2>
    <div style="font-size: 26px; font-weight: bold; color: #16a34a;">%s</div>
    <p>Target price: %s %s</p>
    <p style="font-size: 12px; color: #6b7280;">Alert %s</p>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		html.EscapeString(fmt.Sprintf("%s %s", a.Type, describe(a))),
		html.EscapeString(priceLine),
		a.TargetPrice.StringFixed(2), html.EscapeString(a.Currency),
		html.EscapeString(a.ID),
	)
}

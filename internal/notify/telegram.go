package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/alert"
)

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier 构造 Telegram 告警器。chatID is the fallback when an alert names none.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// SendPriceAlert 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) SendPriceAlert(ctx context.Context, a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) (Receipt, error) {
	chatID := a.Notify.TelegramChatID
	if chatID == "" {
		chatID = n.chatID
	}
	if chatID == "" {
		return Receipt{}, fmt.Errorf("telegram chat id missing")
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderMessage(a, triggered, original),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Receipt{}, fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return Receipt{}, fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Str("alert_id", a.ID).
		Str("chat_id", chatID).
		Str("triggered_price", triggered.String()).
		Msg("告警已发送 (Telegram)")

	ref := ""
	if result.Result.MessageID != 0 {
		ref = strconv.FormatInt(result.Result.MessageID, 10)
	}
	return Receipt{Channel: ChannelTelegram, Reference: ref}, nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"

	"pricewatch/internal/alert"
)

func testAlert(t *testing.T, prefs alert.Preferences) *alert.PriceAlert {
	t.Helper()
	departure := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	original := decimal.RequireFromString("650")
	a, err := alert.New(alert.Params{
		UserID:        "u1",
		Type:          alert.TypeFlight,
		Search:        alert.Search{Origin: "JFK", Destination: "LHR", DepartureDate: &departure},
		TargetPrice:   decimal.RequireFromString("500"),
		OriginalPrice: &original,
		Notify:        prefs,
	}, time.Now())
	if err != nil {
		t.Fatalf("new alert: %v", err)
	}
	return a
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 42}})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "fallback", srv.URL, time.Second, zerolog.Nop())
	a := testAlert(t, alert.Preferences{Telegram: true, TelegramChatID: "chat"})

	receipt, err := notifier.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), a.OriginalPrice)
	if err != nil {
		t.Fatalf("telegram send should succeed: %v", err)
	}
	if receipt.Reference != "42" || receipt.Channel != ChannelTelegram {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "JFK→LHR") || !strings.Contains(received["text"], "480.00") {
		t.Fatalf("unexpected text %q", received["text"])
	}
}

func TestTelegramNotifierFallbackChat(t *testing.T) {
	var chat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		chat = body["chat_id"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "fallback", srv.URL, time.Second, zerolog.Nop())
	a := testAlert(t, alert.Preferences{Telegram: true})
	if _, err := notifier.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if chat != "fallback" {
		t.Fatalf("expected fallback chat, got %q", chat)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	a := testAlert(t, alert.Preferences{Telegram: true})

	if _, err := notifier.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), nil); err == nil {
		t.Fatal("ok=false should fail")
	}
}

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := NewEmailNotifierWithMailer("alerts@example.com", mailer, zerolog.Nop())
	a := testAlert(t, alert.Preferences{Email: true, EmailAddress: "user@example.com"})

	receipt, err := notifier.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), a.OriginalPrice)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "user@example.com" {
		t.Fatalf("unexpected recipient %v", got)
	}
	if got := msg.GetHeader("Message-ID"); len(got) != 1 || got[0] != receipt.Reference {
		t.Fatalf("receipt should carry the message id, got %v vs %q", got, receipt.Reference)
	}
}

func TestEmailNotifierMissingRecipient(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := NewEmailNotifierWithMailer("alerts@example.com", mailer, zerolog.Nop())
	a := testAlert(t, alert.Preferences{Email: true})

	if _, err := notifier.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), nil); err == nil {
		t.Fatal("expected error without recipient")
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

type stubNotifier struct {
	calls int
	ref   string
	err   error
}

func (s *stubNotifier) SendPriceAlert(context.Context, *alert.PriceAlert, decimal.Decimal, *decimal.Decimal) (Receipt, error) {
	s.calls++
	return Receipt{Reference: s.ref}, s.err
}

func TestMultiRoutesByPreference(t *testing.T) {
	tg := &stubNotifier{ref: "7"}
	mail := &stubNotifier{err: errors.New("smtp down")}
	multi := NewMulti(map[string]Notifier{ChannelTelegram: tg, ChannelEmail: mail}, zerolog.Nop())

	a := testAlert(t, alert.Preferences{Telegram: true, Email: true, SMS: true})
	receipt, err := multi.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), nil)
	if err != nil {
		t.Fatalf("one successful channel should acknowledge: %v", err)
	}
	if receipt.Channel != ChannelTelegram || receipt.Reference != "telegram:7" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if tg.calls != 1 || mail.calls != 1 {
		t.Fatalf("expected each channel once, got tg=%d mail=%d", tg.calls, mail.calls)
	}
}

func TestMultiFailures(t *testing.T) {
	mail := &stubNotifier{err: errors.New("smtp down")}
	multi := NewMulti(map[string]Notifier{ChannelEmail: mail, ChannelTelegram: nil}, zerolog.Nop())

	a := testAlert(t, alert.Preferences{Email: true})
	if _, err := multi.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), nil); err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected channel error, got %v", err)
	}

}

func TestMultiLogsUnroutableAlert(t *testing.T) {
	mail := &stubNotifier{}
	multi := NewMulti(map[string]Notifier{ChannelEmail: mail, ChannelTelegram: nil}, zerolog.Nop())

	for name, prefs := range map[string]alert.Preferences{
		"unconfigured channel": {Telegram: true},
		"no channel":           {},
	} {
		a := testAlert(t, prefs)
		receipt, err := multi.SendPriceAlert(context.Background(), a, decimal.RequireFromString("480"), nil)
		if err != nil {
			t.Fatalf("%s: trigger should be acknowledged through the log, got %v", name, err)
		}
		if receipt.Channel != "log" {
			t.Fatalf("%s: unexpected receipt %+v", name, receipt)
		}
	}
	if mail.calls != 0 {
		t.Fatalf("unrequested channel was used %d times", mail.calls)
	}
}

func TestRenderMessageIncludesDrop(t *testing.T) {
	a := testAlert(t, alert.Preferences{})
	text := renderMessage(a, decimal.RequireFromString("520"), a.OriginalPrice)
	if !strings.Contains(text, "Was: 650.00 USD (-130.00, 20.0%)") {
		t.Fatalf("unexpected message:\n%s", text)
	}
	if !strings.Contains(text, "Date: 2025-06-01") {
		t.Fatalf("missing date:\n%s", text)
	}
}

package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
)

func telegramTestConfig(baseURL string) config.TelegramConfig {
	return config.TelegramConfig{
		Enabled:  true,
		BotToken: "token-123",
		ChatID:   "chat-1",
		APIBase:  baseURL,
	}
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	}))
	defer server.Close()

	channel := NewTelegramChannel(telegramTestConfig(server.URL), time.Second, zerolog.Nop())
	msgID, err := channel.Send(context.Background(), "title", "body")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if gotPath != "/bottoken-123/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotPayload["chat_id"] != "chat-1" {
		t.Fatalf("unexpected chat_id %q", gotPayload["chat_id"])
	}
	if !strings.HasPrefix(gotPayload["text"], "title\n") {
		t.Fatalf("text should start with the title, got %q", gotPayload["text"])
	}
	if msgID != "42" {
		t.Fatalf("expected provider message id 42, got %q", msgID)
	}
}

func TestTelegramSendNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	channel := NewTelegramChannel(telegramTestConfig(server.URL), time.Second, zerolog.Nop())
	if _, err := channel.Send(context.Background(), "title", "body"); err == nil {
		t.Fatal("ok=false should surface an error")
	}
}

func TestTelegramSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := NewTelegramChannel(telegramTestConfig(server.URL), time.Second, zerolog.Nop())
	if _, err := channel.Send(context.Background(), "title", "body"); err == nil {
		t.Fatal("5xx should surface an error")
	}
}

func TestEmailSendBuildsMessage(t *testing.T) {
	channel := NewEmailChannel(config.EmailConfig{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    2525,
		From:    "alerts@example.com",
		To:      []string{"ops@example.com"},
	}, zerolog.Nop())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	channel.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if _, err := channel.Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if gotAddr != "smtp.example.com:2525" {
		t.Fatalf("unexpected address %q", gotAddr)
	}
	if gotFrom != "alerts@example.com" || len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Fatalf("unexpected envelope %q -> %v", gotFrom, gotTo)
	}
	message := string(gotMsg)
	if !strings.Contains(message, "Subject: title\r\n") {
		t.Fatalf("message should carry the subject, got %q", message)
	}
	if !strings.HasSuffix(message, "\r\nbody") {
		t.Fatalf("message should end with the body, got %q", message)
	}
}

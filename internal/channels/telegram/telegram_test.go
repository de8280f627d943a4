package telegram_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/basket/pulseagent/internal/channels/telegram"
	"github.com/basket/pulseagent/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestName_ReturnsTelegram(t *testing.T) {
	ch := telegram.New(telegram.Config{}, nil, discardLogger())
	if ch.Name() != "telegram" {
		t.Fatalf("Name() = %q, want %q", ch.Name(), "telegram")
	}
}

func TestIsAvailable_FalseBeforeStart(t *testing.T) {
	ch := telegram.New(telegram.Config{Token: "unused"}, nil, discardLogger())
	if ch.IsAvailable() {
		t.Fatal("expected IsAvailable() = false before Start")
	}
}

func TestSendMessage_FailsBeforeStart(t *testing.T) {
	ch := telegram.New(telegram.Config{Token: "unused"}, nil, discardLogger())
	_, err := ch.SendMessage(context.Background(), "123", "hello", ports.MessageOptions{})
	if err == nil {
		t.Fatal("expected SendMessage to fail before the bot is started")
	}
}

func TestSendMessage_RejectsNonNumericTarget(t *testing.T) {
	ch := telegram.New(telegram.Config{Token: "unused"}, nil, discardLogger())
	_, err := ch.SendMessage(context.Background(), "not-a-chat-id", "hello", ports.MessageOptions{})
	if err == nil {
		t.Fatal("expected SendMessage to reject a non-numeric target")
	}
}

func TestGetHealth_ReportsUnhealthyBeforeStart(t *testing.T) {
	ch := telegram.New(telegram.Config{}, nil, discardLogger())
	health, err := ch.GetHealth(context.Background())
	if err != nil {
		t.Fatalf("GetHealth() error = %v", err)
	}
	if health.Healthy {
		t.Fatal("expected Healthy = false before Start")
	}
}

func TestStop_IsSafeWithoutStart(t *testing.T) {
	ch := telegram.New(telegram.Config{}, nil, discardLogger())
	if err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

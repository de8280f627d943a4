// Package telegram adapts a Telegram bot to the ports.Channel contract
// (plus its optional StartStopper and HealthReporter segments). Grounded
// on the teacher's internal/channels/telegram.go (the long-poll
// reconnect loop with exponential backoff and stall detection, the
// allowlist gate, MarkdownV2 escaping), generalized from a task-router-
// specific channel (CreateChatTask, streaming-edit state, HITL inline
// keyboards, plan-progress formatting) down to the plain
// inbound-callback/outbound-send shape ports.Channel asks for — MOTOR's
// SEND_MESSAGE intent and AUTONOMIC's inbound signal ingestion own the
// routing and approval logic this runtime's architecture puts elsewhere.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/pulseagent/internal/ports"
)

// Config configures a Channel.
type Config struct {
	Token         string
	AllowedIDs    []int64
	PrimaryChatID string
}

// Channel implements ports.Channel, ports.StartStopper, and
// ports.HealthReporter for Telegram.
type Channel struct {
	token      string
	allowedIDs map[int64]struct{}
	logger     *slog.Logger

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI

	inbound ports.InboundHandler
}

var (
	_ ports.Channel        = (*Channel)(nil)
	_ ports.StartStopper   = (*Channel)(nil)
	_ ports.HealthReporter = (*Channel)(nil)
)

// New creates a Channel. handler receives every inbound message from an
// allowlisted user; it must not block.
func New(cfg Config, handler ports.InboundHandler, logger *slog.Logger) *Channel {
	allowed := make(map[int64]struct{}, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = struct{}{}
	}
	return &Channel{
		token:      cfg.Token,
		allowedIDs: allowed,
		logger:     logger,
		inbound:    handler,
	}
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot != nil
}

// Start connects to the Telegram API and runs the long-poll loop until
// ctx is canceled, reconnecting with exponential backoff on stall or
// transport error.
func (c *Channel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()

	c.logger.Info("telegram channel started", "user", bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)

		pollErr := c.pollUpdates(ctx, updates)
		bot.StopReceivingUpdates()

		if pollErr == nil {
			return nil
		}
		c.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Stop clears the bot handle; GetUpdatesChan's polling goroutine exits
// once Start's context is canceled by the caller.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.bot = nil
	c.mu.Unlock()
	return nil
}

// pollUpdates reads from the update channel until ctx is done, the
// channel closes, or no updates arrive within 2.5x Telegram's 60s
// long-poll timeout (stall detection — the library blocks rather than
// closing the channel on a dead connection).
func (c *Channel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				c.handleMessage(update.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (c *Channel) handleMessage(msg *tgbotapi.Message) {
	if _, ok := c.allowedIDs[msg.From.ID]; !ok {
		c.logger.Warn("telegram access denied", "user_id", msg.From.ID, "user_name", msg.From.UserName)
		return
	}
	content := strings.TrimSpace(msg.Text)
	if content == "" || c.inbound == nil {
		return
	}
	c.inbound(
		strconv.FormatInt(msg.Chat.ID, 10),
		content,
		strconv.FormatInt(msg.From.ID, 10),
		strconv.Itoa(msg.MessageID),
	)
}

// SendMessage sends text to target (a chat id), honoring ReplyTo,
// ParseMode, and Silent from opts.
func (c *Channel) SendMessage(ctx context.Context, target, text string, opts ports.MessageOptions) (ports.SendResult, error) {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("invalid telegram chat id %q: %w", target, err)
	}

	c.mu.RLock()
	bot := c.bot
	c.mu.RUnlock()
	if bot == nil {
		return ports.SendResult{}, fmt.Errorf("telegram bot not started")
	}

	out := tgbotapi.NewMessage(chatID, text)
	if opts.ParseMode != "" {
		out.ParseMode = opts.ParseMode
	}
	out.DisableWebPagePreview = opts.DisableLinkPreview
	out.DisableNotification = opts.Silent
	if opts.ReplyTo != "" {
		if replyID, err := strconv.Atoi(opts.ReplyTo); err == nil {
			out.ReplyToMessageID = replyID
		}
	}

	sent, err := bot.Send(out)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	return ports.SendResult{Success: true, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// GetHealth reports whether the bot session is connected.
func (c *Channel) GetHealth(ctx context.Context) (ports.Health, error) {
	if c.IsAvailable() {
		return ports.Health{Healthy: true}, nil
	}
	return ports.Health{Healthy: false, Detail: "bot not started"}, nil
}

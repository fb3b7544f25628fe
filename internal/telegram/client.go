// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// StatusSource supplies the snapshot reported by /status.
type StatusSource interface {
	GetLatestSnapshot() (*models.MarketContext, error)
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status StatusSource) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status StatusSource) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "status":
		var text string
		if status == nil {
			text = escapeMarkdownV2("Status unavailable")
		} else if snap, err := status.GetLatestSnapshot(); err != nil {
			text = escapeMarkdownV2("Status unavailable: " + err.Error())
		} else {
			text = formatStatus(snap)
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(loop string, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *%s loop error*\n`%s`", escapeMarkdownV2(loop), escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(loop string, failureCount int) error {
	text := fmt.Sprintf("✅ *%s loop recovered* after %d consecutive failure\\(s\\)", escapeMarkdownV2(loop), failureCount)
	return c.sendMarkdownV2(text)
}

// SendAlert sends a dispatched alert.
func (c *Client) SendAlert(alert *models.AlertPayload) error {
	return c.sendMarkdownV2(formatAlert(alert))
}

// formatAlert formats an alert payload into a Telegram MarkdownV2 message.
func formatAlert(alert *models.AlertPayload) string {
	var b strings.Builder

	b.WriteString("🚨 *")
	b.WriteString(escapeMarkdownV2(strings.ReplaceAll(alert.AlertType, "_", " ")))
	b.WriteString("*\n\n")

	if alert.Message != "" {
		b.WriteString(escapeMarkdownV2(alert.Message))
		b.WriteString("\n\n")
	}

	directionEmoji := "📈"
	if alert.PriceChange24h < 0 {
		directionEmoji = "📉"
	}
	fmt.Fprintf(&b, "%s BTC %s \\(%s\\)\n",
		directionEmoji,
		escapeMarkdownV2("$"+humanize.CommafWithDigits(alert.BTCPrice, 2)),
		escapeMarkdownV2(fmt.Sprintf("%+.2f%%", alert.PriceChange24h)))
	fmt.Fprintf(&b, "Risk *%d*/100 · Hype *%d*/100\n", alert.RiskScore, alert.HypeScore)

	if !alert.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(alert.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

func formatStatus(snap *models.MarketContext) string {
	if snap == nil {
		return escapeMarkdownV2("No snapshot yet.")
	}
	return fmt.Sprintf("📊 *Market status*\nBTC %s \\(%s\\)\nRisk *%d*/100 \\(%s\\)\nHype *%d*/100 \\(%s\\)\nSentiment %s",
		escapeMarkdownV2("$"+humanize.CommafWithDigits(snap.BTCPrice, 2)),
		escapeMarkdownV2(fmt.Sprintf("%+.2f%%", snap.PriceChange24h)),
		snap.RiskScore, risk.Level(snap.RiskScore),
		snap.HypeScore, risk.Level(snap.HypeScore),
		escapeMarkdownV2(string(snap.Sentiment)))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

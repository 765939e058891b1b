// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/matchoracle/internal/learning"
	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
)

// StatusSource reports per-source breaker state for /status.
type StatusSource interface {
	Status() map[string]models.SourceStatus
}

// ModelSource reports learning statistics for /model.
type ModelSource interface {
	Statistics() learning.Statistics
}

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

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status StatusSource, model ModelSource) {
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
					c.handleCommand(update.Message, status, model)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status StatusSource, model ModelSource) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status":
		if status == nil {
			return
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, formatStatus(status.Status()))
		reply.ParseMode = "MarkdownV2"
	case "model":
		if model == nil {
			return
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, formatModel(model.Statistics()))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a cycle error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Pipeline error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Pipeline recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// Send sends a notification with the selected betting decisions.
func (c *Client) Send(decisions []models.BettingDecision) error {
	return c.sendMarkdownV2(formatDecisions(decisions))
}

var marketLabels = map[models.Market]string{
	models.Market1X2:       "Match result",
	models.MarketOverUnder: "Over/Under 2.5",
	models.MarketBTTS:      "Both teams to score",
}

// formatDecisions formats decisions into a Telegram MarkdownV2 message.
func formatDecisions(decisions []models.BettingDecision) string {
	var b strings.Builder
	b.WriteString("⚽ *Value Picks*\n\n")

	if len(decisions) > 0 && !decisions[0].DecidedAt.IsZero() {
		dateStr := escapeMarkdownV2(decisions[0].DecidedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "📅 Decided: %s\n\n", dateStr)
	}

	for i, d := range decisions {
		emoji := "🟡"
		if d.Recommendation == models.StrongBet {
			emoji = "🟢"
		}
		title := escapeMarkdownV2(fmt.Sprintf("%s vs %s", d.Home, d.Away))
		fmt.Fprintf(&b, "%d\\. %s *%s*", i+1, emoji, title)
		if d.League != "" {
			fmt.Fprintf(&b, " \\(%s\\)", escapeMarkdownV2(d.League))
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "   🎯 %s: *%s* @ %s\n",
			escapeMarkdownV2(marketLabels[d.Market]),
			escapeMarkdownV2(d.Outcome),
			escapeMarkdownV2(fmt.Sprintf("%.2f", d.Odds)))
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(fmt.Sprintf(
			"%s | conf %.1f%% | EV %+.1f%% | consensus %.0f%% | stake %.1f%% | risk %s",
			d.Recommendation, d.Confidence, d.ExpectedValue*100, d.Consensus*100, d.Stake, d.Risk)))
		b.WriteString("\n")
	}

	return b.String()
}

// formatStatus renders the breaker table ordered by priority.
func formatStatus(status map[string]models.SourceStatus) string {
	list := make([]models.SourceStatus, 0, len(status))
	for _, s := range status {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].Name < list[j].Name
	})

	var b strings.Builder
	b.WriteString("📡 *Sources*\n\n")
	if len(list) == 0 {
		b.WriteString("No sources configured\n")
		return b.String()
	}
	for _, s := range list {
		emoji := "🟢"
		switch {
		case !s.Enabled:
			emoji = "⚪"
		case s.BreakerState == models.BreakerOpen:
			emoji = "🔴"
		case !s.Available:
			emoji = "🟠"
		}
		fmt.Fprintf(&b, "%s *%s* %s\n", emoji, escapeMarkdownV2(s.Name), escapeMarkdownV2(fmt.Sprintf(
			"breaker %s, %d/%d requests, %d failures", s.BreakerState, s.RequestsUsed, s.RateLimit, s.Failures)))
	}
	return b.String()
}

// formatModel renders both model versions and per-market accuracy.
func formatModel(s learning.Statistics) string {
	var b strings.Builder
	b.WriteString("🧠 *Model*\n\n")
	fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(fmt.Sprintf("current v%d: %.1f%% over %d",
		s.CurrentModel.Version, s.CurrentModel.Accuracy, s.CurrentModel.TotalPredictions)))
	fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(fmt.Sprintf("best v%d: %.1f%% over %d",
		s.BestModel.Version, s.BestModel.Accuracy, s.BestModel.TotalPredictions)))
	fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(fmt.Sprintf("recent: %.1f%% (%d results, %d iterations, %d rollbacks)",
		s.RecentAccuracy, s.HistorySize, s.Iterations, s.Rollbacks)))

	for _, market := range models.Markets {
		bt, ok := s.ByBetType[market]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(fmt.Sprintf("%s: %d/%d (%.1f%%)",
			marketLabels[market], bt.Correct, bt.Total, bt.Accuracy)))
	}
	return b.String()
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

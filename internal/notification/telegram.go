package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for the bot token and chat ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(sendMessage{ChatID: t.chatID, Text: telegramText(alert), ParseMode: "MarkdownV2"})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] %s alert for %s", alert.Level, alert.Symbol)
	return nil
}

func levelEmoji(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

// telegramText renders alert as MarkdownV2. Level alerts get one line per
// field so the numbers line up in the chat.
func telegramText(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", levelEmoji(alert.Level), escapeMarkdown(alert.Title))
	if alert.IsLevel() {
		field := func(name, value string) {
			fmt.Fprintf(&b, "\n%s: `%s`", name, escapeMarkdown(value))
		}
		field("Level", fmt.Sprintf("%s (%s)", alert.Label, alert.Kind))
		field("Price", fmt.Sprintf("%.2f", alert.Price))
		field("Last close", fmt.Sprintf("%.2f", alert.Close))
		field("Distance", fmt.Sprintf("%+.2f%%", alert.DistancePct))
	} else {
		b.WriteString("\n" + escapeMarkdown(alert.Message))
	}
	if alert.Symbol != "" {
		b.WriteString("\n\n\\#" + escapeMarkdown(alert.Symbol))
	}
	return b.String()
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune("_*[]()~`>#+-=|{}.!\\", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

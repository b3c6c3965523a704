package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// telegramTextLimit is the Bot API cap on message length.
const telegramTextLimit = 4096

// TelegramSender delivers ops alerts via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert through sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx,
		t.client,
		fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token),
		map[string]string{
			"chat_id":    t.chatID,
			"text":       truncate(fmt.Sprintf("*%s*\n%s", title, message), telegramTextLimit),
			"parse_mode": "Markdown",
		},
	)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

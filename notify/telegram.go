// notify/telegram.go
package notify

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier posts each notification as one bot message. The bot is
// connected on first use so a Telegram outage never blocks startup.
type TelegramNotifier struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:    token,
		chatID:   chatID,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Notify(subject, body string) error {
	bot, err := t.connect()
	if err != nil {
		return fmt.Errorf("telegram connect failed: %w", err)
	}
	if _, err := bot.Send(t.message(subject + "\n" + body)); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// message addresses a numeric chat id, or a channel when chatID is "@name".
func (t *TelegramNotifier) message(text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(t.chatID, text)
}

func (t *TelegramNotifier) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

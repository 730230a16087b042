// notify/notifier.go
package notify

import (
	"errors"
	"fmt"

	"scalp_guard_go/config"
	"scalp_guard_go/logs"
)

// Notifier delivers a short human-readable message. Delivery is best-effort:
// callers log a returned error and carry on.
type Notifier interface {
	Notify(subject, body string) error
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes messages to the bot log. It is always part of the chain
// so every notification leaves a trace even when delivery fails.
type LogNotifier struct{}

func (LogNotifier) Notify(subject, body string) error {
	logs.Infof("[Notify] %s: %s", subject, body)
	return nil
}

// FromConfig builds the notifier chain for the enabled channels.
func FromConfig(cfg *config.NotifyConfig, smtpPassword, telegramToken string) (Notifier, error) {
	chain := Multi{LogNotifier{}}
	if cfg == nil {
		return chain, nil
	}
	if cfg.Email != nil && cfg.Email.Enabled {
		if smtpPassword == "" {
			return nil, fmt.Errorf("email notifications enabled but SMTP_APP_PASSWORD is not set")
		}
		chain = append(chain, NewEmailNotifier(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.From, cfg.Email.To, smtpPassword))
	}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		if telegramToken == "" {
			return nil, fmt.Errorf("telegram notifications enabled but TELEGRAM_BOT_TOKEN is not set")
		}
		chain = append(chain, NewTelegramNotifier(telegramToken, cfg.Telegram.ChatID))
	}
	return chain, nil
}

package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// TelegramConfig holds configuration for the Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg  TelegramConfig
	rest *resty.Client
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &TelegramAlerter{
		cfg: cfg,
		rest: resty.New().
			SetBaseURL("https://api.telegram.org").
			SetTimeout(timeout),
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	text := fmt.Sprintf("<b>[%s]</b>\n%s", severity.String(), message)
	if details := FormatFields(fields...); details != "" {
		text += "\n\n<b>Details:</b>\n" + details
	}

	var result telegramResponse
	_, err := t.rest.R().
		SetContext(ctx).
		SetBody(telegramMessage{
			ChatID:    t.cfg.ChatID,
			Text:      text,
			ParseMode: "HTML",
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.cfg.BotToken))
	if err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}
	return nil
}

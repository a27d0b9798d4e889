package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token string
	// APIURL overrides https://api.telegram.org (tests, local bot API).
	APIURL  string
	Timeout time.Duration
}

// Telegram sends alerts through the Bot API. It never polls for updates.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

// Send posts text in HTML parse mode with link previews off. The bot API
// call is not context-aware; ctx is only checked before sending.
func (t *Telegram) Send(ctx context.Context, dest int64, text string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := t.bot.Send(&tele.Chat{ID: dest}, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err == nil {
		return true, nil
	}
	if isTransport(err) {
		return false, fmt.Errorf("telegram send: %w", err)
	}
	// the API answered: bad chat, blocked bot, flood limit
	return false, nil
}

func isTransport(err error) bool {
	var (
		ue *url.Error
		ne net.Error
	)
	return errors.As(err, &ue) || errors.As(err, &ne)
}

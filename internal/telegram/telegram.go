// Package telegram sends reminder messages and answers a few bot commands.
package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

var (
	ErrNoToken     = errors.New("telegram: bot token is not configured")
	ErrNoRecipient = errors.New("telegram: recipient is empty")
)

// Sender delivers a formatted text to a chat.
type Sender interface {
	Send(recipient, text string) error
}

// Config is the explicit configuration of a bot. URL overrides the Bot API
// endpoint; Offline skips the getMe handshake.
type Config struct {
	Token       string
	URL         string
	PollTimeout time.Duration
	Offline     bool
}

// NewBot builds a long-polling bot. Handler errors are logged.
func NewBot(cfg Config, log *zap.Logger) (*tele.Bot, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	timeout := cfg.PollTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	pref := tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			fields := []zap.Field{zap.Error(err)}
			if c != nil && c.Chat() != nil {
				fields = append(fields, zap.Int64("chat_id", c.Chat().ID))
			}
			log.Error("telegram handler failed", fields...)
		},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return b, nil
}

// chat is a recipient given as a numeric chat id or an @username.
type chat string

func (c chat) Recipient() string { return string(c) }

// BotSender sends HTML messages through a telebot bot.
type BotSender struct {
	bot *tele.Bot
	log *zap.Logger
}

func NewSender(bot *tele.Bot, log *zap.Logger) *BotSender {
	return &BotSender{bot: bot, log: log}
}

func (s *BotSender) Send(recipient, text string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return ErrNoRecipient
	}
	if _, err := s.bot.Send(chat(recipient), text, tele.ModeHTML); err != nil {
		return fmt.Errorf("send to %s: %w", recipient, err)
	}
	s.log.Info("telegram message sent", zap.String("chat_id", recipient))
	return nil
}

// RegisterCommands wires the bot commands that help users find their chat id.
func RegisterCommands(b *tele.Bot) {
	b.Handle("/start", func(c tele.Context) error {
		return c.Send(startMessage(c.Chat().ID), tele.ModeHTML)
	})
	b.Handle("/help", func(c tele.Context) error {
		return c.Send(startMessage(c.Chat().ID), tele.ModeHTML)
	})
	b.Handle("/id", func(c tele.Context) error {
		return c.Send(fmt.Sprintf("%d", c.Chat().ID))
	})
}

func startMessage(chatID int64) string {
	return fmt.Sprintf(`<b>Habit reminders</b>

Your chat id is <code>%d</code>.

Connect it to your account with
<code>POST /api/users/connect-telegram/</code> and the body
<code>{"telegram_id": "%d"}</code>.

•/id - Show this chat id again
•/help - Show this message`, chatID, chatID)
}

// Package channel provides the Telegram implementation of the conversation channel.
//
// The adapter wraps the Bot API client: getUpdates long polling for inbound
// events, sendMessage/sendPhoto/deleteMessage for outbound actions. Button
// clicks are acknowledged with answerCallbackQuery so clients stop showing a
// spinner.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MSMikl/fish-store/internal/models"
)

const (
	// defaultPollTimeout is the long-poll window passed to getUpdates.
	defaultPollTimeout = 30 * time.Second
	// eventBufferSize bounds the inbound event queue.
	eventBufferSize = 64
)

// Opts holds configuration options for the Telegram channel.
type Opts struct {
	Token       string
	APIBaseURL  string
	HTTPClient  *http.Client
	PollTimeout time.Duration
}

// Option defines a configuration option for the Telegram channel.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithAPIBaseURL overrides the Bot API base URL (used by tests).
func WithAPIBaseURL(u string) Option {
	return func(o *Opts) { o.APIBaseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithPollTimeout sets the getUpdates long-poll window.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PollTimeout = d }
}

// Telegram is a Channel backed by the Telegram Bot API.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	pollTimeout time.Duration
	events      chan models.Event
	done        chan struct{}
}

// NewTelegram creates a Telegram channel based on provided options, falling
// back to the TG_TOKEN environment variable for the bot token. The bot's
// identity is verified against the API during construction.
func NewTelegram(opts ...Option) (*Telegram, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TG_TOKEN")
	}
	slog.Debug("Telegram channel config loaded", "token_set", cfg.Token != "")
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.HTTPClient == nil {
		// The HTTP timeout must outlast the long-poll window.
		cfg.HTTPClient = &http.Client{Timeout: cfg.PollTimeout + 15*time.Second}
	}
	endpoint := tgbotapi.APIEndpoint
	if cfg.APIBaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.APIBaseURL, "/") + "/bot%s/%s"
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot api: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Telegram{
		bot:         bot,
		pollTimeout: cfg.PollTimeout,
		events:      make(chan models.Event, eventBufferSize),
		done:        make(chan struct{}),
	}, nil
}

// Start launches the update feed and the goroutine converting Bot API updates
// into conversation events.
func (t *Telegram) Start(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(t.pollTimeout.Seconds())
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := t.bot.GetUpdatesChan(cfg)

	go func() {
		defer close(t.done)
		defer close(t.events)
		slog.Info("Telegram channel polling started")
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Telegram channel stopping due to context cancellation")
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				ev, usable := t.toEvent(u)
				if !usable {
					continue
				}
				select {
				case t.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// Stop halts polling and waits for the event feed to drain.
func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
	<-t.done
	slog.Info("Telegram channel stopped")
}

// Events returns the stream of inbound conversation events.
func (t *Telegram) Events() <-chan models.Event {
	return t.events
}

// toEvent converts one Bot API update into a conversation event. Callback
// queries are acknowledged immediately; updates with no usable content are
// dropped.
func (t *Telegram) toEvent(u tgbotapi.Update) (models.Event, bool) {
	switch {
	case u.Message != nil && u.Message.Chat != nil && u.Message.Text != "":
		return models.Event{
			ConversationID: strconv.FormatInt(u.Message.Chat.ID, 10),
			Kind:           models.EventText,
			Payload:        u.Message.Text,
			MessageID:      int64(u.Message.MessageID),
		}, true
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		if _, err := t.bot.Request(tgbotapi.NewCallback(u.CallbackQuery.ID, "")); err != nil {
			slog.Debug("Telegram answerCallbackQuery failed", "error", err)
		}
		return models.Event{
			ConversationID: strconv.FormatInt(u.CallbackQuery.Message.Chat.ID, 10),
			Kind:           models.EventButton,
			Payload:        u.CallbackQuery.Data,
			MessageID:      int64(u.CallbackQuery.Message.MessageID),
		}, true
	default:
		slog.Debug("Telegram update dropped", "update_id", u.UpdateID)
		return models.Event{}, false
	}
}

// inlineKeyboard converts a keyboard to the Bot API inline markup.
func inlineKeyboard(kb *models.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func chatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id %q: %w", conversationID, err)
	}
	return id, nil
}

// SendText sends a text message, optionally with an inline keyboard.
func (t *Telegram) SendText(ctx context.Context, conversationID, text string, keyboard *models.Keyboard) error {
	id, err := chatID(conversationID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	if keyboard != nil {
		msg.ReplyMarkup = inlineKeyboard(keyboard)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send message: %w", err)
	}
	return nil
}

// SendPhoto sends a photo by URL with a caption, optionally with an inline keyboard.
func (t *Telegram) SendPhoto(ctx context.Context, conversationID, photoURL, caption string, keyboard *models.Keyboard) error {
	id, err := chatID(conversationID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(id, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	if keyboard != nil {
		photo.ReplyMarkup = inlineKeyboard(keyboard)
	}
	if _, err := t.bot.Send(photo); err != nil {
		return fmt.Errorf("telegram send photo: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent or received message.
func (t *Telegram) DeleteMessage(ctx context.Context, conversationID string, messageID int64) error {
	id, err := chatID(conversationID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(id, int(messageID))); err != nil {
		return fmt.Errorf("telegram delete message: %w", err)
	}
	return nil
}

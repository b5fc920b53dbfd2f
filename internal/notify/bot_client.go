package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const DefaultBotAPIURL = "https://api.telegram.org"

const (
	phoneRequestText = "Please share your phone number to secure your account."
	phoneButtonText  = "Share phone number"
	phoneThanksText  = "Thank you! Your phone number has been saved."
)

// ErrBotAPI is returned when the bot API answers with ok=false.
var ErrBotAPI = errors.New("bot api error")

// BotClient sends messages through the chat platform's bot API. The bot token
// is part of every request path and is never included in returned errors.
type BotClient struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

// NewBotClient builds a client without contacting the API. baseURL may be
// empty for the public API and httpClient may be nil for a client with a 10s
// timeout.
func NewBotClient(baseURL, token string, httpClient *http.Client) (*BotClient, error) {
	if token == "" {
		return nil, fmt.Errorf("bot client: token is required")
	}
	if baseURL == "" {
		baseURL = DefaultBotAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	api := &tgbotapi.BotAPI{Token: token, Client: httpClient, Buffer: 100}
	api.SetAPIEndpoint(strings.TrimRight(baseURL, "/") + "/bot%s/%s")
	return &BotClient{api: api, http: httpClient}, nil
}

// SendPhoneRequest sends a message with a one-time keyboard whose only button
// shares the user's contact.
func (c *BotClient) SendPhoneRequest(ctx context.Context, chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, phoneRequestText)
	msg.ReplyMarkup = tgbotapi.NewOneTimeReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(phoneButtonText)),
	)
	return c.send(ctx, msg)
}

// SendPhoneSaved confirms a stored contact and removes the keyboard.
func (c *BotClient) SendPhoneSaved(ctx context.Context, chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, phoneThanksText)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	return c.send(ctx, msg)
}

func (c *BotClient) send(ctx context.Context, msg tgbotapi.Chattable) error {
	// BotAPI builds requests without a context, so each call gets a copy
	// whose client binds ctx.
	api := *c.api
	api.Client = contextClient{ctx: ctx, next: c.http}

	if _, err := api.Request(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: sendMessage: %d: %s", ErrBotAPI, apiErr.Code, apiErr.Message)
		}
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("bot api sendMessage: %w", err)
	}
	return nil
}

type contextClient struct {
	ctx  context.Context
	next *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}

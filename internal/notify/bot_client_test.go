package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"
)

const (
	botAPI   = "http://bot.api.local"
	botToken = "123456:secret-bot-token"
)

func newMockedBotClient(t *testing.T) *BotClient {
	t.Helper()
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	t.Cleanup(func() {
		gock.RestoreClient(httpClient)
		gock.Off()
	})
	c, err := NewBotClient(botAPI, botToken, httpClient)
	require.NoError(t, err)
	return c
}

// formBody decodes the form-encoded bot API request into the captured map and
// restores the body for the remaining matchers.
func formBody(captured url.Values) gock.MatchFunc {
	return func(req *http.Request, _ *gock.Request) (bool, error) {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return false, err
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return false, err
		}
		for k, v := range values {
			captured[k] = v
		}
		return true, nil
	}
}

func replyMarkup(t *testing.T, form url.Values) map[string]any {
	t.Helper()
	var markup map[string]any
	require.NoError(t, json.Unmarshal([]byte(form.Get("reply_markup")), &markup))
	return markup
}

func TestBotClientSendPhoneRequest(t *testing.T) {
	c := newMockedBotClient(t)
	form := url.Values{}

	gock.New(botAPI).
		Post("/bot" + botToken + "/sendMessage").
		AddMatcher(formBody(form)).
		Reply(http.StatusOK).
		JSON(map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 4242, "type": "private"}}})

	require.NoError(t, c.SendPhoneRequest(context.Background(), 4242))
	require.True(t, gock.IsDone())

	assert.Equal(t, "4242", form.Get("chat_id"))
	assert.Equal(t, phoneRequestText, form.Get("text"))
	markup := replyMarkup(t, form)
	assert.Equal(t, true, markup["one_time_keyboard"])
	assert.Equal(t, true, markup["resize_keyboard"])
	rows := markup["keyboard"].([]any)
	require.Len(t, rows, 1)
	buttons := rows[0].([]any)
	require.Len(t, buttons, 1)
	button := buttons[0].(map[string]any)
	assert.Equal(t, phoneButtonText, button["text"])
	assert.Equal(t, true, button["request_contact"])
}

func TestBotClientSendPhoneSaved(t *testing.T) {
	c := newMockedBotClient(t)
	form := url.Values{}

	gock.New(botAPI).
		Post("/bot" + botToken + "/sendMessage").
		AddMatcher(formBody(form)).
		Reply(http.StatusOK).
		JSON(map[string]any{"ok": true, "result": map[string]any{"message_id": 2, "date": 0, "chat": map[string]any{"id": 7, "type": "private"}}})

	require.NoError(t, c.SendPhoneSaved(context.Background(), 7))
	require.True(t, gock.IsDone())
	assert.Equal(t, "7", form.Get("chat_id"))
	assert.Equal(t, phoneThanksText, form.Get("text"))
	assert.Equal(t, true, replyMarkup(t, form)["remove_keyboard"])
}

func TestBotClientAPIError(t *testing.T) {
	c := newMockedBotClient(t)

	gock.New(botAPI).
		Post("/bot" + botToken + "/sendMessage").
		Reply(http.StatusForbidden).
		JSON(map[string]any{"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user"})

	err := c.SendPhoneRequest(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBotAPI)
	assert.Contains(t, err.Error(), "blocked")
	assert.NotContains(t, err.Error(), botToken)
}

func TestBotClientTransportErrorHidesToken(t *testing.T) {
	c := newMockedBotClient(t)

	gock.New(botAPI).
		Post("/bot" + botToken + "/sendMessage").
		ReplyError(errors.New("connection reset"))

	err := c.SendPhoneRequest(context.Background(), 1)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), botToken)
}

func TestBotClientRequiresToken(t *testing.T) {
	_, err := NewBotClient("", "", nil)
	assert.Error(t, err)

	c, err := NewBotClient("", botToken, nil)
	require.NoError(t, err)
	assert.Equal(t, botToken, c.api.Token)
}

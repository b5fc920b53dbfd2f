package notify

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
)

// SecretHeader carries the webhook secret registered with the bot platform.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// PhoneStore persists a shared phone number against a chat identity.
type PhoneStore interface {
	SetPhoneByChatID(ctx context.Context, chatID int64, phone string) error
}

// PhoneConfirmer acknowledges a stored phone number to the user.
type PhoneConfirmer interface {
	SendPhoneSaved(ctx context.Context, chatID int64) error
}

// WebhookHandler receives bot updates and stores contacts users share in
// response to a phone request.
type WebhookHandler struct {
	store   PhoneStore
	confirm PhoneConfirmer
	secret  string
	logger  *zap.SugaredLogger
}

// NewWebhookHandler builds the handler. An empty secret disables the header
// check; confirm may be nil.
func NewWebhookHandler(store PhoneStore, confirm PhoneConfirmer, secret string, logger *zap.SugaredLogger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebhookHandler{store: store, confirm: confirm, secret: secret, logger: logger}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var u tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
		h.logger.Debugw("invalid bot update", "err", err)
		writeStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}
	m := u.Message
	if m == nil || m.Contact == nil || m.From == nil {
		writeStatus(w, http.StatusOK, "ignored")
		return
	}
	// only accept the sender's own contact, not a forwarded card
	phone := strings.TrimSpace(m.Contact.PhoneNumber)
	if m.Contact.UserID != m.From.ID || phone == "" {
		h.logger.Infow("ignoring foreign contact", "chatId", m.From.ID)
		writeStatus(w, http.StatusOK, "ignored")
		return
	}

	err := h.store.SetPhoneByChatID(r.Context(), m.From.ID, phone)
	if errors.Is(err, repo.ErrNotFound) {
		h.logger.Infow("contact for unknown chat identity", "chatId", m.From.ID)
		writeStatus(w, http.StatusOK, "ignored")
		return
	}
	if err != nil {
		h.logger.Errorw("store phone failed", "chatId", m.From.ID, "err", err)
		writeStatus(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Infow("phone stored", "chatId", m.From.ID)

	if h.confirm != nil {
		if err := h.confirm.SendPhoneSaved(r.Context(), m.From.ID); err != nil {
			h.logger.Warnw("phone confirmation failed", "chatId", m.From.ID, "err", err)
		}
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	key := "status"
	if status >= http.StatusBadRequest {
		key = "error"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{key: msg})
}

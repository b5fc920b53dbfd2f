package auth

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OidcClaim is the profile extracted from a verified OIDC id token.
type OidcClaim struct {
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
	PictureURI string
}

// ChatClaim is a login-widget payload from the chat platform. Signed keeps the
// raw fields exactly as received so the check string can be rebuilt from them.
type ChatClaim struct {
	ChatID    int64
	FirstName string
	LastName  string
	Handle    string
	AvatarURI string
	AuthDate  time.Time

	Signed map[string]string
	Hash   string
}

// Widget payloads arrive either with the canonical names or the platform's
// own snake_case names.
var chatFieldAliases = map[string]string{
	"chatId":     "chatId",
	"id":         "chatId",
	"firstName":  "firstName",
	"first_name": "firstName",
	"lastName":   "lastName",
	"last_name":  "lastName",
	"handle":     "handle",
	"username":   "handle",
	"avatarUri":  "avatarUri",
	"photo_url":  "avatarUri",
	"authDate":   "authDate",
	"auth_date":  "authDate",
}

// NewChatClaim builds a ChatClaim from the raw signed fields. The "hash" entry,
// if present, is moved to Hash and excluded from Signed.
func NewChatClaim(fields map[string]string) (ChatClaim, error) {
	c := ChatClaim{Signed: make(map[string]string, len(fields))}
	for k, v := range fields {
		if k == "hash" {
			c.Hash = v
			continue
		}
		c.Signed[k] = v
		switch chatFieldAliases[k] {
		case "chatId":
			id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil || id == 0 {
				return ChatClaim{}, fmt.Errorf("%w: malformed chat id", ErrInvalidProof)
			}
			c.ChatID = id
		case "firstName":
			c.FirstName = v
		case "lastName":
			c.LastName = v
		case "handle":
			c.Handle = v
		case "avatarUri":
			c.AvatarURI = v
		case "authDate":
			sec, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return ChatClaim{}, fmt.Errorf("%w: malformed auth date", ErrInvalidProof)
			}
			c.AuthDate = time.Unix(sec, 0).UTC()
		}
	}
	if c.ChatID == 0 {
		return ChatClaim{}, fmt.Errorf("%w: missing chat id", ErrInvalidProof)
	}
	if c.Hash == "" {
		return ChatClaim{}, fmt.Errorf("%w: missing hash", ErrInvalidProof)
	}
	return c, nil
}

// DataCheckString renders the signed fields as sorted "name=value" lines.
func (c ChatClaim) DataCheckString() string {
	keys := make([]string, 0, len(c.Signed))
	for k := range c.Signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + c.Signed[k]
	}
	return strings.Join(lines, "\n")
}

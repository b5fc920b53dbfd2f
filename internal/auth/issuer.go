package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// SessionTTL is the fixed lifetime of an issued session token.
const SessionTTL = 7 * 24 * time.Hour

// SessionClaims is the complete session token payload. It is a projection,
// never the identity itself, so secrets cannot ride along.
type SessionClaims struct {
	Provider         string `json:"provider"`
	DisplayNameFirst string `json:"displayNameFirst"`
	DisplayNameLast  string `json:"displayNameLast"`
	PrimaryEmail     string `json:"primaryEmail,omitempty"`
	ChatID           string `json:"chatId,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 session tokens with the process-wide secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
	newID  func() string
}

// NewIssuer keeps a copy of secret; issuer may be empty to omit "iss".
func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
		newID:  utilities.NewKSUID,
	}
}

// Issue projects rec onto SessionClaims and signs it.
func (i *Issuer) Issue(rec *entity.Identity) (string, error) {
	if len(i.secret) == 0 {
		return "", fmt.Errorf("%w: signing secret unavailable", ErrSigning)
	}
	now := i.now()
	claims := SessionClaims{
		Provider:         string(rec.Provider),
		DisplayNameFirst: rec.FirstName,
		DisplayNameLast:  rec.LastName,
		PrimaryEmail:     rec.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   rec.ID,
			ID:        i.newID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	if rec.ChatID != 0 {
		claims.ChatID = strconv.FormatInt(rec.ChatID, 10)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

// Parse validates signature and expiry of a session token issued by Issue.
func (i *Issuer) Parse(token string) (*SessionClaims, error) {
	if len(i.secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret unavailable", ErrSigning)
	}
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return claims, nil
}

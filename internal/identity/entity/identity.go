package entity

import "time"

// Provider tags the origin of an identity.
type Provider string

const (
	ProviderLocal Provider = "LOCAL"
	ProviderOIDC  Provider = "OIDC"
	ProviderChat  Provider = "CHAT"
)

// Valid reports whether p is one of the known provider tags.
func (p Provider) Valid() bool {
	switch p {
	case ProviderLocal, ProviderOIDC, ProviderChat:
		return true
	}
	return false
}

// Identity is the canonical account row in the `identities` table.
// Empty strings and a zero ChatID mean "absent"; the repository stores them as NULL.
type Identity struct {
	ID           string
	OidcSubject  string
	ChatID       int64
	FirstName    string
	LastName     string
	Email        string
	AvatarURI    string
	ChatHandle   string
	PhoneNumber  string
	PasswordHash string
	Provider     Provider
	VerifiedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPhone reports whether a phone number has been captured.
func (i *Identity) HasPhone() bool {
	return i != nil && i.PhoneNumber != ""
}

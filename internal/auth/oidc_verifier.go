package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// OIDCConfig configures the id token verifier.
type OIDCConfig struct {
	Issuer   string
	ClientID string
	JWKSURL  string
	// Timeout bounds a single verification, including any key fetch.
	Timeout time.Duration
}

// OIDCVerifier validates provider-issued id tokens. It is built once at startup
// and shared read-only by concurrent logins; the remote key set caches keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

// NewOIDCVerifier builds a verifier backed by the provider's published keys.
// keyCtx must outlive the verifier: it scopes background key refreshes.
func NewOIDCVerifier(keyCtx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = GoogleJWKSURL
	}
	return NewOIDCVerifierWithKeySet(cfg, oidc.NewRemoteKeySet(keyCtx, cfg.JWKSURL), nil)
}

// NewOIDCVerifierWithKeySet builds a verifier over an explicit key set. now may
// be nil to use the wall clock.
func NewOIDCVerifierWithKeySet(cfg OIDCConfig, keySet oidc.KeySet, now func() time.Time) (*OIDCVerifier, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oidc verifier: client id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	v := oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
		ClientID: cfg.ClientID,
		Now:      now,
	})
	return &OIDCVerifier{verifier: v, timeout: timeout}, nil
}

// Verify checks signature, issuer, expiry and audience, then extracts the
// profile. Every failure, including a timeout, is ErrInvalidProof.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (OidcClaim, error) {
	if rawIDToken == "" {
		return OidcClaim{}, fmt.Errorf("%w: empty id token", ErrInvalidProof)
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	tok, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return OidcClaim{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	var claims struct {
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
	}
	if err := tok.Claims(&claims); err != nil {
		return OidcClaim{}, fmt.Errorf("%w: decode claims: %v", ErrInvalidProof, err)
	}
	if tok.Subject == "" || claims.Email == "" {
		return OidcClaim{}, fmt.Errorf("%w: id token missing subject or email", ErrInvalidProof)
	}
	return OidcClaim{
		Subject:    tok.Subject,
		Email:      claims.Email,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		PictureURI: claims.Picture,
	}, nil
}

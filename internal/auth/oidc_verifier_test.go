package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClientID = "client-123.apps.example.com"

var oidcNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type oidcFixture struct {
	key      *rsa.PrivateKey
	verifier *OIDCVerifier
}

func newOIDCFixture(t *testing.T) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	v, err := NewOIDCVerifierWithKeySet(OIDCConfig{
		Issuer:   GoogleIssuer,
		ClientID: testClientID,
		Timeout:  time.Second,
	}, keySet, func() time.Time { return oidcNow })
	require.NoError(t, err)
	return &oidcFixture{key: key, verifier: v}
}

func idTokenClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":         GoogleIssuer,
		"aud":         testClientID,
		"sub":         "1100220033",
		"email":       "ada@example.com",
		"given_name":  "Ada",
		"family_name": "Lovelace",
		"picture":     "https://lh3.example.com/a.png",
		"iat":         oidcNow.Add(-time.Minute).Unix(),
		"exp":         oidcNow.Add(time.Hour).Unix(),
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestOIDCVerifierAcceptsValidToken(t *testing.T) {
	f := newOIDCFixture(t)

	claim, err := f.verifier.Verify(context.Background(), signIDToken(t, f.key, idTokenClaims()))
	require.NoError(t, err)
	assert.Equal(t, OidcClaim{
		Subject:    "1100220033",
		Email:      "ada@example.com",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		PictureURI: "https://lh3.example.com/a.png",
	}, claim)
}

func TestOIDCVerifierRejections(t *testing.T) {
	f := newOIDCFixture(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token func() string
	}{
		{"wrong audience", func() string {
			c := idTokenClaims()
			c["aud"] = "someone-else"
			return signIDToken(t, f.key, c)
		}},
		{"expired", func() string {
			c := idTokenClaims()
			c["exp"] = oidcNow.Add(-time.Minute).Unix()
			return signIDToken(t, f.key, c)
		}},
		{"wrong issuer", func() string {
			c := idTokenClaims()
			c["iss"] = "https://evil.example.com"
			return signIDToken(t, f.key, c)
		}},
		{"unknown signing key", func() string {
			return signIDToken(t, otherKey, idTokenClaims())
		}},
		{"missing email", func() string {
			c := idTokenClaims()
			delete(c, "email")
			return signIDToken(t, f.key, c)
		}},
		{"missing subject", func() string {
			c := idTokenClaims()
			delete(c, "sub")
			return signIDToken(t, f.key, c)
		}},
		{"garbage", func() string { return "not.a.jwt" }},
		{"empty", func() string { return "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.verifier.Verify(context.Background(), tc.token())
			assert.ErrorIs(t, err, ErrInvalidProof)
		})
	}
}

func TestOIDCVerifierRequiresClientID(t *testing.T) {
	_, err := NewOIDCVerifierWithKeySet(OIDCConfig{Issuer: GoogleIssuer}, &oidc.StaticKeySet{}, nil)
	assert.Error(t, err)
}

func TestOIDCVerifierDefaultsTimeout(t *testing.T) {
	v, err := NewOIDCVerifierWithKeySet(OIDCConfig{Issuer: GoogleIssuer, ClientID: testClientID}, &oidc.StaticKeySet{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v.timeout)
}

func TestOIDCVerifierKeyFetchTimeoutIsInvalidProof(t *testing.T) {
	release := make(chan struct{})
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	t.Cleanup(jwks.Close)
	t.Cleanup(func() { close(release) })

	keyCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v, err := NewOIDCVerifier(keyCtx, OIDCConfig{
		Issuer:   GoogleIssuer,
		ClientID: testClientID,
		JWKSURL:  jwks.URL,
		Timeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	claims := idTokenClaims()
	now := time.Now()
	claims["iat"] = now.Add(-time.Minute).Unix()
	claims["exp"] = now.Add(time.Hour).Unix()

	start := time.Now()
	_, err = v.Verify(context.Background(), signIDToken(t, key, claims))
	assert.ErrorIs(t, err, ErrInvalidProof)
	assert.Less(t, time.Since(start), 2*time.Second)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
)

// OIDCTokenVerifier validates a raw id token.
type OIDCTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (OidcClaim, error)
}

// ChatProofChecker validates a chat login-widget payload.
type ChatProofChecker interface {
	Check(c ChatClaim) error
}

// PhoneRequester asks a chat user to share their phone number. Implementations
// must return immediately; delivery happens elsewhere.
type PhoneRequester interface {
	RequestPhoneNumber(chatID int64)
}

type loginState int

const (
	stateReceived loginState = iota
	stateVerified
	stateReconciled
	stateIssued
	stateRejected
)

func (s loginState) String() string {
	switch s {
	case stateReceived:
		return "RECEIVED"
	case stateVerified:
		return "VERIFIED"
	case stateReconciled:
		return "RECONCILED"
	case stateIssued:
		return "ISSUED"
	case stateRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// attempt tracks one login through its states. It is never shared.
type attempt struct {
	provider entity.Provider
	state    loginState
	logger   *zap.SugaredLogger
}

func (a *attempt) advance(next loginState) {
	a.state = next
	a.logger.Debugw("login transition", "provider", a.provider, "state", next.String())
}

func (a *attempt) reject(err error) error {
	from := a.state
	a.state = stateRejected
	switch {
	case errors.Is(err, ErrInvalidProof):
		a.logger.Infow("login rejected", "provider", a.provider, "from", from.String(), "reason", "invalid_proof", "err", err)
	case errors.Is(err, ErrAlreadyRegistered):
		a.logger.Infow("login rejected", "provider", a.provider, "from", from.String(), "reason", "already_registered")
	case errors.Is(err, ErrSigning):
		a.logger.Errorw("login rejected", "provider", a.provider, "from", from.String(), "reason", "signing", "err", err)
	default:
		a.logger.Errorw("login rejected", "provider", a.provider, "from", from.String(), "reason", "storage", "err", err)
	}
	return err
}

// AccountStore is the Repository plus the password write used by local login.
type AccountStore interface {
	Repository
	UpdatePassword(ctx context.Context, id, hash string) error
}

// AuthService composes verification, reconciliation and issuance. It holds no
// per-request state and is safe for concurrent use.
type AuthService struct {
	repo     AccountStore
	oidc     OIDCTokenVerifier
	chat     ChatProofChecker
	rec      *Reconciler
	issuer   *Issuer
	notifier PhoneRequester
	logger   *zap.SugaredLogger
	// Hasher is used by the local account flows.
	Hasher PasswordHasher
}

func NewAuthService(r AccountStore, oidc OIDCTokenVerifier, chat ChatProofChecker, issuer *Issuer, notifier PhoneRequester, logger *zap.SugaredLogger) *AuthService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AuthService{
		repo:     r,
		oidc:     oidc,
		chat:     chat,
		rec:      NewReconciler(r),
		issuer:   issuer,
		notifier: notifier,
		logger:   logger,
		Hasher:   BcryptHasher{Cost: 12},
	}
}

func (s *AuthService) begin(p entity.Provider) *attempt {
	return &attempt{provider: p, state: stateReceived, logger: s.logger}
}

// LoginWithOidc verifies a provider id token and returns a session token.
func (s *AuthService) LoginWithOidc(ctx context.Context, rawIDToken string) (string, error) {
	a := s.begin(entity.ProviderOIDC)
	claim, err := s.oidc.Verify(ctx, rawIDToken)
	if err != nil {
		return "", a.reject(asInvalidProof(err))
	}
	a.advance(stateVerified)

	rec, err := s.rec.ReconcileOidc(ctx, claim)
	if err != nil {
		return "", a.reject(err)
	}
	return s.issue(a, rec)
}

// LoginWithChat verifies a chat login-widget payload and returns a session token.
func (s *AuthService) LoginWithChat(ctx context.Context, claim ChatClaim) (string, error) {
	a := s.begin(entity.ProviderChat)
	if err := s.chat.Check(claim); err != nil {
		return "", a.reject(asInvalidProof(err))
	}
	a.advance(stateVerified)

	rec, err := s.rec.ReconcileChat(ctx, claim)
	if err != nil {
		return "", a.reject(err)
	}
	return s.issue(a, rec)
}

// Register creates a local account with a bcrypt password hash.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", ErrInvalidRequest
	}
	a := s.begin(entity.ProviderLocal)
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return "", a.reject(fmt.Errorf("%w: %v", ErrStorage, err))
	}
	a.advance(stateVerified)

	rec, err := s.repo.Create(ctx, &entity.Identity{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Provider:     entity.ProviderLocal,
	})
	if errors.Is(err, repo.ErrAlreadyExists) {
		return "", a.reject(ErrAlreadyRegistered)
	}
	if err != nil {
		return "", a.reject(fmt.Errorf("%w: %w", ErrStorage, err))
	}
	return s.issue(a, rec)
}

// LoginLocal authenticates by email and password.
func (s *AuthService) LoginLocal(ctx context.Context, email, password string) (string, error) {
	a := s.begin(entity.ProviderLocal)
	rec, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return "", a.reject(fmt.Errorf("%w: %w", ErrInvalidProof, ErrInvalidCredentials))
	}
	if err != nil {
		return "", a.reject(fmt.Errorf("%w: %w", ErrStorage, err))
	}
	if rec.PasswordHash == "" || !s.Hasher.Verify(rec.PasswordHash, password) {
		return "", a.reject(fmt.Errorf("%w: %w", ErrInvalidProof, ErrInvalidCredentials))
	}
	a.advance(stateVerified)

	if s.Hasher.NeedsRehash(rec.PasswordHash) {
		s.rehash(ctx, rec, password)
	}
	return s.issue(a, rec)
}

// rehash upgrades a weak password hash. Failure leaves the old hash in place
// and does not fail the login.
func (s *AuthService) rehash(ctx context.Context, rec *entity.Identity, password string) {
	h, err := s.Hasher.Hash(password)
	if err != nil {
		s.logger.Warnw("password rehash failed", "identityId", rec.ID, "err", err)
		return
	}
	if err := s.repo.UpdatePassword(ctx, rec.ID, h); err != nil {
		s.logger.Warnw("store rehashed password failed", "identityId", rec.ID, "err", err)
		return
	}
	rec.PasswordHash = h
}

// Me decodes a session token issued by this service.
func (s *AuthService) Me(token string) (*SessionClaims, error) {
	return s.issuer.Parse(token)
}

// issue signs a token from the record reconciliation just returned, then
// schedules the phone request when one is still missing.
func (s *AuthService) issue(a *attempt, rec *entity.Identity) (string, error) {
	a.advance(stateReconciled)
	token, err := s.issuer.Issue(rec)
	if err != nil {
		return "", a.reject(err)
	}
	a.advance(stateIssued)

	if s.notifier != nil && rec.ChatID != 0 && !rec.HasPhone() {
		s.notifier.RequestPhoneNumber(rec.ChatID)
	}
	return token, nil
}

func asInvalidProof(err error) error {
	if errors.Is(err, ErrInvalidProof) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidProof, err)
}

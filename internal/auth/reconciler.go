package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
)

// Repository is the persistence port the reconciler needs. Lookups return
// repo.ErrNotFound; writes return repo.ErrAlreadyExists on a unique violation.
type Repository interface {
	FindByOidcSubject(ctx context.Context, subject string) (*entity.Identity, error)
	FindByChatID(ctx context.Context, chatID int64) (*entity.Identity, error)
	FindByEmail(ctx context.Context, email string) (*entity.Identity, error)
	Create(ctx context.Context, in *entity.Identity) (*entity.Identity, error)
	Update(ctx context.Context, in *entity.Identity) (*entity.Identity, error)
}

// Reconciler maps verified provider claims onto stored identities. The storage
// unique constraints are the source of truth for "one identity per key"; a
// losing concurrent write is retried once as read-then-update.
type Reconciler struct {
	repo Repository
	now  func() time.Time
}

func NewReconciler(r Repository) *Reconciler {
	return &Reconciler{repo: r, now: time.Now}
}

// ReconcileOidc finds the identity by subject, falling back to email, then
// refreshes or creates it. The email fallback deliberately merges an existing
// local or chat account into the OIDC login.
func (r *Reconciler) ReconcileOidc(ctx context.Context, c OidcClaim) (*entity.Identity, error) {
	rec, err := r.reconcileOidcOnce(ctx, c)
	if errors.Is(err, repo.ErrAlreadyExists) {
		rec, err = r.reconcileOidcOnce(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return rec, nil
}

func (r *Reconciler) reconcileOidcOnce(ctx context.Context, c OidcClaim) (*entity.Identity, error) {
	existing, err := r.repo.FindByOidcSubject(ctx, c.Subject)
	if errors.Is(err, repo.ErrNotFound) && c.Email != "" {
		existing, err = r.repo.FindByEmail(ctx, c.Email)
	}
	switch {
	case err == nil:
		if existing.OidcSubject != "" && existing.OidcSubject != c.Subject {
			return nil, ErrLinkConflict
		}
		return r.repo.Update(ctx, mergeOidc(existing, c, r.now()))
	case errors.Is(err, repo.ErrNotFound):
		return r.repo.Create(ctx, newOidcIdentity(c, r.now()))
	default:
		return nil, err
	}
}

// ReconcileChat finds the identity by chat id alone and refreshes or creates it.
func (r *Reconciler) ReconcileChat(ctx context.Context, c ChatClaim) (*entity.Identity, error) {
	rec, err := r.reconcileChatOnce(ctx, c)
	if errors.Is(err, repo.ErrAlreadyExists) {
		rec, err = r.reconcileChatOnce(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return rec, nil
}

func (r *Reconciler) reconcileChatOnce(ctx context.Context, c ChatClaim) (*entity.Identity, error) {
	existing, err := r.repo.FindByChatID(ctx, c.ChatID)
	switch {
	case err == nil:
		return r.repo.Update(ctx, mergeChat(existing, c))
	case errors.Is(err, repo.ErrNotFound):
		return r.repo.Create(ctx, newChatIdentity(c))
	default:
		return nil, err
	}
}

func newOidcIdentity(c OidcClaim, now time.Time) *entity.Identity {
	// the provider vouches for the email, so it is verified on creation
	return &entity.Identity{
		OidcSubject: c.Subject,
		Email:       c.Email,
		FirstName:   c.GivenName,
		LastName:    c.FamilyName,
		AvatarURI:   c.PictureURI,
		Provider:    entity.ProviderOIDC,
		VerifiedAt:  &now,
	}
}

func newChatIdentity(c ChatClaim) *entity.Identity {
	return &entity.Identity{
		ChatID:     c.ChatID,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		ChatHandle: c.Handle,
		AvatarURI:  c.AvatarURI,
		Provider:   entity.ProviderChat,
	}
}

// mergeOidc copies the claim onto a stored identity.
// Overwritable when present in the claim: first/last name, avatar, email.
// Preserved: id, chat id, handle, phone, password hash, created at.
func mergeOidc(rec *entity.Identity, c OidcClaim, now time.Time) *entity.Identity {
	out := *rec
	if out.OidcSubject == "" {
		out.OidcSubject = c.Subject
		out.Provider = entity.ProviderOIDC
	}
	setIfPresent(&out.FirstName, c.GivenName)
	setIfPresent(&out.LastName, c.FamilyName)
	setIfPresent(&out.AvatarURI, c.PictureURI)
	if c.Email != "" {
		out.Email = c.Email
		out.VerifiedAt = &now
	}
	return &out
}

// mergeChat copies the claim onto a stored identity.
// Overwritable when present in the claim: first/last name, handle, avatar.
// Preserved: id, oidc subject, email, verified at, phone, password hash.
func mergeChat(rec *entity.Identity, c ChatClaim) *entity.Identity {
	out := *rec
	if out.ChatID == 0 {
		out.ChatID = c.ChatID
		out.Provider = entity.ProviderChat
	}
	setIfPresent(&out.FirstName, c.FirstName)
	setIfPresent(&out.LastName, c.LastName)
	setIfPresent(&out.ChatHandle, c.Handle)
	setIfPresent(&out.AvatarURI, c.AvatarURI)
	return &out
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

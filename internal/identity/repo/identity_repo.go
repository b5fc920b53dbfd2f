package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// ViolateUniqueKeyPGCode is the SQLSTATE postgres reports for a duplicate unique key.
const ViolateUniqueKeyPGCode = "23505"

var (
	ErrNotFound      = errors.New("identity not found")
	ErrAlreadyExists = errors.New("identity already exists")
	// ErrInvalidProvider rejects writes carrying an unknown provider tag.
	ErrInvalidProvider = errors.New("invalid identity provider")
)

// The same DDL runs on postgres and sqlite. UNIQUE columns allow many NULLs on
// both engines, which is what lets absent linkage keys coexist.
const ddl = `
CREATE TABLE IF NOT EXISTS identities (
  id TEXT PRIMARY KEY,
  oidc_subject TEXT UNIQUE,
  chat_id BIGINT UNIQUE,
  first_name TEXT,
  last_name TEXT,
  email TEXT UNIQUE,
  avatar_uri TEXT,
  chat_handle TEXT,
  phone_number TEXT,
  password_hash TEXT,
  provider TEXT NOT NULL,
  verified_at BIGINT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
)`

const selectColumns = `SELECT id, oidc_subject, chat_id, first_name, last_name, email, avatar_uri,
	chat_handle, phone_number, password_hash, provider, verified_at, created_at, updated_at
	FROM identities`

type identityRow struct {
	ID           string         `db:"id"`
	OidcSubject  sql.NullString `db:"oidc_subject"`
	ChatID       sql.NullInt64  `db:"chat_id"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	Email        sql.NullString `db:"email"`
	AvatarURI    sql.NullString `db:"avatar_uri"`
	ChatHandle   sql.NullString `db:"chat_handle"`
	PhoneNumber  sql.NullString `db:"phone_number"`
	PasswordHash sql.NullString `db:"password_hash"`
	Provider     string         `db:"provider"`
	VerifiedAt   sql.NullInt64  `db:"verified_at"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

func (r identityRow) toEntity() *entity.Identity {
	out := &entity.Identity{
		ID:           r.ID,
		OidcSubject:  r.OidcSubject.String,
		ChatID:       r.ChatID.Int64,
		FirstName:    r.FirstName.String,
		LastName:     r.LastName.String,
		Email:        r.Email.String,
		AvatarURI:    r.AvatarURI.String,
		ChatHandle:   r.ChatHandle.String,
		PhoneNumber:  r.PhoneNumber.String,
		PasswordHash: r.PasswordHash.String,
		Provider:     entity.Provider(r.Provider),
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
	if r.VerifiedAt.Valid {
		v := fromMillis(r.VerifiedAt.Int64)
		out.VerifiedAt = &v
	}
	return out
}

// IdentityRepo provides data access for the identities table using sqlx.
type IdentityRepo struct {
	db    *sqlx.DB
	now   func() time.Time
	newID func() string
}

func NewIdentityRepo(db *sqlx.DB) *IdentityRepo {
	return &IdentityRepo{db: db, now: time.Now, newID: utilities.NewSnowflakeID}
}

// EnsureTable creates the identities table if not exists (idempotent).
func (r *IdentityRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// FindByID fetches an identity by primary key.
func (r *IdentityRepo) FindByID(ctx context.Context, id string) (*entity.Identity, error) {
	return r.findOne(ctx, selectColumns+` WHERE id = ?`, id)
}

// FindByOidcSubject fetches the identity linked to an OIDC subject.
func (r *IdentityRepo) FindByOidcSubject(ctx context.Context, subject string) (*entity.Identity, error) {
	return r.findOne(ctx, selectColumns+` WHERE oidc_subject = ?`, subject)
}

// FindByChatID fetches the identity linked to a chat-platform user id.
func (r *IdentityRepo) FindByChatID(ctx context.Context, chatID int64) (*entity.Identity, error) {
	return r.findOne(ctx, selectColumns+` WHERE chat_id = ?`, chatID)
}

// FindByEmail matches on the normalized (trimmed, lower-cased) email.
func (r *IdentityRepo) FindByEmail(ctx context.Context, email string) (*entity.Identity, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, selectColumns+` WHERE email = ?`, email)
}

func (r *IdentityRepo) findOne(ctx context.Context, q string, arg any) (*entity.Identity, error) {
	var row identityRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// Create inserts a new identity and returns the stored row. A duplicate linkage
// key or email yields ErrAlreadyExists.
func (r *IdentityRepo) Create(ctx context.Context, in *entity.Identity) (*entity.Identity, error) {
	if !in.Provider.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, in.Provider)
	}
	id := in.ID
	if id == "" {
		id = r.newID()
	}
	now := toMillis(r.now())
	const q = `INSERT INTO identities (id, oidc_subject, chat_id, first_name, last_name, email, avatar_uri,
		chat_handle, phone_number, password_hash, provider, verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		id,
		nullString(in.OidcSubject),
		nullInt64(in.ChatID),
		nullString(in.FirstName),
		nullString(in.LastName),
		nullString(normalizeEmail(in.Email)),
		nullString(in.AvatarURI),
		nullString(in.ChatHandle),
		nullString(in.PhoneNumber),
		nullString(in.PasswordHash),
		string(in.Provider),
		nullTime(in.VerifiedAt),
		now,
		now,
	)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return r.FindByID(ctx, id)
}

// Update writes the profile and linkage columns of the row identified by
// in.ID and returns the row as stored. Absent values keep the stored ones.
// phone_number and password_hash are owned by SetPhoneByChatID and
// UpdatePassword and are never written here.
func (r *IdentityRepo) Update(ctx context.Context, in *entity.Identity) (*entity.Identity, error) {
	if !in.Provider.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, in.Provider)
	}
	const q = `UPDATE identities SET
		oidc_subject = COALESCE(?, oidc_subject),
		chat_id = COALESCE(?, chat_id),
		first_name = COALESCE(?, first_name),
		last_name = COALESCE(?, last_name),
		email = COALESCE(?, email),
		avatar_uri = COALESCE(?, avatar_uri),
		chat_handle = COALESCE(?, chat_handle),
		provider = ?,
		verified_at = COALESCE(?, verified_at),
		updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		nullString(in.OidcSubject),
		nullInt64(in.ChatID),
		nullString(in.FirstName),
		nullString(in.LastName),
		nullString(normalizeEmail(in.Email)),
		nullString(in.AvatarURI),
		nullString(in.ChatHandle),
		string(in.Provider),
		nullTime(in.VerifiedAt),
		toMillis(r.now()),
		in.ID,
	)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, in.ID)
}

// UpdatePassword replaces the password hash of the row identified by id.
func (r *IdentityRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	const q = `UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), nullString(hash), toMillis(r.now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPhoneByChatID stores a phone number shared through the chat bot.
func (r *IdentityRepo) SetPhoneByChatID(ctx context.Context, chatID int64, phone string) error {
	const q = `UPDATE identities SET phone_number = ?, updated_at = ? WHERE chat_id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), nullString(strings.TrimSpace(phone)), toMillis(r.now()), chatID)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapWriteErr converts engine-specific unique violations into ErrAlreadyExists.
func mapWriteErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == ViolateUniqueKeyPGCode {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pqErr.Constraint)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

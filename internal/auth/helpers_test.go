package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
)

const testBotToken = "123456:test-bot-token"

// memRepo is an in-memory Repository enforcing the same unique keys as the
// SQL table: oidc subject, chat id and email.
type memRepo struct {
	mu    sync.Mutex
	rows  map[string]*entity.Identity
	seq   int
	calls atomic.Int32

	// failWith, when set, is returned by every call.
	failWith error
	// afterFind runs after a lookup, outside the lock.
	afterFind func()
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]*entity.Identity{}}
}

func (m *memRepo) find(match func(*entity.Identity) bool) (*entity.Identity, error) {
	m.calls.Add(1)
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.mu.Lock()
	var found *entity.Identity
	for _, row := range m.rows {
		if match(row) {
			cp := *row
			found = &cp
			break
		}
	}
	m.mu.Unlock()
	if m.afterFind != nil {
		m.afterFind()
	}
	if found == nil {
		return nil, repo.ErrNotFound
	}
	return found, nil
}

func (m *memRepo) FindByOidcSubject(_ context.Context, subject string) (*entity.Identity, error) {
	return m.find(func(i *entity.Identity) bool { return i.OidcSubject == subject })
}

func (m *memRepo) FindByChatID(_ context.Context, chatID int64) (*entity.Identity, error) {
	return m.find(func(i *entity.Identity) bool { return i.ChatID == chatID })
}

func (m *memRepo) FindByEmail(_ context.Context, email string) (*entity.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return m.find(func(i *entity.Identity) bool { return email != "" && i.Email == email })
}

// conflicts must be called with mu held.
func (m *memRepo) conflicts(in *entity.Identity) bool {
	for id, row := range m.rows {
		if id == in.ID {
			continue
		}
		if in.OidcSubject != "" && row.OidcSubject == in.OidcSubject {
			return true
		}
		if in.ChatID != 0 && row.ChatID == in.ChatID {
			return true
		}
		if in.Email != "" && row.Email == in.Email {
			return true
		}
	}
	return false
}

func (m *memRepo) Create(_ context.Context, in *entity.Identity) (*entity.Identity, error) {
	m.calls.Add(1)
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *in
	row.Email = strings.ToLower(strings.TrimSpace(row.Email))
	if m.conflicts(&row) {
		return nil, repo.ErrAlreadyExists
	}
	m.seq++
	row.ID = "id-" + strconv.Itoa(m.seq)
	m.rows[row.ID] = &row
	cp := row
	return &cp, nil
}

// Update mirrors the SQL repository: absent values keep the stored ones and
// phone and password hash are never written.
func (m *memRepo) Update(_ context.Context, in *entity.Identity) (*entity.Identity, error) {
	m.calls.Add(1)
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[in.ID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	row := *stored
	setIfPresent(&row.OidcSubject, in.OidcSubject)
	if in.ChatID != 0 {
		row.ChatID = in.ChatID
	}
	setIfPresent(&row.FirstName, in.FirstName)
	setIfPresent(&row.LastName, in.LastName)
	setIfPresent(&row.Email, strings.ToLower(strings.TrimSpace(in.Email)))
	setIfPresent(&row.AvatarURI, in.AvatarURI)
	setIfPresent(&row.ChatHandle, in.ChatHandle)
	row.Provider = in.Provider
	if in.VerifiedAt != nil {
		row.VerifiedAt = in.VerifiedAt
	}
	if m.conflicts(&row) {
		return nil, repo.ErrAlreadyExists
	}
	m.rows[row.ID] = &row
	cp := row
	return &cp, nil
}

func (m *memRepo) UpdatePassword(_ context.Context, id, hash string) error {
	m.calls.Add(1)
	if m.failWith != nil {
		return m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	row.PasswordHash = hash
	return nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memRepo) put(in entity.Identity) *entity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	in.ID = "id-" + strconv.Itoa(m.seq)
	m.rows[in.ID] = &in
	cp := in
	return &cp
}

// twoPartyBarrier holds the first two callers until both have arrived.
func twoPartyBarrier() func() {
	var wg sync.WaitGroup
	wg.Add(2)
	var n atomic.Int32
	return func() {
		if n.Add(1) <= 2 {
			wg.Done()
			wg.Wait()
		}
	}
}

// signedChatClaim builds a claim with a valid hash for testBotToken.
func signedChatClaim(t *testing.T, fields map[string]string) ChatClaim {
	t.Helper()
	c, err := NewChatClaim(withHash(fields, "placeholder"))
	require.NoError(t, err)
	c.Hash = chatHash(testBotToken, c.DataCheckString())
	return c
}

func withHash(fields map[string]string, hash string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["hash"] = hash
	return out
}

func chatHash(botToken, checkString string) string {
	key := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(checkString))
	return hex.EncodeToString(mac.Sum(nil))
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *recordingNotifier) RequestPhoneNumber(chatID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, chatID)
}

func (n *recordingNotifier) requested() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.ids...)
}

type stubOIDC struct {
	claim OidcClaim
	err   error
}

func (s stubOIDC) Verify(context.Context, string) (OidcClaim, error) {
	return s.claim, s.err
}

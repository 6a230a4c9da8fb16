package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"corkboard/api/internal/archive"
	"corkboard/api/internal/authpw"
	"corkboard/api/internal/config"
	"corkboard/api/internal/store"
)

type refreshEntry struct {
	user      store.User
	expiresAt time.Time
}

type resetEntry struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// fakeStore is an in-memory stand-in for the postgres store. It backs the
// data store, the session store, and the auth user store in one struct so a
// test environment needs a single seedable fixture.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	scraps   map[string]store.Scrap
	sessions map[string]refreshEntry
	revoked  map[string]time.Time
	resets   map[string]resetEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]store.User{},
		scraps:   map[string]store.Scrap{},
		sessions: map[string]refreshEntry{},
		revoked:  map[string]time.Time{},
		resets:   map[string]resetEntry{},
	}
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(_ context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpsertUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[u.ID]; ok {
		existing.DisplayName = u.DisplayName
		existing.Email = u.Email
		f.users[u.ID] = existing
		return nil
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) SetUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	f.users[userID] = u
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			if u.VerificationExpiresAt != nil && u.VerificationExpiresAt.Before(time.Now()) {
				return sql.ErrNoRows
			}
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = resetEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.resets[token]
	if !ok || entry.used || entry.expiresAt.Before(time.Now()) {
		return "", sql.ErrNoRows
	}
	return entry.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.resets[token]
	if !ok {
		return sql.ErrNoRows
	}
	entry.used = true
	f.resets[token] = entry
	return nil
}

func (f *fakeStore) FindScrapByID(_ context.Context, id string) (store.Scrap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scraps[id]
	if !ok {
		return store.Scrap{}, sql.ErrNoRows
	}
	return sc, nil
}

func (f *fakeStore) InsertScrap(_ context.Context, sc store.Scrap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.scraps[sc.ID]; exists {
		return fmt.Errorf("duplicate scrap %s", sc.ID)
	}
	f.scraps[sc.ID] = sc
	return nil
}

func (f *fakeStore) UpdateScrapFields(_ context.Context, id string, m store.ScrapMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scraps[id]
	if !ok {
		return sql.ErrNoRows
	}
	sc.Code = m.Code
	sc.Content = m.Content
	sc.X = m.X
	sc.Y = m.Y
	sc.Visible = m.Visible
	sc.NestedWithin = m.NestedWithin
	sc.UpdatedAt = m.UpdatedAt
	f.scraps[id] = sc
	return nil
}

func (f *fakeStore) DeleteScrap(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scraps[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.scraps, id)
	return nil
}

func (f *fakeStore) DeleteAllScraps(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scraps = map[string]store.Scrap{}
	return nil
}

func (f *fakeStore) ListScraps(_ context.Context, filter store.ScrapFilter) ([]store.Scrap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.scraps))
	for id := range f.scraps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []store.Scrap{}
	for _, id := range ids {
		sc := f.scraps[id]
		if filter.UserID != "" && sc.UserID != filter.UserID {
			continue
		}
		if filter.UpdatedAfter != nil && !sc.UpdatedAt.After(*filter.UpdatedAfter) {
			continue
		}
		if filter.TopLevelOnly && sc.NestedWithin != nil {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

func (f *fakeStore) CountNestedScraps(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, sc := range f.scraps {
		if sc.NestedWithin != nil && *sc.NestedWithin == id {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = refreshEntry{user: user, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.sessions[tokenHash]
	if !ok || entry.expiresAt.Before(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	return entry.user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = expiresAt
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expiresAt, ok := f.revoked[jti]
	return ok && expiresAt.After(time.Now()), nil
}

// ---- test environment ----

type testEnv struct {
	server *httptest.Server
	svc    *Service
	fs     *fakeStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs := newFakeStore()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		CORSOrigin: "*",
		PublicURL:  "http://localhost:8686",
	}

	svc := &Service{
		cfg:      cfg,
		store:    fs,
		sessions: fs,
		archive:  archive.New(t.TempDir()),
	}
	svc.UseAuthPassword(authpw.NewService(fs))

	server := httptest.NewServer(NewHTTPServer(svc, cfg.CORSOrigin).Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, svc: svc, fs: fs}
}

func (e *testEnv) seedUser(t *testing.T, id, name, role string) store.User {
	t.Helper()
	u := store.User{
		ID:              id,
		DisplayName:     name,
		Email:           id + "@example.com",
		Role:            role,
		IsEmailVerified: true,
		CreatedAt:       time.Now().UTC(),
	}
	e.fs.users[id] = u
	return u
}

func (e *testEnv) sessionFor(t *testing.T, userID string) Session {
	t.Helper()
	session, err := e.svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session for %s: %v", userID, err)
	}
	return session
}

func (e *testEnv) seedScrap(t *testing.T, sc store.Scrap) store.Scrap {
	t.Helper()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC().Add(-time.Hour)
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = sc.CreatedAt
	}
	e.fs.scraps[sc.ID] = sc
	return sc
}

// do sends a request with an optional bearer token and decodes the JSON
// response body into a generic map. Raw bodies go through doRaw instead.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	status, raw := e.doRaw(t, method, path, token, body)
	if len(raw) == 0 {
		return status, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode %s %s response: %v\nbody: %s", method, path, err, raw)
	}
	return status, decoded
}

func (e *testEnv) doRaw(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, raw
}

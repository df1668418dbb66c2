package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/flockchat/users-api/internal/handlers"
	"github.com/flockchat/users-api/internal/presence"
	"github.com/flockchat/users-api/internal/services"
	"github.com/flockchat/users-api/internal/store"
	"github.com/flockchat/users-api/internal/token"
	"github.com/flockchat/users-api/types"
)

// memoryRepo is an in-memory stand-in for the Postgres repository. It
// mirrors the SQL contract: conflict on duplicate nicknames, not-found
// on missing ids, and single-step touch and demote transitions.
type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]types.User
	touched []int64

	failErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, users: make(map[int64]types.User)}
}

func (m *memoryRepo) GetByID(ctx context.Context, id int64) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memoryRepo) GetByNickname(ctx context.Context, nickname string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	for _, user := range m.users {
		if user.Nickname == nickname {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, filter store.ListFilter) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	users := make([]types.User, 0, len(m.users))
	for _, user := range m.users {
		if filter.Online != nil && user.Online != *filter.Online {
			continue
		}
		if filter.UpdatedSince != nil && user.UpdatedAt < *filter.UpdatedSince {
			continue
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].UpdatedAt != users[j].UpdatedAt {
			return users[i].UpdatedAt < users[j].UpdatedAt
		}
		return users[i].Nickname < users[j].Nickname
	})
	return users, nil
}

func (m *memoryRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	for _, existing := range m.users {
		if existing.Nickname == user.Nickname {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryRepo) UpdateProfile(ctx context.Context, id int64, nickname, passwordHash *string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if nickname != nil {
		for _, existing := range m.users {
			if existing.ID != id && existing.Nickname == *nickname {
				return store.ErrConflict
			}
		}
		user.Nickname = *nickname
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	user.UpdatedAt = now
	m.users[id] = user
	return nil
}

func (m *memoryRepo) Touch(ctx context.Context, id int64, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Online = true
	user.LastActiveAt = now
	user.UpdatedAt = now
	m.users[id] = user
	m.touched = append(m.touched, id)
	return nil
}

func (m *memoryRepo) DemoteStale(ctx context.Context, cutoff, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	var demoted int64
	for id, user := range m.users {
		if user.Online && user.LastActiveAt < cutoff {
			user.Online = false
			user.UpdatedAt = now
			m.users[id] = user
			demoted++
		}
	}
	return demoted, nil
}

// seed inserts a user directly, bypassing the service, so tests can fix
// timestamps and presence flags.
func (m *memoryRepo) seed(t *testing.T, user types.User) types.User {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		user.ID = m.nextID
		m.nextID++
	} else if user.ID >= m.nextID {
		m.nextID = user.ID + 1
	}
	m.users[user.ID] = user
	return user
}

func (m *memoryRepo) get(t *testing.T, id int64) types.User {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	require.True(t, ok, "user %d not in repo", id)
	return user
}

func (m *memoryRepo) mutate(t *testing.T, id int64, fn func(*types.User)) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	require.True(t, ok, "user %d not in repo", id)
	fn(&user)
	m.users[id] = user
}

func (m *memoryRepo) touchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.touched)
}

func (m *memoryRepo) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// testEnv mounts the user routes on a real router exactly the way the
// server does, backed by the in-memory repo.
type testEnv struct {
	repo   *memoryRepo
	router *chi.Mux
	engine *presence.Engine
	tokens *token.JWT
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newMemoryRepo()
	userService := services.NewUserService(repo)
	engine := presence.NewEngine(repo, time.Minute)
	tokens := token.NewJWT("test-secret", time.Hour)
	gate := handlers.NewGate(tokens, engine, userService)

	router := chi.NewRouter()
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, gate)
	})

	return &testEnv{repo: repo, router: router, engine: engine, tokens: tokens}
}

// seedUser registers a user with sane fixed timestamps and a real hash
// for the given password.
func (e *testEnv) seedUser(t *testing.T, nickname, password string, mutators ...func(*types.User)) types.User {
	t.Helper()
	user := types.User{
		Nickname:     nickname,
		CreatedAt:    100,
		UpdatedAt:    100,
		LastActiveAt: 100,
	}
	require.NoError(t, user.SetPassword(password))
	for _, fn := range mutators {
		fn(&user)
	}
	return e.repo.seed(t, user)
}

func (e *testEnv) tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	signed, err := e.tokens.Issue(userID)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, target string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		encoded, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, reader)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withBasic(nickname, password string) func(*http.Request) {
	return func(r *http.Request) {
		r.SetBasicAuth(nickname, password)
	}
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) handlers.UserResponse {
	t.Helper()
	var user handlers.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	return user
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) handlers.UserListResponse {
	t.Helper()
	var list handlers.UserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	return list
}

func listedNicknames(list handlers.UserListResponse) []string {
	nicknames := make([]string, 0, len(list.Users))
	for _, user := range list.Users {
		nicknames = append(nicknames, user.Nickname)
	}
	return nicknames
}

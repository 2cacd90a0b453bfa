package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nwatch/neighborwatch/internal/adapters/identity"
	"github.com/nwatch/neighborwatch/internal/core"
	"github.com/nwatch/neighborwatch/internal/data"
	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/model"
	authmocks "github.com/nwatch/neighborwatch/internal/mocks/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
	"github.com/nwatch/neighborwatch/internal/service"
)

// userTable is an in-memory users table serving both the user service and the
// gate's record lookups.
type userTable struct {
	mu    sync.Mutex
	users map[string]model.User
}

var (
	_ core.UserRepository = (*userTable)(nil)
	_ ports.RecordStore   = (*userTable)(nil)
)

func newUserTable(users ...model.User) *userTable {
	t := &userTable{users: make(map[string]model.User)}
	for _, u := range users {
		t.users[u.UID] = u
	}
	return t
}

func (t *userTable) GetRecord(_ context.Context, uid string) (domainauth.AuthorizationRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[uid]
	if !ok {
		return domainauth.AuthorizationRecord{}, ports.ErrRecordNotFound
	}
	return u.Record(), nil
}

func (t *userTable) Create(_ context.Context, req *model.CreateUserRequest) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[req.UID]; ok {
		return nil, data.ErrUserExists
	}
	u := model.User{UID: req.UID, Email: req.Email, Role: req.Role, Approved: req.Approved, CreatedAt: time.Now()}
	t.users[u.UID] = u
	return &u, nil
}

func (t *userTable) GetByUID(_ context.Context, uid string) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[uid]
	if !ok {
		return nil, data.ErrUserNotFound
	}
	return &u, nil
}

func (t *userTable) List(_ context.Context, opts model.UsersListOptions) ([]*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*model.User, 0, len(t.users))
	for _, u := range t.users {
		if opts.Role != nil && u.Role != *opts.Role {
			continue
		}
		if opts.Approved != nil && u.Approved != *opts.Approved {
			continue
		}
		cp := u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (t *userTable) SetApproval(_ context.Context, uid string, approved bool) (*model.User, error) {
	return t.update(uid, func(u *model.User) { u.Approved = approved })
}

func (t *userTable) SetRole(_ context.Context, uid string, role domainauth.Role) (*model.User, error) {
	return t.update(uid, func(u *model.User) { u.Role = role })
}

func (t *userTable) update(uid string, fn func(*model.User)) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[uid]
	if !ok {
		return nil, data.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now()
	t.users[uid] = u
	return &u, nil
}

type harness struct {
	sessions *authmocks.MemorySessionStore
	hub      *identity.Hub
	table    *userTable
	provider *authmocks.MockAuthProvider
	caches   *authmocks.MemorySessionCaches
	nav      *service.NavigationService
	auth     *service.AuthService
	users    *service.UserService
	handler  http.Handler
}

type harnessOptions struct {
	// Repo overrides the user service's repository; the gate keeps reading the table.
	Repo   core.UserRepository
	Health map[string]HealthCheck
}

func newHarness(t *testing.T, opts harnessOptions, users ...model.User) *harness {
	t.Helper()
	h := &harness{
		sessions: authmocks.NewMemorySessionStore(),
		table:    newUserTable(users...),
		provider: authmocks.NewMockAuthProvider(),
		caches:   authmocks.NewMemorySessionCaches(),
	}
	h.hub = identity.NewHub(identity.HubOptions{Store: h.sessions})
	h.nav = service.NewNavigationService(service.NavigationServiceOptions{
		Feeds:        h.hub,
		Records:      h.table,
		Caches:       h.caches,
		ReadyTimeout: time.Second,
	})
	t.Cleanup(h.nav.Close)

	repo := opts.Repo
	if repo == nil {
		repo = h.table
	}
	h.users = service.NewUserService(service.UserServiceOptions{
		Repo: repo,
		OnChange: func(uid string) {
			h.nav.RefreshSubject(context.Background(), uid)
		},
	})
	h.auth = service.NewAuthService(service.AuthServiceOptions{
		Provider:  h.provider,
		Sessions:  h.sessions,
		Publisher: h.hub,
	})

	handler, err := NewRouter(RouterServices{
		Auth:   h.auth,
		Users:  h.users,
		Nav:    h.nav,
		Health: opts.Health,
	})
	require.NoError(t, err)
	h.handler = handler
	return h
}

// signIn creates a stored session for uid and returns its ID.
func (h *harness) signIn(t *testing.T, uid string) string {
	t.Helper()
	sid := uuid.NewString()
	require.NoError(t, h.hub.SignIn(context.Background(), domainauth.Session{
		ID:        sid,
		UserID:    uid,
		Email:     uid + "@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	return sid
}

type request struct {
	method string
	path   string
	sid    string
	body   string
	// json marks the request as coming from a JSON client.
	json bool
	form bool
}

func (h *harness) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	method := req.method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	r := httptest.NewRequest(method, req.path, body)
	if req.sid != "" {
		r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: req.sid})
	}
	if req.json {
		r.Header.Set("Accept", "application/json")
		if req.body != "" {
			r.Header.Set("Content-Type", "application/json")
		}
	} else {
		r.Header.Set("Accept", "text/html")
	}
	if req.form {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func user(uid string, role domainauth.Role, approved bool) model.User {
	return model.User{UID: uid, Email: uid + "@example.com", Role: role, Approved: approved}
}

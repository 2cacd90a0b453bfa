// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider     = (*MockAuthProvider)(nil)
	_ ports.SessionStore     = (*MemorySessionStore)(nil)
	_ ports.IdentityProvider = (*ManualIdentity)(nil)
	_ ports.RecordStore      = (*MemoryRecordStore)(nil)
	_ ports.SessionCache     = (*MemorySessionCache)(nil)
)

// ErrNotFound is returned by MemorySessionStore for unknown sessions.
var ErrNotFound = ports.ErrSessionNotFound

// MockAuthProvider simulates an IdP for tests with deterministic state/nonce handling.
type MockAuthProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	AuthURL     string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
}

// NewMockAuthProvider creates a MockAuthProvider with sensible defaults.
func NewMockAuthProvider() *MockAuthProvider {
	return &MockAuthProvider{
		AuthURL: "https://mock-idp/auth",
		DefaultUser: domainauth.Identity{
			UserID:    "mock-user-1",
			FirstName: "Mock",
			LastName:  "User",
			Email:     "mock.user@example.com",
		},
	}
}

func (m *MockAuthProvider) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()
	return m.AuthURL, fmt.Sprintf("state-%d", n), fmt.Sprintf("nonce-%d", n), nil
}

func (m *MockAuthProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	user := m.DefaultUser
	user.ExpiresAt = time.Now().Add(time.Hour)
	return user, nil
}

// MemorySessionStore is an in-memory session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return domainauth.Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ManualIdentity is an identity provider driven by the test. Set delivers
// synchronously to every subscriber, and Subscribe delivers the current
// principal before returning.
type ManualIdentity struct {
	mu      sync.Mutex
	current *domainauth.Principal
	subs    map[int]func(*domainauth.Principal)
	nextID  int

	// Live, when set, overrides CurrentPrincipal so tests can model a
	// principal that changed before the notification was delivered.
	Live func() (domainauth.Principal, bool)
}

// NewManualIdentity starts with p signed in, or nobody when p is nil.
func NewManualIdentity(p *domainauth.Principal) *ManualIdentity {
	m := &ManualIdentity{subs: make(map[int]func(*domainauth.Principal))}
	if p != nil {
		cp := *p
		m.current = &cp
	}
	return m
}

func (m *ManualIdentity) CurrentPrincipal() (domainauth.Principal, bool) {
	if m.Live != nil {
		return m.Live()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domainauth.Principal{}, false
	}
	return *m.current, true
}

func (m *ManualIdentity) Subscribe(fn func(*domainauth.Principal)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	p := clone(m.current)
	m.mu.Unlock()

	fn(p)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Set changes the principal and notifies subscribers on the calling goroutine.
func (m *ManualIdentity) Set(p *domainauth.Principal) {
	m.mu.Lock()
	m.current = clone(p)
	fns := make([]func(*domainauth.Principal), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(clone(p))
	}
}

// SetSilently changes the principal without notifying anyone.
func (m *ManualIdentity) SetSilently(p *domainauth.Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = clone(p)
}

// Subscribers reports the number of live subscriptions.
func (m *ManualIdentity) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func clone(p *domainauth.Principal) *domainauth.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// MemoryRecordStore serves authorization records from a map.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]domainauth.AuthorizationRecord
	calls   int

	// Err, when set, is returned for every lookup.
	Err error
	// Gate, when set, blocks each lookup until it is closed or ctx ends.
	Gate chan struct{}
}

// NewMemoryRecordStore seeds the store with recs keyed by UID.
func NewMemoryRecordStore(recs ...domainauth.AuthorizationRecord) *MemoryRecordStore {
	m := &MemoryRecordStore{records: make(map[string]domainauth.AuthorizationRecord)}
	for _, r := range recs {
		m.records[r.UID] = r
	}
	return m
}

func (m *MemoryRecordStore) GetRecord(ctx context.Context, uid string) (domainauth.AuthorizationRecord, error) {
	m.mu.Lock()
	m.calls++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domainauth.AuthorizationRecord{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domainauth.AuthorizationRecord{}, m.Err
	}
	rec, ok := m.records[uid]
	if !ok {
		return domainauth.AuthorizationRecord{}, ports.ErrRecordNotFound
	}
	return rec, nil
}

// Put inserts or replaces a record.
func (m *MemoryRecordStore) Put(rec domainauth.AuthorizationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UID] = rec
}

// Calls reports how many lookups were made.
func (m *MemoryRecordStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MemorySessionCache is a map-backed session cache without expiry.
type MemorySessionCache struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemorySessionCache creates an empty cache.
func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{entries: make(map[string]string)}
}

func (m *MemorySessionCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return "", ports.ErrCacheMiss
	}
	return v, nil
}

func (m *MemorySessionCache) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *MemorySessionCache) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// MemorySessionCaches scopes MemorySessionCache instances by session ID.
type MemorySessionCaches struct {
	mu     sync.Mutex
	scopes map[string]*MemorySessionCache
}

// NewMemorySessionCaches creates an empty set of scoped caches.
func NewMemorySessionCaches() *MemorySessionCaches {
	return &MemorySessionCaches{scopes: make(map[string]*MemorySessionCache)}
}

// Scope returns the cache for sessionID.
func (m *MemorySessionCaches) Scope(sessionID string) ports.SessionCache {
	return m.Cache(sessionID)
}

// Cache returns the concrete cache for sessionID, creating it if needed.
func (m *MemorySessionCaches) Cache(sessionID string) *MemorySessionCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.scopes[sessionID]
	if !ok {
		c = NewMemorySessionCache()
		m.scopes[sessionID] = c
	}
	return c
}

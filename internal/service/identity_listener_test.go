package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/mocks"
	authmocks "github.com/nwatch/neighborwatch/internal/mocks/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

type listenerFixture struct {
	identity *authmocks.ManualIdentity
	records  *authmocks.MemoryRecordStore
	cache    *authmocks.MemorySessionCache
	state    *SessionState
	listener *IdentityListener
}

func newListenerFixture(t *testing.T, p *domainauth.Principal, recs ...domainauth.AuthorizationRecord) *listenerFixture {
	t.Helper()
	f := &listenerFixture{
		identity: authmocks.NewManualIdentity(p),
		records:  authmocks.NewMemoryRecordStore(recs...),
		cache:    authmocks.NewMemorySessionCache(),
		state:    NewSessionState(),
	}
	f.listener = NewIdentityListener(IdentityListenerOptions{
		Identity:     f.identity,
		Records:      f.records,
		Cache:        f.cache,
		State:        f.state,
		FetchTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(f.listener.Stop)
	return f
}

func (f *listenerFixture) cached(t *testing.T) (domainauth.AuthorizationRecord, bool) {
	t.Helper()
	raw, err := f.cache.Get(context.Background(), RecordCacheKey)
	if errors.Is(err, ports.ErrCacheMiss) {
		return domainauth.AuthorizationRecord{}, false
	}
	require.NoError(t, err)
	var rec domainauth.AuthorizationRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec, true
}

func principal(uid string) *domainauth.Principal {
	return &domainauth.Principal{UID: uid, Email: uid + "@example.com"}
}

func TestIdentityListener_SignedOutAtStart(t *testing.T) {
	f := newListenerFixture(t, nil)
	f.listener.Start(context.Background())

	assert.True(t, f.state.Ready())
	_, ok := f.state.Record()
	assert.False(t, ok)
	assert.Equal(t, 0, f.records.Calls())
}

func TestIdentityListener_FetchesAndCaches(t *testing.T) {
	f := newListenerFixture(t, principal("officer"),
		domainauth.AuthorizationRecord{UID: "officer", Role: domainauth.RolePolice, Approved: true})
	f.listener.Start(context.Background())

	rec, ok := f.state.Record()
	require.True(t, ok)
	assert.Equal(t, domainauth.RolePolice, rec.Role)
	assert.True(t, rec.Approved)
	assert.Equal(t, "officer@example.com", rec.Email)

	cached, ok := f.cached(t)
	require.True(t, ok)
	assert.Equal(t, rec, cached)
}

func TestIdentityListener_CacheHitSkipsFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	records := mocks.NewMockRecordStore(ctrl)
	records.EXPECT().GetRecord(gomock.Any(), gomock.Any()).Times(0)

	cache := authmocks.NewMemorySessionCache()
	raw, err := json.Marshal(domainauth.AuthorizationRecord{UID: "chief", Role: domainauth.RoleAdmin, Approved: true})
	require.NoError(t, err)
	require.NoError(t, cache.Set(context.Background(), RecordCacheKey, string(raw)))

	state := NewSessionState()
	identity := authmocks.NewManualIdentity(principal("chief"))
	listener := NewIdentityListener(IdentityListenerOptions{
		Identity: identity, Records: records, Cache: cache, State: state,
	})
	listener.Start(context.Background())
	defer listener.Stop()

	gate := NewGate(GateOptions{State: state, Identity: identity})
	assert.Equal(t, AllowNavigation(), gate.Evaluate(context.Background(), "/admin/dashboard"))
}

func TestIdentityListener_SignOutClearsStateAndCache(t *testing.T) {
	f := newListenerFixture(t, principal("res"),
		domainauth.AuthorizationRecord{UID: "res", Role: domainauth.RoleResident, Approved: true})
	f.listener.Start(context.Background())
	_, ok := f.cached(t)
	require.True(t, ok)

	f.identity.Set(nil)

	_, ok = f.state.Record()
	assert.False(t, ok)
	_, ok = f.cached(t)
	assert.False(t, ok)
	assert.Empty(t, f.state.Subject())

	gate := NewGate(GateOptions{State: f.state, Identity: f.identity})
	assert.Equal(t, RedirectTo("/login"), gate.Evaluate(context.Background(), "/dashboard"))
}

func TestIdentityListener_FetchErrorFailsClosed(t *testing.T) {
	f := newListenerFixture(t, principal("admin"))
	f.records.Err = errors.New("database unavailable")
	f.listener.Start(context.Background())

	assert.True(t, f.state.Ready())
	_, ok := f.state.Record()
	assert.False(t, ok)
	assert.Equal(t, "admin", f.state.Subject())
	_, ok = f.cached(t)
	assert.False(t, ok)
}

func TestIdentityListener_FetchTimeoutFailsClosed(t *testing.T) {
	f := newListenerFixture(t, principal("slow"),
		domainauth.AuthorizationRecord{UID: "slow", Role: domainauth.RoleResident})
	f.records.Gate = make(chan struct{})
	f.listener.Start(context.Background())

	assert.True(t, f.state.Ready())
	_, ok := f.state.Record()
	assert.False(t, ok)
}

func TestIdentityListener_MissingRecord(t *testing.T) {
	f := newListenerFixture(t, principal("newcomer"))
	f.listener.Start(context.Background())

	assert.True(t, f.state.Ready())
	_, ok := f.state.Record()
	assert.False(t, ok)
	assert.Equal(t, 1, f.records.Calls())
}

func TestIdentityListener_DiscardsUnusableCache(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "malformed", raw: "{not json"},
		{name: "other principal", raw: `{"uid":"someone-else","role":"admin","approved":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newListenerFixture(t, principal("res"),
				domainauth.AuthorizationRecord{UID: "res", Role: domainauth.RoleResident, Approved: true})
			require.NoError(t, f.cache.Set(context.Background(), RecordCacheKey, tt.raw))

			f.listener.Start(context.Background())

			rec, ok := f.state.Record()
			require.True(t, ok)
			assert.Equal(t, domainauth.RoleResident, rec.Role)
			assert.Equal(t, 1, f.records.Calls())
			cached, ok := f.cached(t)
			require.True(t, ok)
			assert.Equal(t, "res", cached.UID)
		})
	}
}

func TestIdentityListener_PrincipalSwitch(t *testing.T) {
	f := newListenerFixture(t, principal("a"),
		domainauth.AuthorizationRecord{UID: "a", Role: domainauth.RoleAdmin, Approved: true},
		domainauth.AuthorizationRecord{UID: "b", Role: domainauth.RoleResident, Approved: true})
	f.listener.Start(context.Background())

	f.identity.Set(principal("b"))

	rec, ok := f.state.Record()
	require.True(t, ok)
	assert.Equal(t, "b", rec.UID)
	assert.Equal(t, domainauth.RoleResident, rec.Role)
	assert.Equal(t, 2, f.records.Calls())
}

func TestIdentityListener_StartIsIdempotentAndStopUnsubscribes(t *testing.T) {
	f := newListenerFixture(t, nil)
	f.listener.Start(context.Background())
	f.listener.Start(context.Background())
	assert.Equal(t, 1, f.identity.Subscribers())

	f.listener.Stop()
	assert.Equal(t, 0, f.identity.Subscribers())

	f.listener.Start(context.Background())
	assert.Equal(t, 0, f.identity.Subscribers())
}

func TestIdentityListener_CacheErrorsAreNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockSessionCache(ctrl)
	cache.EXPECT().Get(gomock.Any(), RecordCacheKey).Return("", errors.New("redis down"))
	cache.EXPECT().Set(gomock.Any(), RecordCacheKey, gomock.Any()).Return(errors.New("redis down"))

	state := NewSessionState()
	listener := NewIdentityListener(IdentityListenerOptions{
		Identity: authmocks.NewManualIdentity(principal("res")),
		Records: authmocks.NewMemoryRecordStore(
			domainauth.AuthorizationRecord{UID: "res", Role: domainauth.RoleResident, Approved: true}),
		Cache: cache,
		State: state,
	})
	listener.Start(context.Background())
	defer listener.Stop()

	rec, ok := state.Record()
	require.True(t, ok)
	assert.Equal(t, domainauth.RoleResident, rec.Role)
}

func TestIdentityListener_StoppedDuringFetchDoesNotCache(t *testing.T) {
	f := newListenerFixture(t, principal("chief"),
		domainauth.AuthorizationRecord{UID: "chief", Role: domainauth.RoleAdmin, Approved: true})
	f.records.Gate = make(chan struct{})

	started := make(chan struct{})
	go func() {
		f.listener.Start(context.Background())
		close(started)
	}()
	require.Eventually(t, func() bool { return f.records.Calls() == 1 }, time.Second, 5*time.Millisecond)

	f.listener.Stop()
	close(f.records.Gate)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("listener did not finish the pending notification")
	}

	_, ok := f.cached(t)
	assert.False(t, ok)
	assert.Equal(t, 0, f.identity.Subscribers())
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	authmocks "github.com/nwatch/neighborwatch/internal/mocks/auth"
)

type gateFixture struct {
	identity *authmocks.ManualIdentity
	records  *authmocks.MemoryRecordStore
	cache    *authmocks.MemorySessionCache
	state    *SessionState
	gate     *Gate
}

// newGateFixture wires a started listener and a gate around p. A nil p is a
// signed-out session.
func newGateFixture(t *testing.T, p *domainauth.Principal, recs ...domainauth.AuthorizationRecord) *gateFixture {
	t.Helper()
	f := newListenerFixture(t, p, recs...)
	f.listener.Start(context.Background())
	return &gateFixture{
		identity: f.identity,
		records:  f.records,
		cache:    f.cache,
		state:    f.state,
		gate: NewGate(GateOptions{
			State:        f.state,
			Identity:     f.identity,
			ReadyTimeout: 200 * time.Millisecond,
		}),
	}
}

func TestGate_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		user   *domainauth.Principal
		record *domainauth.AuthorizationRecord
		target string
		want   Decision
	}{
		{
			name:   "unauthenticated admin route",
			target: "/admin/dashboard",
			want:   RedirectTo("/login"),
		},
		{
			name:   "approved police on police route",
			user:   principal("officer"),
			record: &domainauth.AuthorizationRecord{UID: "officer", Role: domainauth.RolePolice, Approved: true},
			target: "/police/assigned-incidents",
			want:   AllowNavigation(),
		},
		{
			name:   "unapproved police on police route",
			user:   principal("officer"),
			record: &domainauth.AuthorizationRecord{UID: "officer", Role: domainauth.RolePolice},
			target: "/police/assigned-incidents",
			want:   RedirectTo("/dashboard"),
		},
		{
			name:   "approved admin on login",
			user:   principal("chief"),
			record: &domainauth.AuthorizationRecord{UID: "chief", Role: domainauth.RoleAdmin, Approved: true},
			target: "/login",
			want:   RedirectTo("/admin/dashboard"),
		},
		{
			name:   "resident on admin route",
			user:   principal("res"),
			record: &domainauth.AuthorizationRecord{UID: "res", Role: domainauth.RoleResident, Approved: true},
			target: "/admin/user-management",
			want:   RedirectTo("/dashboard"),
		},
		{
			name:   "approved police on admin route",
			user:   principal("officer"),
			record: &domainauth.AuthorizationRecord{UID: "officer", Role: domainauth.RolePolice, Approved: true},
			target: "/admin/dashboard",
			want:   RedirectTo("/police/dashboard"),
		},
		{
			name:   "admin below a declared route",
			user:   principal("chief"),
			record: &domainauth.AuthorizationRecord{UID: "chief", Role: domainauth.RoleAdmin, Approved: true},
			target: "/admin/user-management/users",
			want:   AllowNavigation(),
		},
		{
			name:   "resident on resident route",
			user:   principal("res"),
			record: &domainauth.AuthorizationRecord{UID: "res", Role: domainauth.RoleResident, Approved: true},
			target: "/report-incident",
			want:   AllowNavigation(),
		},
		{
			name:   "public route signed out",
			target: "/register",
			want:   AllowNavigation(),
		},
		{
			name:   "login signed out",
			target: "/login",
			want:   AllowNavigation(),
		},
		{
			name:   "signed in without record is unauthenticated",
			user:   principal("newcomer"),
			target: "/dashboard",
			want:   RedirectTo("/login"),
		},
		{
			name:   "signed in without record may visit login",
			user:   principal("newcomer"),
			target: "/login",
			want:   AllowNavigation(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recs []domainauth.AuthorizationRecord
			if tt.record != nil {
				recs = append(recs, *tt.record)
			}
			f := newGateFixture(t, tt.user, recs...)
			assert.Equal(t, tt.want, f.gate.Evaluate(context.Background(), tt.target))
		})
	}
}

func TestGate_FetchErrorRedirectsProtectedRoutes(t *testing.T) {
	f := newListenerFixture(t, principal("admin"))
	f.records.Err = errors.New("boom")
	f.listener.Start(context.Background())
	gate := NewGate(GateOptions{State: f.state, Identity: f.identity})

	require.True(t, f.state.Ready())
	for _, rt := range navigation.Default().Routes() {
		if !rt.Requires.Auth {
			continue
		}
		assert.Equal(t, RedirectTo("/login"), gate.Evaluate(context.Background(), rt.Path), rt.Path)
	}
}

func TestGate_PrivilegedRoutesNeverAllowWithoutApproval(t *testing.T) {
	records := []*domainauth.AuthorizationRecord{
		nil,
		{UID: "u", Role: domainauth.RoleResident, Approved: false},
		{UID: "u", Role: domainauth.RoleResident, Approved: true},
		{UID: "u", Role: domainauth.RolePolice, Approved: false},
		{UID: "u", Role: domainauth.RoleAdmin, Approved: false},
	}
	users := []*domainauth.Principal{nil, principal("u")}

	for _, rec := range records {
		for _, user := range users {
			var recs []domainauth.AuthorizationRecord
			if rec != nil {
				recs = append(recs, *rec)
			}
			f := newGateFixture(t, user, recs...)
			for _, rt := range navigation.Default().Routes() {
				if len(rt.Requires.Roles) == 0 {
					continue
				}
				d := f.gate.Evaluate(context.Background(), rt.Path)
				assert.False(t, d.Allow, "route %s record %+v user %v", rt.Path, rec, user)
				assert.NotEqual(t, rt.Path, d.Redirect)
			}
		}
	}
}

func TestGate_LoginRedirectsToRoleLanding(t *testing.T) {
	for _, role := range domainauth.Roles() {
		t.Run(string(role), func(t *testing.T) {
			f := newGateFixture(t, principal("u"),
				domainauth.AuthorizationRecord{UID: "u", Role: role, Approved: true})
			assert.Equal(t, RedirectTo(domainauth.LandingPath(role)),
				f.gate.Evaluate(context.Background(), "/login"))
		})
	}
}

func TestGate_NotReadyFailsClosed(t *testing.T) {
	state := NewSessionState()
	gate := NewGate(GateOptions{
		State:        state,
		Identity:     authmocks.NewManualIdentity(principal("chief")),
		ReadyTimeout: 20 * time.Millisecond,
	})

	assert.Equal(t, RedirectTo("/login"), gate.Evaluate(context.Background(), "/admin/dashboard"))
	assert.Equal(t, AllowNavigation(), gate.Evaluate(context.Background(), "/"))
	assert.False(t, state.Ready())
}

func TestGate_WaitsForPendingResolution(t *testing.T) {
	f := newListenerFixture(t, principal("chief"),
		domainauth.AuthorizationRecord{UID: "chief", Role: domainauth.RoleAdmin, Approved: true})
	f.records.Gate = make(chan struct{})
	gate := NewGate(GateOptions{State: f.state, Identity: f.identity, ReadyTimeout: time.Second})

	go f.listener.Start(context.Background())

	done := make(chan Decision, 1)
	go func() { done <- gate.Evaluate(context.Background(), "/admin/dashboard") }()

	select {
	case d := <-done:
		t.Fatalf("gate decided before the record resolved: %+v", d)
	case <-time.After(30 * time.Millisecond):
	}
	close(f.records.Gate)

	select {
	case d := <-done:
		assert.Equal(t, AllowNavigation(), d)
	case <-time.After(time.Second):
		t.Fatal("gate did not decide")
	}
}

func TestGate_DoesNotUseRecordOfPreviousPrincipal(t *testing.T) {
	f := newGateFixture(t, principal("chief"),
		domainauth.AuthorizationRecord{UID: "chief", Role: domainauth.RoleAdmin, Approved: true})
	require.Equal(t, AllowNavigation(), f.gate.Evaluate(context.Background(), "/admin/dashboard"))

	// The live principal switched but the notification has not arrived yet.
	f.identity.SetSilently(principal("intruder"))
	gate := NewGate(GateOptions{State: f.state, Identity: f.identity, ReadyTimeout: 20 * time.Millisecond})

	assert.Equal(t, RedirectTo("/login"), gate.Evaluate(context.Background(), "/admin/dashboard"))
}

func TestGate_LiveRoleChangeAppliesOnNextNavigation(t *testing.T) {
	f := newGateFixture(t, principal("officer"),
		domainauth.AuthorizationRecord{UID: "officer", Role: domainauth.RolePolice})
	require.Equal(t, RedirectTo("/dashboard"), f.gate.Evaluate(context.Background(), "/police/dashboard"))

	f.records.Put(domainauth.AuthorizationRecord{UID: "officer", Role: domainauth.RolePolice, Approved: true})
	require.NoError(t, f.cache.Remove(context.Background(), RecordCacheKey))
	f.identity.Set(principal("officer"))

	assert.Equal(t, AllowNavigation(), f.gate.Evaluate(context.Background(), "/police/dashboard"))
}

func TestFallbackLanding(t *testing.T) {
	police := domainauth.AuthorizationRecord{Role: domainauth.RolePolice, Approved: true}
	resident := domainauth.AuthorizationRecord{Role: domainauth.RoleResident}

	assert.Equal(t, "/police/dashboard", fallbackLanding(police, true, "/admin/dashboard"))
	assert.Equal(t, "/dashboard", fallbackLanding(police, true, "/police/dashboard"))
	assert.Equal(t, "/dashboard", fallbackLanding(domainauth.AuthorizationRecord{}, false, "/admin/dashboard"))
	assert.Equal(t, "/", fallbackLanding(resident, true, "/dashboard"))
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	authmocks "github.com/nwatch/neighborwatch/internal/mocks/auth"
)

type metricSample struct {
	Name string
	Tags map[string]string
}

type recordingSink struct {
	mu      sync.Mutex
	counts  []metricSample
	timings []metricSample
}

func (r *recordingSink) Count(name string, _ int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, metricSample{Name: name, Tags: tags})
}

func (r *recordingSink) Timing(name string, _ time.Duration, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings = append(r.timings, metricSample{Name: name, Tags: tags})
}

func (r *recordingSink) countsNamed(name string) []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]string
	for _, s := range r.counts {
		if s.Name == name {
			out = append(out, s.Tags)
		}
	}
	return out
}

func (r *recordingSink) timingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timings)
}

func TestGate_EmitsDecisionMetrics(t *testing.T) {
	sink := &recordingSink{}
	f := newListenerFixture(t, principal("res"),
		domainauth.AuthorizationRecord{UID: "res", Role: domainauth.RoleResident, Approved: true})
	f.listener.Start(context.Background())
	gate := NewGate(GateOptions{State: f.state, Identity: f.identity, Metrics: sink})

	gate.Evaluate(context.Background(), "/dashboard")
	gate.Evaluate(context.Background(), "/admin/dashboard")
	gate.Evaluate(context.Background(), "/login")

	got := sink.countsNamed("gate.decision")
	require.Len(t, got, 3)
	assert.Equal(t, "allow", got[0]["outcome"])
	assert.Equal(t, "allowed", got[0]["reason"])
	assert.Equal(t, "/dashboard", got[0]["route"])
	assert.Equal(t, map[string]string{
		"outcome": "redirect", "reason": "role", "route": "/admin/dashboard", "target": "/dashboard",
	}, got[1])
	assert.Equal(t, "signed_in", got[2]["reason"])
	assert.Equal(t, "/dashboard", got[2]["target"])
}

func TestGate_EmitsReadyTimeout(t *testing.T) {
	sink := &recordingSink{}
	gate := NewGate(GateOptions{
		State:        NewSessionState(),
		Identity:     authmocks.NewManualIdentity(principal("chief")),
		ReadyTimeout: 10 * time.Millisecond,
		Metrics:      sink,
	})

	assert.Equal(t, RedirectTo("/login"), gate.Evaluate(context.Background(), "/admin/dashboard"))

	got := sink.countsNamed("gate.decision")
	require.Len(t, got, 1)
	assert.Equal(t, "ready_timeout", got[0]["reason"])
	assert.Equal(t, "/login", got[0]["target"])
}

func TestGate_RecordlessPrincipalStaysOnLogin(t *testing.T) {
	sink := &recordingSink{}
	f := newListenerFixture(t, principal("ghost"))
	f.records.Err = errors.New("database unavailable")
	f.listener.Start(context.Background())
	gate := NewGate(GateOptions{State: f.state, Identity: f.identity, Metrics: sink})

	assert.Equal(t, AllowNavigation(), gate.Evaluate(context.Background(), "/login"))
	assert.Equal(t, RedirectTo("/login"), gate.Evaluate(context.Background(), "/dashboard"))

	got := sink.countsNamed("gate.decision")
	require.Len(t, got, 2)
	assert.Equal(t, "allow", got[0]["outcome"])
	assert.Equal(t, "unauthenticated", got[1]["reason"])
}

func TestIdentityListener_EmitsLookupMetrics(t *testing.T) {
	tests := []struct {
		name       string
		seed       []domainauth.AuthorizationRecord
		storeErr   error
		wantResult []string
	}{
		{
			name:       "miss then hit",
			seed:       []domainauth.AuthorizationRecord{{UID: "res", Role: domainauth.RoleResident, Approved: true}},
			wantResult: []string{"miss", "hit"},
		},
		{
			name:       "not found",
			wantResult: []string{"not_found", "not_found"},
		},
		{
			name:       "store error",
			storeErr:   errors.New("database unavailable"),
			wantResult: []string{"error", "error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			identity := authmocks.NewManualIdentity(principal("res"))
			records := authmocks.NewMemoryRecordStore(tt.seed...)
			records.Err = tt.storeErr
			listener := NewIdentityListener(IdentityListenerOptions{
				Identity: identity,
				Records:  records,
				Cache:    authmocks.NewMemorySessionCache(),
				State:    NewSessionState(),
				Metrics:  sink,
			})
			listener.Start(context.Background())
			defer listener.Stop()

			identity.Set(principal("res"))

			var results []string
			for _, tags := range sink.countsNamed("listener.record") {
				results = append(results, tags["result"])
			}
			assert.Equal(t, tt.wantResult, results)
			assert.Equal(t, records.Calls(), sink.timingCount())
		})
	}
}

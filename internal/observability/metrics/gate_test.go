package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Kind  string
	Name  string
	Value int64
	Tags  map[string]string
}

type recordingSink struct {
	mu      sync.Mutex
	samples []sample
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{Kind: "count", Name: name, Value: value, Tags: tags})
}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{Kind: "timing", Name: name, Value: int64(value), Tags: tags})
}

func TestEmitGateDecision(t *testing.T) {
	tests := []struct {
		name string
		in   GateDecision
		want map[string]string
	}{
		{
			name: "allow",
			in:   GateDecision{Route: "/dashboard", Reason: ReasonAllowed},
			want: map[string]string{"outcome": "allow", "reason": "allowed", "route": "/dashboard"},
		},
		{
			name: "redirect carries target",
			in:   GateDecision{Route: "/admin/dashboard", Reason: ReasonRole, Redirect: "/dashboard"},
			want: map[string]string{
				"outcome": "redirect", "reason": "role", "route": "/admin/dashboard", "target": "/dashboard",
			},
		},
		{
			name: "undeclared route",
			in:   GateDecision{Reason: ReasonReadyTimeout},
			want: map[string]string{"outcome": "allow", "reason": "ready_timeout", "route": "undeclared"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			EmitGateDecision(sink, tt.in)
			require.Len(t, sink.samples, 1)
			assert.Equal(t, "gate.decision", sink.samples[0].Name)
			assert.Equal(t, tt.want, sink.samples[0].Tags)
		})
	}
}

func TestEmitRecordLookup(t *testing.T) {
	sink := &recordingSink{}

	EmitRecordLookup(sink, RecordLookup{Result: LookupHit})
	EmitRecordLookup(sink, RecordLookup{Result: LookupMiss, Duration: 3 * time.Millisecond})

	require.Len(t, sink.samples, 3)
	assert.Equal(t, sample{Kind: "count", Name: "listener.record", Value: 1, Tags: map[string]string{"result": "hit"}}, sink.samples[0])
	assert.Equal(t, "listener.record", sink.samples[1].Name)
	assert.Equal(t, "timing", sink.samples[2].Kind)
	assert.Equal(t, "listener.fetch", sink.samples[2].Name)
	assert.Equal(t, map[string]string{"result": "miss"}, sink.samples[2].Tags)
}

func TestEmitWithNilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitGateDecision(nil, GateDecision{Reason: ReasonAllowed})
		EmitRecordLookup(nil, RecordLookup{Result: LookupError})
	})
}

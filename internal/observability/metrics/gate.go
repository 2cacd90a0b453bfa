// Package metrics holds the metric names and tag sets the navigation gate emits.
package metrics

import (
	"time"

	"github.com/nwatch/neighborwatch/internal/observability/statsd"
)

// Gate decision outcomes.
const (
	OutcomeAllow    = "allow"
	OutcomeRedirect = "redirect"
)

// Gate decision reasons.
const (
	ReasonAllowed         = "allowed"
	ReasonReadyTimeout    = "ready_timeout"
	ReasonUnauthenticated = "unauthenticated"
	ReasonSignedIn        = "signed_in"
	ReasonRole            = "role"
)

// Record lookup results of the identity listener.
const (
	LookupHit      = "hit"
	LookupMiss     = "miss"
	LookupNotFound = "not_found"
	LookupError    = "error"
)

// GateDecision describes one navigation outcome.
type GateDecision struct {
	Route    string
	Reason   string
	Redirect string
}

// EmitGateDecision counts a gate decision, tagged with outcome, reason, the
// matched route and, for redirects, the target.
func EmitGateDecision(sink statsd.Sink, in GateDecision) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"outcome": OutcomeAllow,
		"reason":  in.Reason,
		"route":   routeTag(in.Route),
	}
	if in.Redirect != "" {
		tags["outcome"] = OutcomeRedirect
		tags["target"] = in.Redirect
	}
	sink.Count("gate.decision", 1, tags)
}

// RecordLookup describes how the listener resolved a principal's record.
type RecordLookup struct {
	Result   string
	Duration time.Duration
}

// EmitRecordLookup counts a record resolution and times store fetches.
func EmitRecordLookup(sink statsd.Sink, in RecordLookup) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	sink.Count("listener.record", 1, tags)
	if in.Result != LookupHit {
		sink.Timing("listener.fetch", in.Duration, CloneTags(tags))
	}
}

// CloneTags copies a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func routeTag(route string) string {
	if route == "" {
		return "undeclared"
	}
	return route
}

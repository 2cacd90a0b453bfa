package service

import (
	"context"
	"log/slog"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	"github.com/nwatch/neighborwatch/internal/observability/metrics"
	"github.com/nwatch/neighborwatch/internal/observability/statsd"
	"github.com/nwatch/neighborwatch/internal/ports"
)

const (
	defaultReadyTimeout = 5 * time.Second
	// rootPath is the last-resort landing when every dashboard is the refused target.
	rootPath = "/"
)

// Decision is the outcome of one navigation: proceed unchanged, or go to Redirect.
type Decision struct {
	Allow    bool
	Redirect string
}

// AllowNavigation lets the navigation proceed.
func AllowNavigation() Decision { return Decision{Allow: true} }

// RedirectTo sends the navigation to path.
func RedirectTo(path string) Decision { return Decision{Redirect: path} }

// GateOptions groups dependencies for Gate.
type GateOptions struct {
	State        *SessionState
	Identity     ports.IdentityProvider
	Routes       *navigation.Table
	ReadyTimeout time.Duration
	Logger       *slog.Logger
	// Metrics receives one gate.decision count per navigation. Optional.
	Metrics statsd.Sink
}

// Gate decides, for every navigation of one browsing session, whether to allow
// it or where to redirect it. It only reads the session state.
type Gate struct {
	state        *SessionState
	identity     ports.IdentityProvider
	routes       *navigation.Table
	readyTimeout time.Duration
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewGate constructs a Gate. A nil route table means the embedded default.
func NewGate(opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	routes := opts.Routes
	if routes == nil {
		routes = navigation.Default()
	}
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	return &Gate{
		state:        opts.State,
		identity:     opts.Identity,
		routes:       routes,
		readyTimeout: timeout,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// Evaluate resolves a navigation to target. It always returns exactly one
// decision; ambiguity resolves to the least privileged outcome.
func (g *Gate) Evaluate(ctx context.Context, target string) Decision {
	route, _ := g.routes.Match(target)
	req := route.Requires
	principal, signedIn := g.identity.CurrentPrincipal()

	// 1. Wait until the listener has resolved the principal we are looking at.
	subject := ""
	if signedIn {
		subject = principal.UID
	}
	if err := g.awaitSettled(ctx, subject); err != nil {
		g.logger.WarnContext(ctx, "navigation gate not ready", "path", target, "error", err)
		if req.Auth {
			return g.decide(route.Path, metrics.ReasonReadyTimeout, RedirectTo(navigation.LoginPath))
		}
		return g.decide(route.Path, metrics.ReasonReadyTimeout, AllowNavigation())
	}

	record, hasRecord := g.state.Record()
	// A principal without a record is treated as unauthenticated.
	authenticated := signedIn && hasRecord

	// 2. Unauthenticated block.
	if req.Auth && !authenticated {
		return g.decide(route.Path, metrics.ReasonUnauthenticated, RedirectTo(navigation.LoginPath))
	}

	// 3. Signed-in users have no business on the login page. A principal
	// without a record stays on /login; /dashboard would bounce them back.
	if authenticated && navigation.IsLogin(target) {
		return g.decide(route.Path, metrics.ReasonSignedIn, RedirectTo(record.LandingPath()))
	}

	// 4. Every role requirement must hold.
	for _, role := range req.Roles {
		if hasRecord && record.Holds(role) {
			continue
		}
		g.logger.InfoContext(ctx, "navigation refused",
			"path", target,
			"required_role", role,
			"actual_role", record.Role,
			"approved", record.Approved,
		)
		return g.decide(route.Path, metrics.ReasonRole, RedirectTo(fallbackLanding(record, hasRecord, route.Path)))
	}

	// 5. Default allow.
	return g.decide(route.Path, metrics.ReasonAllowed, AllowNavigation())
}

func (g *Gate) decide(route, reason string, d Decision) Decision {
	metrics.EmitGateDecision(g.metrics, metrics.GateDecision{
		Route:    route,
		Reason:   reason,
		Redirect: d.Redirect,
	})
	return d
}

func (g *Gate) awaitSettled(ctx context.Context, subject string) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.readyTimeout)
	defer cancel()
	return g.state.WaitSettled(waitCtx, subject)
}

// fallbackLanding picks the landing path for the user's actual role, never the
// refused route itself.
func fallbackLanding(record domainauth.AuthorizationRecord, hasRecord bool, refused string) string {
	landing := domainauth.ResidentDashboardPath
	if hasRecord {
		landing = record.LandingPath()
	}
	if landing == refused {
		landing = domainauth.ResidentDashboardPath
	}
	if landing == refused {
		landing = rootPath
	}
	return landing
}

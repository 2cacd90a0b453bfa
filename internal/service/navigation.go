package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	"github.com/nwatch/neighborwatch/internal/observability/statsd"
	"github.com/nwatch/neighborwatch/internal/ports"
)

const (
	defaultMaxClients    = 10000
	defaultClientIdleTTL = 30 * time.Minute
)

// IdentityFeeds hands out the identity provider of each browsing session.
type IdentityFeeds interface {
	Feed(ctx context.Context, sessionID string) ports.IdentityProvider
	Republish(sessionID string)
}

// SessionCaches scopes the short-lived cache to one browsing session.
type SessionCaches interface {
	Scope(sessionID string) ports.SessionCache
}

// NavigationClient bundles the gate machinery owned by one browsing session.
type NavigationClient struct {
	SessionID string
	State     *SessionState
	Identity  ports.IdentityProvider
	Gate      *Gate
	listener  *IdentityListener
}

// NavigationServiceOptions groups dependencies for NavigationService.
type NavigationServiceOptions struct {
	Feeds        IdentityFeeds
	Records      ports.RecordStore
	Caches       SessionCaches
	Routes       *navigation.Table
	ReadyTimeout time.Duration
	FetchTimeout time.Duration
	MaxClients   int
	IdleTTL      time.Duration
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// NavigationService keeps one NavigationClient per browsing session and is the
// routing layer's entry point to the gate. Idle clients are evicted; a later
// request rebuilds the client from the session store and the session cache.
type NavigationService struct {
	feeds        IdentityFeeds
	records      ports.RecordStore
	caches       SessionCaches
	routes       *navigation.Table
	readyTimeout time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	metrics      statsd.Sink

	ctx    context.Context
	cancel context.CancelFunc

	// building collapses concurrent first requests of one session into a
	// single build; mu only guards the registry, never session store I/O.
	building singleflight.Group

	mu      sync.Mutex
	closed  bool
	clients *expirable.LRU[string, *NavigationClient]
}

// NewNavigationService constructs a NavigationService.
func NewNavigationService(opts NavigationServiceOptions) *NavigationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	routes := opts.Routes
	if routes == nil {
		routes = navigation.Default()
	}
	size := opts.MaxClients
	if size <= 0 {
		size = defaultMaxClients
	}
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = defaultClientIdleTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &NavigationService{
		feeds:        opts.Feeds,
		records:      opts.Records,
		caches:       opts.Caches,
		routes:       routes,
		readyTimeout: opts.ReadyTimeout,
		fetchTimeout: opts.FetchTimeout,
		logger:       logger,
		metrics:      opts.Metrics,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.clients = expirable.NewLRU[string, *NavigationClient](size, s.onEvict, ttl)
	return s
}

func (s *NavigationService) onEvict(sessionID string, c *NavigationClient) {
	c.listener.Stop()
	s.logger.Debug("navigation client evicted", "session_id", sessionID)
}

// Routes returns the route table the gate enforces.
func (s *NavigationService) Routes() *navigation.Table {
	return s.routes
}

// Client returns the session's NavigationClient, creating and starting it on
// first use. Building one session's client never blocks another session.
func (s *NavigationService) Client(ctx context.Context, sessionID string) *NavigationClient {
	if c, ok := s.lookup(sessionID); ok {
		return c
	}
	// The build is shared by every waiter, so it must outlive the first caller.
	buildCtx := context.WithoutCancel(ctx)
	v, _, _ := s.building.Do(sessionID, func() (any, error) {
		if c, ok := s.lookup(sessionID); ok {
			return c, nil
		}
		return s.register(s.build(buildCtx, sessionID)), nil
	})
	return v.(*NavigationClient)
}

// lookup returns a live client and renews its idle deadline.
func (s *NavigationService) lookup(sessionID string) (*NavigationClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients.Get(sessionID)
	if ok {
		// Re-adding renews the idle deadline.
		s.clients.Add(sessionID, c)
	}
	return c, ok
}

// build resolves the session's identity feed and wires its gate. It may hit
// the session store and runs without holding mu.
func (s *NavigationService) build(ctx context.Context, sessionID string) *NavigationClient {
	identity := s.feeds.Feed(ctx, sessionID)
	state := NewSessionState()
	listener := NewIdentityListener(IdentityListenerOptions{
		Identity:     identity,
		Records:      s.records,
		Cache:        s.caches.Scope(sessionID),
		State:        state,
		FetchTimeout: s.fetchTimeout,
		Logger:       s.logger.With("session_id", sessionID),
		Metrics:      s.metrics,
	})
	return &NavigationClient{
		SessionID: sessionID,
		State:     state,
		Identity:  identity,
		Gate: NewGate(GateOptions{
			State:        state,
			Identity:     identity,
			Routes:       s.routes,
			ReadyTimeout: s.readyTimeout,
			Logger:       s.logger,
			Metrics:      s.metrics,
		}),
		listener: listener,
	}
}

// register starts c and adds it to the registry. After Close the client is
// returned without a listener, so its gate fails closed.
func (s *NavigationService) register(c *NavigationClient) *NavigationClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients.Get(c.SessionID); ok {
		return existing
	}
	if s.closed {
		return c
	}
	c.listener.Start(s.ctx)
	s.clients.Add(c.SessionID, c)
	return c
}

// Evaluate runs the session's gate for a navigation to path.
func (s *NavigationService) Evaluate(ctx context.Context, sessionID, path string) (Decision, *NavigationClient) {
	c := s.Client(ctx, sessionID)
	return c.Gate.Evaluate(ctx, path), c
}

// Refresh drops the session's cached record and asks its feed to re-deliver the
// current principal, forcing a fresh record lookup. When the session has a live
// client it waits, bounded by ctx and the ready timeout, for that lookup to land.
func (s *NavigationService) Refresh(ctx context.Context, sessionID string) error {
	if err := s.caches.Scope(sessionID).Remove(ctx, RecordCacheKey); err != nil {
		return err
	}

	c, ok := s.clients.Peek(sessionID)
	if !ok {
		return nil
	}
	changed := c.State.changedCh()
	s.feeds.Republish(sessionID)

	timer := time.NewTimer(s.refreshTimeout())
	defer timer.Stop()
	select {
	case <-changed:
		return nil
	case <-timer.C:
		s.logger.WarnContext(ctx, "refresh did not settle in time", "session_id", sessionID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshSubject refreshes every live session currently resolved to uid, so
// approval and role changes apply without waiting for the cache to expire.
func (s *NavigationService) RefreshSubject(ctx context.Context, uid string) {
	if uid == "" {
		return
	}
	for _, c := range s.clients.Values() {
		if c.State.Subject() != uid {
			continue
		}
		if err := s.Refresh(ctx, c.SessionID); err != nil {
			s.logger.WarnContext(ctx, "refresh session failed",
				"session_id", c.SessionID, "uid", uid, "error", err)
		}
	}
}

func (s *NavigationService) refreshTimeout() time.Duration {
	if s.readyTimeout > 0 {
		return s.readyTimeout
	}
	return defaultReadyTimeout
}

// Forget drops the session's client, stopping its listener, and clears the
// session's cached record. Call it once the session has ended: notifications
// still queued for the stopped listener are never delivered.
func (s *NavigationService) Forget(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.clients.Remove(sessionID)
	s.mu.Unlock()

	if err := s.caches.Scope(sessionID).Remove(ctx, RecordCacheKey); err != nil {
		return fmt.Errorf("clear cached record: %w", err)
	}
	return nil
}

// Len reports how many clients are live.
func (s *NavigationService) Len() int {
	return s.clients.Len()
}

// Close stops every listener.
func (s *NavigationService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.clients.Purge()
	s.cancel()
}

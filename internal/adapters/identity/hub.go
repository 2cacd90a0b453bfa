// Package identity tracks which principal is signed in to each browsing
// session and notifies subscribers when that changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

const defaultLoadTimeout = 2 * time.Second

// Bus carries "session changed" announcements between replicas.
type Bus interface {
	Publish(ctx context.Context, sessionID string) error
	Listen(ctx context.Context, fn func(sessionID string)) error
}

// HubOptions groups dependencies for Hub.
type HubOptions struct {
	Store ports.SessionStore
	// Bus is optional; without it changes are only seen by this process.
	Bus         Bus
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// Hub is the identity provider for every browsing session served by this
// process. The session store is the source of truth; the hub keeps an
// in-memory feed for each session that has subscribers.
type Hub struct {
	store       ports.SessionStore
	bus         Bus
	loadTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	feeds  map[string]*feed
	nextID uint64
}

// NewHub constructs a Hub.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.LoadTimeout
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}
	return &Hub{
		store:       opts.Store,
		bus:         opts.Bus,
		loadTimeout: timeout,
		logger:      logger.With("component", "identity_hub"),
		feeds:       make(map[string]*feed),
	}
}

// Feed returns the identity provider for sessionID, loading the session's
// principal from the store the first time the session is seen.
func (h *Hub) Feed(ctx context.Context, sessionID string) ports.IdentityProvider {
	h.mu.Lock()
	f, ok := h.feeds[sessionID]
	if !ok {
		f = &feed{sessionID: sessionID}
		h.feeds[sessionID] = f
	}
	seeded := f.seeded
	h.mu.Unlock()

	if !seeded {
		sess := h.load(ctx, sessionID)
		h.mu.Lock()
		if !f.seeded {
			h.setLocked(f, sess, false)
		}
		h.mu.Unlock()
	}
	return &provider{hub: h, sessionID: sessionID}
}

// SignIn persists sess and notifies the session's subscribers.
func (h *Hub) SignIn(ctx context.Context, sess domainauth.Session) error {
	if err := h.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	h.apply(sess.ID, &sess)
	h.announce(ctx, sess.ID)
	h.logger.InfoContext(ctx, "session signed in", "session_id", sess.ID, "uid", sess.UserID)
	return nil
}

// SignOut deletes the session and notifies its subscribers.
func (h *Hub) SignOut(ctx context.Context, sessionID string) error {
	if err := h.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	h.apply(sessionID, nil)
	h.announce(ctx, sessionID)
	h.logger.InfoContext(ctx, "session signed out", "session_id", sessionID)
	return nil
}

// Republish re-delivers the session's current principal to every subscriber.
func (h *Hub) Republish(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[sessionID]; ok {
		h.enqueueLocked(f, event{current: true})
	}
}

// Run consumes change announcements from other replicas until ctx is done.
// Without a bus it just waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}
	return h.bus.Listen(ctx, func(sessionID string) {
		h.mu.Lock()
		_, tracked := h.feeds[sessionID]
		h.mu.Unlock()
		if !tracked {
			return
		}
		h.apply(sessionID, h.load(ctx, sessionID))
	})
}

// Len reports how many sessions have a live feed.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

func (h *Hub) announce(ctx context.Context, sessionID string) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, sessionID); err != nil {
		h.logger.WarnContext(ctx, "announce identity change failed", "session_id", sessionID, "error", err)
	}
}

// load reads the session from the store; anything but a live session means
// nobody is signed in.
func (h *Hub) load(ctx context.Context, sessionID string) *domainauth.Session {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.loadTimeout)
	defer cancel()

	sess, err := h.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ports.ErrSessionNotFound) {
			h.logger.WarnContext(ctx, "load session failed", "session_id", sessionID, "error", err)
		}
		return nil
	}
	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		return nil
	}
	return &sess
}

func (h *Hub) apply(sessionID string, sess *domainauth.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[sessionID]; ok {
		h.setLocked(f, sess, true)
	}
}

// setLocked records sess as the feed's session and, when notify is set and
// the principal differs from what subscribers last saw, queues a broadcast.
func (h *Hub) setLocked(f *feed, sess *domainauth.Session, notify bool) {
	f.seeded = true
	if sess != nil {
		cp := *sess
		f.session = &cp
	} else {
		f.session = nil
	}
	h.scheduleExpiryLocked(f)

	next := f.principal(time.Now())
	if !notify {
		f.last = next
		return
	}
	if samePrincipal(f.last, next) {
		return
	}
	f.last = next
	h.enqueueLocked(f, event{principal: next})
}

func (h *Hub) scheduleExpiryLocked(f *feed) {
	if f.expiry != nil {
		f.expiry.Stop()
		f.expiry = nil
	}
	if f.session == nil || f.session.ExpiresAt.IsZero() {
		return
	}
	wait := time.Until(f.session.ExpiresAt)
	if wait <= 0 {
		return
	}
	expiresAt := f.session.ExpiresAt
	f.expiry = time.AfterFunc(wait, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.feeds[f.sessionID] != f || f.session == nil || !f.session.ExpiresAt.Equal(expiresAt) {
			return
		}
		h.setLocked(f, nil, true)
	})
}

func (h *Hub) current(sessionID string) (domainauth.Principal, bool) {
	h.mu.Lock()
	f, ok := h.feeds[sessionID]
	seeded := ok && f.seeded
	var p *domainauth.Principal
	if seeded {
		p = f.principal(time.Now())
	}
	h.mu.Unlock()

	if !seeded {
		// Feed was dropped after its last subscriber left; fall back to the store.
		if sess := h.load(context.Background(), sessionID); sess != nil {
			return sess.Principal(), true
		}
		return domainauth.Principal{}, false
	}
	if p == nil {
		return domainauth.Principal{}, false
	}
	return *p, true
}

func (h *Hub) subscribe(sessionID string, fn func(*domainauth.Principal)) func() {
	h.mu.Lock()
	f, ok := h.feeds[sessionID]
	if !ok {
		f = &feed{sessionID: sessionID}
		h.feeds[sessionID] = f
	}
	h.nextID++
	id := h.nextID
	f.subs = append(f.subs, subscriber{id: id, fn: fn})
	h.enqueueLocked(f, event{current: true, target: id})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(f, id) })
	}
}

func (h *Hub) unsubscribe(f *feed, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			break
		}
	}
	if len(f.subs) == 0 && h.feeds[f.sessionID] == f {
		delete(h.feeds, f.sessionID)
		if f.expiry != nil {
			f.expiry.Stop()
			f.expiry = nil
		}
	}
}

func (h *Hub) enqueueLocked(f *feed, ev event) {
	f.queue = append(f.queue, ev)
	if !f.draining {
		f.draining = true
		go h.drain(f)
	}
}

// drain delivers queued events one at a time, in order. Exactly one drain
// goroutine runs per feed while its queue is non-empty.
func (h *Hub) drain(f *feed) {
	for {
		h.mu.Lock()
		if len(f.queue) == 0 {
			f.draining = false
			h.mu.Unlock()
			return
		}
		ev := f.queue[0]
		f.queue = f.queue[1:]

		if ev.current && !f.seeded {
			h.mu.Unlock()
			sess := h.load(context.Background(), f.sessionID)
			h.mu.Lock()
			if !f.seeded {
				h.setLocked(f, sess, false)
			}
		}

		p := ev.principal
		if ev.current {
			p = f.principal(time.Now())
		}
		targets := make([]func(*domainauth.Principal), 0, len(f.subs))
		for _, s := range f.subs {
			if ev.target == 0 || ev.target == s.id {
				targets = append(targets, s.fn)
			}
		}
		h.mu.Unlock()

		for _, fn := range targets {
			fn(clonePrincipal(p))
		}
	}
}

type subscriber struct {
	id uint64
	fn func(*domainauth.Principal)
}

// event is one queued delivery. current means "whatever the feed holds at
// delivery time"; target restricts delivery to one subscriber.
type event struct {
	principal *domainauth.Principal
	current   bool
	target    uint64
}

type feed struct {
	sessionID string
	seeded    bool
	session   *domainauth.Session
	last      *domainauth.Principal
	expiry    *time.Timer
	subs      []subscriber
	queue     []event
	draining  bool
}

func (f *feed) principal(now time.Time) *domainauth.Principal {
	if f.session == nil || f.session.UserID == "" {
		return nil
	}
	if !f.session.ExpiresAt.IsZero() && now.After(f.session.ExpiresAt) {
		return nil
	}
	p := f.session.Principal()
	return &p
}

// provider is the per-session view handed to listeners. It resolves the feed
// on every call so it keeps working if the feed is dropped and recreated.
type provider struct {
	hub       *Hub
	sessionID string
}

func (p *provider) CurrentPrincipal() (domainauth.Principal, bool) {
	return p.hub.current(p.sessionID)
}

func (p *provider) Subscribe(fn func(*domainauth.Principal)) func() {
	return p.hub.subscribe(p.sessionID, fn)
}

func samePrincipal(a, b *domainauth.Principal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePrincipal(p *domainauth.Principal) *domainauth.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

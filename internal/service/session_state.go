package service

import (
	"context"
	"sync"
	"sync/atomic"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
)

// sessionSnapshot is what one listener invocation resolved: the principal it
// handled ("" when signed out) and the record it settled on.
type sessionSnapshot struct {
	subject string
	record  *domainauth.AuthorizationRecord
}

// SessionState holds the authorization record of one browsing session and a
// one-shot readiness flag. Reads never block; the IdentityListener that owns the
// state is its only writer and replaces the whole snapshot per notification.
type SessionState struct {
	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once
	snap      atomic.Pointer[sessionSnapshot]

	mu      sync.Mutex
	changed chan struct{}
}

// NewSessionState returns an empty, not-yet-ready state.
func NewSessionState() *SessionState {
	s := &SessionState{
		readyCh: make(chan struct{}),
		changed: make(chan struct{}),
	}
	s.snap.Store(&sessionSnapshot{})
	return s
}

// Ready reports whether the identity subscription has resolved at least once.
func (s *SessionState) Ready() bool {
	return s.ready.Load()
}

// Record returns the cached authorization record, if any.
func (s *SessionState) Record() (domainauth.AuthorizationRecord, bool) {
	snap := s.snap.Load()
	if snap.record == nil {
		return domainauth.AuthorizationRecord{}, false
	}
	return *snap.record, true
}

// Subject returns the uid of the principal the latest notification was about,
// or "" if it reported nobody.
func (s *SessionState) Subject() string {
	return s.snap.Load().subject
}

// WaitReady blocks until the state is ready or ctx is done.
func (s *SessionState) WaitReady(ctx context.Context) error {
	if s.Ready() {
		return nil
	}
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitSettled blocks until the state is ready and its latest resolution is about
// uid ("" meaning signed out), or ctx is done.
func (s *SessionState) WaitSettled(ctx context.Context, uid string) error {
	for {
		ch := s.changedCh()
		if s.Ready() && s.Subject() == uid {
			return nil
		}
		readyCh := s.readyCh
		if s.Ready() {
			// Ready is final; only a new resolution can help now.
			readyCh = nil
		}
		select {
		case <-ch:
		case <-readyCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *SessionState) changedCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// resolve publishes the outcome of one listener invocation. rec == nil clears the record.
func (s *SessionState) resolve(subject string, rec *domainauth.AuthorizationRecord) {
	var stored *domainauth.AuthorizationRecord
	if rec != nil {
		cp := *rec
		stored = &cp
	}
	s.snap.Store(&sessionSnapshot{subject: subject, record: stored})

	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// markReady flips ready exactly once and reports whether this call did it.
func (s *SessionState) markReady() bool {
	flipped := false
	s.readyOnce.Do(func() {
		s.ready.Store(true)
		close(s.readyCh)
		flipped = true
	})
	return flipped
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/observability/metrics"
	"github.com/nwatch/neighborwatch/internal/observability/statsd"
	"github.com/nwatch/neighborwatch/internal/ports"
)

// RecordCacheKey is the session cache key holding the serialized authorization record.
const RecordCacheKey = "auth_record"

const defaultFetchTimeout = 3 * time.Second

// IdentityListenerOptions groups dependencies for IdentityListener.
type IdentityListenerOptions struct {
	Identity     ports.IdentityProvider
	Records      ports.RecordStore
	Cache        ports.SessionCache
	State        *SessionState
	FetchTimeout time.Duration
	Logger       *slog.Logger
	// Metrics receives listener.record counts and fetch timings. Optional.
	Metrics statsd.Sink
}

// IdentityListener keeps a SessionState in step with principal changes reported
// by the identity provider, mirroring the record into the session cache.
type IdentityListener struct {
	identity     ports.IdentityProvider
	records      ports.RecordStore
	cache        ports.SessionCache
	state        *SessionState
	fetchTimeout time.Duration
	logger       *slog.Logger
	metrics      statsd.Sink

	mu          sync.Mutex
	ctx         context.Context
	started     bool
	stopped     bool
	unsubscribe func()
}

// NewIdentityListener constructs a listener. Call Start to subscribe.
func NewIdentityListener(opts IdentityListenerOptions) *IdentityListener {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &IdentityListener{
		identity:     opts.Identity,
		records:      opts.Records,
		cache:        opts.Cache,
		state:        opts.State,
		fetchTimeout: timeout,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// Start subscribes to the identity provider. ctx scopes every record fetch and
// cache call made on behalf of a notification. Calling Start twice is a no-op.
func (l *IdentityListener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.ctx = ctx
	l.mu.Unlock()

	// Providers may deliver the first notification before Subscribe returns.
	unsub := l.identity.Subscribe(l.handle)

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		unsub()
		return
	}
	l.unsubscribe = unsub
	l.mu.Unlock()
}

// Stop ends the subscription. A stopped listener cannot be restarted.
func (l *IdentityListener) Stop() {
	l.mu.Lock()
	l.stopped = true
	unsub := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (l *IdentityListener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *IdentityListener) baseContext() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		return context.Background()
	}
	return l.ctx
}

// handle processes one principal change to completion and publishes the
// outcome to the state in a single write.
func (l *IdentityListener) handle(p *domainauth.Principal) {
	ctx := l.baseContext()
	subject, rec := l.resolve(ctx, p)
	l.state.resolve(subject, rec)
	if l.state.markReady() {
		l.logger.DebugContext(ctx, "session state ready")
	}
}

func (l *IdentityListener) resolve(ctx context.Context, p *domainauth.Principal) (string, *domainauth.AuthorizationRecord) {
	if p == nil || p.UID == "" {
		if err := l.cache.Remove(ctx, RecordCacheKey); err != nil {
			l.logger.WarnContext(ctx, "clear cached authorization record failed", "error", err)
		}
		return "", nil
	}

	if rec, ok := l.cachedRecord(ctx, *p); ok {
		metrics.EmitRecordLookup(l.metrics, metrics.RecordLookup{Result: metrics.LookupHit})
		return p.UID, &rec
	}

	start := time.Now()
	rec, err := l.fetch(ctx, *p)
	lookup := metrics.RecordLookup{Result: metrics.LookupMiss, Duration: time.Since(start)}
	defer func() { metrics.EmitRecordLookup(l.metrics, lookup) }()
	switch {
	case err == nil:
		l.storeRecord(ctx, rec)
		return p.UID, &rec
	case errors.Is(err, ports.ErrRecordNotFound):
		lookup.Result = metrics.LookupNotFound
		l.logger.InfoContext(ctx, "no authorization record for principal", "uid", p.UID)
	default:
		lookup.Result = metrics.LookupError
		l.logger.WarnContext(ctx, "fetch authorization record failed", "uid", p.UID, "error", err)
	}
	return p.UID, nil
}

func (l *IdentityListener) fetch(ctx context.Context, p domainauth.Principal) (domainauth.AuthorizationRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	rec, err := l.records.GetRecord(fetchCtx, p.UID)
	if err != nil {
		return domainauth.AuthorizationRecord{}, fmt.Errorf("get record: %w", err)
	}
	rec.UID = p.UID
	if rec.Email == "" {
		rec.Email = p.Email
	}
	return rec, nil
}

// cachedRecord returns the cached record for p. Anything unreadable, or a record
// belonging to another principal, counts as a miss and is dropped.
func (l *IdentityListener) cachedRecord(ctx context.Context, p domainauth.Principal) (domainauth.AuthorizationRecord, bool) {
	raw, err := l.cache.Get(ctx, RecordCacheKey)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			l.logger.WarnContext(ctx, "read cached authorization record failed", "error", err)
		}
		return domainauth.AuthorizationRecord{}, false
	}

	var rec domainauth.AuthorizationRecord
	if jsonErr := json.Unmarshal([]byte(raw), &rec); jsonErr != nil || rec.UID != p.UID {
		l.logger.WarnContext(ctx, "discarding unusable cached authorization record", "uid", p.UID)
		if rmErr := l.cache.Remove(ctx, RecordCacheKey); rmErr != nil {
			l.logger.WarnContext(ctx, "clear cached authorization record failed", "error", rmErr)
		}
		return domainauth.AuthorizationRecord{}, false
	}
	return rec, true
}

func (l *IdentityListener) storeRecord(ctx context.Context, rec domainauth.AuthorizationRecord) {
	if l.isStopped() {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.logger.WarnContext(ctx, "marshal authorization record failed", "error", err)
		return
	}
	if setErr := l.cache.Set(ctx, RecordCacheKey, string(data)); setErr != nil {
		l.logger.WarnContext(ctx, "cache authorization record failed", "error", setErr)
	}
}

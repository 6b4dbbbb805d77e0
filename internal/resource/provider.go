package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/cache"
	"github.com/seopilot/seopilot/internal/fault"
)

// ProviderConfig tunes caching, retries and timeouts.
type ProviderConfig struct {
	CacheTTL       time.Duration
	FallbackTTL    time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

// Defaults fills unset fields with the standard values.
func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.FallbackTTL == 0 {
		c.FallbackTTL = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 8 * time.Second
	}
	return c
}

// cachedEnvelope is the serialized form stored in the cache.
type cachedEnvelope struct {
	Payload   map[string]any `json:"payload"`
	Source    ResponseSource `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// inflightCall coalesces concurrent fetches for one cache key. All
// waiters observe the same response or the same error.
type inflightCall struct {
	done chan struct{}
	resp *Response
	err  error
}

// Provider is the resource-provider core: cache-first lookup,
// singleflight coalescing, bounded retries with exponential backoff,
// and graceful fallback to the local substitute.
type Provider struct {
	componentID string
	primary     Source
	fallback    Source
	store       cache.Cache
	cfg         ProviderConfig
	health      *healthState
	logger      *zap.Logger

	mu       chan struct{} // guards inflight; a channel so waiters never hold it across I/O
	inflight map[string]*inflightCall

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProvider wires a provider for one agent or one shared instance.
// fallback must be dependency-free; it is the last line before a
// request fails.
func NewProvider(componentID string, primary, fallback Source, store cache.Cache, cfg ProviderConfig, logger *zap.Logger) *Provider {
	p := &Provider{
		componentID: componentID,
		primary:     primary,
		fallback:    fallback,
		store:       store,
		cfg:         cfg.withDefaults(),
		health:      newHealthState(componentID),
		logger:      logger,
		mu:          make(chan struct{}, 1),
		inflight:    make(map[string]*inflightCall),
		sleep:       sleepCtx,
	}
	return p
}

// Fetch resolves a resource request: cache, then primary with retries,
// then fallback. Identical concurrent requests share one underlying
// fetch.
func (p *Provider) Fetch(ctx context.Context, req Request) (*Response, error) {
	if _, err := ParseType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, fault.New(fault.KindValidation, "resource", "empty resource key")
	}

	key := req.CacheKey()
	if resp := p.cacheLookup(ctx, key); resp != nil {
		return resp, nil
	}

	call, leader := p.joinInflight(key)
	if !leader {
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := p.fetchAndCache(ctx, req, key)
	call.resp, call.err = resp, err
	close(call.done)

	p.lock()
	delete(p.inflight, key)
	p.unlock()

	return resp, err
}

// HealthCheck returns the current rolling record without touching any
// external source.
func (p *Provider) HealthCheck() HealthRecord {
	return p.health.record()
}

func (p *Provider) lock()   { p.mu <- struct{}{} }
func (p *Provider) unlock() { <-p.mu }

// joinInflight attaches to an existing in-flight call for key, or
// registers a new one. The second return is true for the leader that
// must perform the fetch.
func (p *Provider) joinInflight(key string) (*inflightCall, bool) {
	p.lock()
	defer p.unlock()
	if call, ok := p.inflight[key]; ok {
		return call, false
	}
	call := &inflightCall{done: make(chan struct{})}
	p.inflight[key] = call
	return call, true
}

func (p *Provider) cacheLookup(ctx context.Context, key string) *Response {
	raw, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var env cachedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		_ = p.store.Delete(ctx, key)
		return nil
	}
	return &Response{Payload: env.Payload, Source: SourceCache, FetchedAt: env.FetchedAt}
}

// fetchAndCache drives the primary-with-retries then fallback path for
// a single coalesced request.
func (p *Provider) fetchAndCache(ctx context.Context, req Request, key string) (*Response, error) {
	payload, err := p.fetchPrimary(ctx, req)
	if err == nil {
		p.health.recordPrimarySuccess()
		resp := &Response{Payload: payload, Source: SourcePrimary, FetchedAt: time.Now()}
		p.cacheStore(ctx, key, resp, p.cfg.CacheTTL)
		return resp, nil
	}

	if fault.KindOf(err) == fault.KindValidation {
		// Caller bug, not source health. Surface without fallback so
		// programming errors are never masked by substitute data.
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.health.recordPrimaryFailure()
	p.logger.Warn("primary source exhausted, using fallback",
		zap.String("type", string(req.Type)),
		zap.String("key", req.Key),
		zap.Error(err))

	fbCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	payload, fbErr := p.fallback.Fetch(fbCtx, req)
	if fbErr != nil {
		p.health.recordFallbackFailure()
		return nil, fault.Wrap(fault.KindTransient, "resource.fallback_failed",
			fmt.Errorf("primary: %v; fallback: %w", err, fbErr))
	}
	p.health.recordFallbackSuccess()

	resp := &Response{Payload: payload, Source: SourceFallback, FetchedAt: time.Now()}
	// Shorter TTL so the primary source is re-attempted soon.
	ttl := p.cfg.FallbackTTL
	if p.cfg.CacheTTL < ttl {
		ttl = p.cfg.CacheTTL
	}
	p.cacheStore(ctx, key, resp, ttl)
	return resp, nil
}

func (p *Provider) fetchPrimary(ctx context.Context, req Request) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		payload, err := p.primary.Fetch(attemptCtx, req)
		cancel()
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !fault.IsTransient(err) {
			// Malformed requests and cancellations are not retried.
			return nil, err
		}
		p.logger.Debug("primary fetch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("key", req.Key),
			zap.Error(err))
	}
	return nil, lastErr
}

func (p *Provider) backoff(attempt int) time.Duration {
	d := p.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.BackoffCap {
			return p.cfg.BackoffCap
		}
	}
	if d > p.cfg.BackoffCap {
		d = p.cfg.BackoffCap
	}
	return d
}

func (p *Provider) cacheStore(ctx context.Context, key string, resp *Response, ttl time.Duration) {
	raw, err := json.Marshal(cachedEnvelope{
		Payload:   resp.Payload,
		Source:    resp.Source,
		FetchedAt: resp.FetchedAt,
	})
	if err != nil {
		p.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := p.store.Set(ctx, key, raw, ttl); err != nil {
		p.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

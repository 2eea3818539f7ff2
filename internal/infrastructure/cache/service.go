package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coreapp/internal/core/clock"
	"coreapp/pkg/logger"
)

// Config holds cache service settings.
type Config struct {
	// DisableThreshold is the staleness after which protected classes
	// are refused. Zero means DefaultDisableThreshold.
	DisableThreshold time.Duration

	// ProtectedClasses lists the operation classes guarded by the
	// availability gate. Empty means just ClassSales.
	ProtectedClasses []string

	// CompressThreshold is the value size in bytes above which values
	// are zstd-compressed. Zero means the 10KB default.
	CompressThreshold int
}

// Service is the resilient cache facade. Read and write failures are
// absorbed: callers see miss/false while the TTL fallback ladder climbs.
// The availability gate is evaluated lazily from the wall clock and the
// last successful refresh, never from the current failure streak.
type Service struct {
	store Store
	codec *codec
	clk   clock.Clock
	log   *logger.Logger

	mu          sync.Mutex
	level       int
	lastSuccess time.Time
	gates       map[string]*gateState
}

// NewService creates the cache service around a backing store.
func NewService(store Store, cfg Config, log *logger.Logger, clk clock.Clock) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("cache: store is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.System()
	}

	codec, err := newCodec(cfg.CompressThreshold)
	if err != nil {
		return nil, err
	}

	threshold := cfg.DisableThreshold
	if threshold <= 0 {
		threshold = DefaultDisableThreshold
	}
	classes := cfg.ProtectedClasses
	if len(classes) == 0 {
		classes = []string{ClassSales}
	}

	gates := make(map[string]*gateState, len(classes))
	for _, class := range classes {
		gates[class] = &gateState{threshold: threshold, wasOpen: true}
	}

	initMetrics()

	s := &Service{
		store: store,
		codec: codec,
		clk:   clk,
		log:   log.WithComponent("cache"),
		// A fresh service starts with a full grace window, so the gate
		// cannot trip before the store had a chance to be written at all.
		lastSuccess: clk.Now(),
		gates:       gates,
	}

	cacheFallbackLevel.Set(0)
	for class := range gates {
		cacheGateOpen.WithLabelValues(class).Set(1)
	}

	return s, nil
}

// Get returns the cached value. Any store failure is reported as a miss;
// the caller cannot distinguish an outage from an absent key.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	raw, err := s.store.Get(ctx, key)
	cacheOpDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == ErrNotFound {
		cacheRequestsTotal.WithLabelValues("get", "miss").Inc()
		return nil, false
	}
	if err != nil {
		s.recordFailure("get", err)
		return nil, false
	}

	value, err := s.codec.decode(raw)
	if err != nil {
		// A corrupt entry is dropped so it cannot poison later reads.
		s.log.Warnw("dropping undecodable cache entry", "key", key, "error", err)
		_ = s.store.Delete(ctx, key)
		cacheRequestsTotal.WithLabelValues("get", "miss").Inc()
		return nil, false
	}

	cacheRequestsTotal.WithLabelValues("get", "hit").Inc()
	return value, true
}

// Set stores the value. Zero ttl uses the ladder's current TTL; an
// explicit caller TTL wins. Returns false when the store rejected the
// write, after advancing the fallback ladder.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.CurrentTTL()
	}

	start := time.Now()
	err := s.store.Set(ctx, key, s.codec.encode(value), ttl)
	cacheOpDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		s.recordFailure("set", err)
		return false
	}

	s.recordRefreshSuccess()
	cacheRequestsTotal.WithLabelValues("set", "ok").Inc()
	return true
}

// Delete removes one key. Unlike Get/Set the error is returned: the
// unit of work needs to know whether its invalidations were applied.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		s.recordFailure("delete", err)
		return err
	}
	cacheRequestsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// DeletePrefix removes every key under prefix.
func (s *Service) DeletePrefix(ctx context.Context, prefix string) error {
	if err := s.store.DeletePrefix(ctx, prefix); err != nil {
		s.recordFailure("delete_prefix", err)
		return err
	}
	cacheRequestsTotal.WithLabelValues("delete_prefix", "ok").Inc()
	return nil
}

// Flush clears the whole cache.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.store.Flush(ctx); err != nil {
		s.recordFailure("flush", err)
		return err
	}
	cacheRequestsTotal.WithLabelValues("flush", "ok").Inc()
	return nil
}

// ApplyInvalidations resolves committed invalidation patterns into store
// calls. A trailing '*' makes the pattern a prefix wipe. The first failed
// pattern aborts and is reported to the caller.
func (s *Service) ApplyInvalidations(ctx context.Context, patterns []string) error {
	for _, p := range patterns {
		var err error
		if strings.HasSuffix(p, "*") {
			err = s.DeletePrefix(ctx, strings.TrimSuffix(p, "*"))
		} else {
			err = s.Delete(ctx, p)
		}
		if err != nil {
			return fmt.Errorf("apply invalidation %q: %w", p, err)
		}
	}
	return nil
}

// CurrentTTL returns the ladder TTL for the current fallback level.
func (s *Service) CurrentTTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fallbackLadder[s.level]
}

// IsGateOpen reports whether the protected class may run. Classes not
// registered as protected are always allowed. The answer depends only
// on the clock, the last successful refresh and the manual kill switch,
// not on how the store is failing right now.
func (s *Service) IsGateOpen(class string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[class]
	if !ok {
		return true
	}

	open := !g.disabled && s.clk.Now().Sub(s.lastSuccess) < g.threshold
	s.noteGateTransition(class, g, open)
	return open
}

// ForceEnable is the audited administrative override: it restarts the
// staleness window and clears every manual kill switch, reopening all
// gates immediately.
func (s *Service) ForceEnable(ctx context.Context, actor, reason string) {
	s.mu.Lock()
	s.lastSuccess = s.clk.Now()
	for class, g := range s.gates {
		g.disabled = false
		s.noteGateTransition(class, g, true)
	}
	s.mu.Unlock()

	cacheForceEnableTot.Inc()
	s.log.WithContext(ctx).Warnw("availability gate force-enabled",
		"actor", actor,
		"reason", reason,
	)
}

// ForceDisable closes one protected class until ForceEnable. Audited the
// same way as ForceEnable.
func (s *Service) ForceDisable(ctx context.Context, class, actor, reason string) error {
	s.mu.Lock()
	g, ok := s.gates[class]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("cache: class %q is not protected", class)
	}
	g.disabled = true
	s.noteGateTransition(class, g, false)
	s.mu.Unlock()

	s.log.WithContext(ctx).Warnw("availability gate force-disabled",
		"class", class,
		"actor", actor,
		"reason", reason,
	)
	return nil
}

// Health returns a consistent snapshot for the ops surface.
func (s *Service) Health() HealthSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	snap := HealthSnapshot{
		Enabled:              true,
		FallbackLevel:        s.level,
		CurrentTTL:           fallbackLadder[s.level],
		LastSuccessfulUpdate: s.lastSuccess,
	}

	for class, g := range s.gates {
		open := !g.disabled && now.Sub(s.lastSuccess) < g.threshold
		if g.disabled {
			snap.Enabled = false
		}
		if !open {
			snap.GateTripped = true
		}
		snap.Classes = append(snap.Classes, GateStatus{
			Class:     class,
			Open:      open,
			Threshold: g.threshold,
			StaleFor:  now.Sub(s.lastSuccess),
		})
	}
	sort.Slice(snap.Classes, func(i, j int) bool {
		return snap.Classes[i].Class < snap.Classes[j].Class
	})

	return snap
}

// Ping checks the backing store directly, bypassing health bookkeeping.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases the backing store.
func (s *Service) Close() error {
	return s.store.Close()
}

// recordFailure advances the ladder one level, capped at the last rung.
func (s *Service) recordFailure(op string, err error) {
	s.mu.Lock()
	prev := s.level
	if s.level < len(fallbackLadder)-1 {
		s.level++
	}
	level := s.level
	s.mu.Unlock()

	cacheRequestsTotal.WithLabelValues(op, "error").Inc()
	cacheFallbackLevel.Set(float64(level))

	if level != prev {
		s.log.Warnw("cache store failure, extending TTL",
			"op", op,
			"error", err,
			"fallback_level", level,
			"ttl", fallbackLadder[level].String(),
		)
	} else {
		s.log.Debugw("cache store failure at ladder cap", "op", op, "error", err)
	}
}

// recordRefreshSuccess resets the ladder and restarts the staleness window.
func (s *Service) recordRefreshSuccess() {
	s.mu.Lock()
	recovered := s.level != 0
	s.level = 0
	s.lastSuccess = s.clk.Now()
	for class, g := range s.gates {
		if !g.disabled {
			s.noteGateTransition(class, g, true)
		}
	}
	s.mu.Unlock()

	cacheFallbackLevel.Set(0)
	if recovered {
		s.log.Infow("cache store recovered, TTL back to base",
			"ttl", fallbackLadder[0].String(),
		)
	}
}

// noteGateTransition logs open/close edges exactly once. Callers hold s.mu.
func (s *Service) noteGateTransition(class string, g *gateState, open bool) {
	if open == g.wasOpen {
		return
	}
	g.wasOpen = open

	if open {
		cacheGateOpen.WithLabelValues(class).Set(1)
		s.log.Infow("availability gate reopened", "class", class)
	} else {
		cacheGateOpen.WithLabelValues(class).Set(0)
		s.log.Warnw("availability gate closed",
			"class", class,
			"stale_for", s.clk.Now().Sub(s.lastSuccess).String(),
			"threshold", g.threshold.String(),
		)
	}
}

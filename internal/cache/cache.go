package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrTypeMismatch is returned by Fetch when a key holds a value of another type.
var ErrTypeMismatch = errors.New("cache entry has unexpected type")

// flightRetries bounds how often a caller re-joins a key after the shared
// computation was cancelled by another caller's context.
const flightRetries = 3

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) fresh(now time.Time) bool { return now.Sub(e.storedAt) < e.ttl }

// Store is an in-process TTL cache. Expired entries are treated as absent on
// read and removed by Prune; until then they serve as a fallback when a
// refresh fails.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]entry
	group    singleflight.Group
	ttl      time.Duration
	classify func(key string) string
	now      func() time.Time
	log      *zap.Logger

	// gen counts removals. A flight that started before one does not store
	// its result.
	gen uint64
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithClassifier sets the function that maps a key to its namespace in Stats.
func WithClassifier(fn func(key string) string) Option { return func(s *Store) { s.classify = fn } }

func WithLogger(log *zap.Logger) Option { return func(s *Store) { s.log = log.Named("cache") } }

func New(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]entry),
		ttl:      ttl,
		classify: prefixNamespace,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func prefixNamespace(key string) string {
	if i := strings.IndexByte(key, '_'); i > 0 {
		return key[:i]
	}
	return "other"
}

// TTL is the default time-to-live for data entries.
func (s *Store) TTL() time.Duration { return s.ttl }

// ── Reads and writes ──────────────────────────────────────────────────────────

// Get returns the value for key if it has not expired.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !e.fresh(s.now()) {
		return nil, false
	}
	return e.value, true
}

// stale returns the value for key regardless of expiry.
func (s *Store) stale(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e.value, ok
}

// Set stores value under key. A non-positive ttl means the default TTL.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, storedAt: s.now(), ttl: ttl}
	s.mu.Unlock()
}

func (s *Store) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// setSince stores value unless something was removed after gen was read.
func (s *Store) setSince(gen uint64, key string, value any, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.entries[key] = entry{value: value, storedAt: s.now(), ttl: ttl}
	return true
}

// Update replaces the value under key with fn(old) atomically. ok is false
// when there is no fresh entry. A fresh entry keeps its original expiry; a
// new one gets ttl (the default TTL if ttl <= 0).
func (s *Store) Update(key string, ttl time.Duration, fn func(old any, ok bool) any) any {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && !e.fresh(now) {
		ok = false
	}
	v := fn(e.value, ok)
	if ok {
		e.value = v
	} else {
		e = entry{value: v, storedAt: now, ttl: ttl}
	}
	s.entries[key] = e
	return v
}

func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.gen++
	return ok
}

// Clear drops every entry and returns how many there were.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]entry)
	s.gen++
	return n
}

// Prune removes entries that expired more than grace ago.
func (s *Store) Prune(grace time.Duration) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if now.Sub(e.storedAt) >= e.ttl+grace {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Invalidate removes every key starting with prefix and returns the removed
// keys in sorted order.
func (s *Store) Invalidate(prefix string) []string {
	return s.InvalidateFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

func (s *Store) InvalidateFunc(match func(key string) bool) []string {
	s.mu.Lock()
	removed := []string{}
	for k := range s.entries {
		if match(k) {
			delete(s.entries, k)
			removed = append(removed, k)
		}
	}
	s.gen++
	s.mu.Unlock()
	sort.Strings(removed)
	return removed
}

// ── Get-or-compute ────────────────────────────────────────────────────────────

// GetOrCompute returns the cached value for key, or runs fn once across all
// concurrent callers and stores its result for ttl (the default TTL if
// ttl <= 0). Errors are never stored.
func (s *Store) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.GetOrComputeTTL(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		v, err := fn(ctx)
		return v, ttl, err
	})
}

// GetOrComputeTTL is GetOrCompute where fn picks the TTL. A non-positive TTL
// returns the value to every waiter without storing it.
func (s *Store) GetOrComputeTTL(ctx context.Context, key string, fn func(ctx context.Context) (any, time.Duration, error)) (any, error) {
	for attempt := 0; ; attempt++ {
		if v, ok := s.Get(key); ok {
			s.log.Debug("cache hit", zap.String("key", key))
			return v, nil
		}

		ch := s.group.DoChan(key, func() (any, error) {
			// A flight that finished just before this one may have stored it.
			if v, ok := s.Get(key); ok {
				return v, nil
			}
			s.log.Debug("cache miss", zap.String("key", key))
			gen := s.generation()
			v, ttl, err := fn(ctx)
			if err != nil {
				if old, ok := s.stale(key); ok {
					s.log.Warn("refresh failed, serving stale entry", zap.String("key", key), zap.Error(err))
					return old, nil
				}
				return nil, err
			}
			if ttl > 0 && !s.setSince(gen, key, v, ttl) {
				s.log.Debug("cache cleared during compute, result not stored", zap.String("key", key))
			}
			return v, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil && attempt < flightRetries && ctx.Err() == nil && isCancellation(res.Err) {
				// The leader's caller went away; this caller still wants the value.
				continue
			}
			return res.Val, res.Err
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fetch is GetOrCompute with a typed result.
func Fetch[T any](ctx context.Context, s *Store, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := s.GetOrCompute(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	return typed[T](key, v, err)
}

// FetchTTL is GetOrComputeTTL with a typed result.
func FetchTTL[T any](ctx context.Context, s *Store, key string, fn func(ctx context.Context) (T, time.Duration, error)) (T, error) {
	v, err := s.GetOrComputeTTL(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		return fn(ctx)
	})
	return typed[T](key, v, err)
}

// Peek returns a fresh typed value without computing anything.
func Peek[T any](s *Store, key string) (T, bool) {
	v, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func typed[T any](key string, v any, err error) (T, error) {
	var zero T
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T, want %T", ErrTypeMismatch, key, v, zero)
	}
	return t, nil
}

// ── Stats ─────────────────────────────────────────────────────────────────────

type Stats struct {
	Entries   int            `json:"total_entries"`
	Stale     int            `json:"stale_entries"`
	TTLHours  float64        `json:"cache_ttl_hours"`
	Breakdown map[string]int `json:"breakdown"`
}

// Stats counts fresh entries per namespace. Expired entries awaiting Prune
// are reported separately.
func (s *Store) Stats() Stats {
	now := s.now()
	st := Stats{TTLHours: s.ttl.Hours(), Breakdown: make(map[string]int)}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, e := range s.entries {
		if !e.fresh(now) {
			st.Stale++
			continue
		}
		st.Entries++
		st.Breakdown[s.classify(k)]++
	}
	return st
}

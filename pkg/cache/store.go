// Package cache keeps a local copy of a server-owned collection fresh using a
// stale-while-revalidate policy, and applies optimistic mutations to it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
)

// Loader fetches the collection matching params from the server.
type Loader[P comparable, T types.Keyed] func(ctx context.Context, params P) ([]T, error)

// Config holds the configuration for a Store.
type Config struct {
	// TTL is how long a successful fetch is considered fresh.
	TTL time.Duration
	// BackgroundTimeout bounds a background revalidation request.
	BackgroundTimeout time.Duration
	// Now replaces time.Now, mainly for tests.
	Now func() time.Time
}

// Collection is a read-only snapshot of a Store.
type Collection[T types.Keyed] struct {
	Items         []T
	LastFetchedAt time.Time
	FetchInFlight bool
	Version       uint64
	Err           error
}

// Store holds the last known collection for one resource type. Only the
// default parameter set is cached; fetches with other parameters are
// answered directly and never written to the store.
//
// Every write bumps Version. A response is only written if Version is still
// the one observed when its request was issued, so a slow response can never
// overwrite newer data. Reset additionally starts a new epoch: nothing begun
// before it, fetch or mutation, may write to the store afterwards.
type Store[P comparable, T types.Keyed] struct {
	cfg      Config
	loader   Loader[P, T]
	defaults P
	logger   zerolog.Logger

	mu            sync.Mutex
	items         []T
	lastFetchedAt time.Time
	inFlight      bool
	refreshQueued bool
	version       uint64
	epoch         uint64
	err           error
	// errFromFetch marks err as a fetch failure, which the next successful
	// fetch clears. Mutation failures stay until the mutation path clears them.
	errFromFetch bool

	// background counts running revalidations; idle is signalled when it
	// drops to zero.
	background int
	idle       *sync.Cond
}

// ticket identifies the state a default fetch was issued against.
type ticket struct {
	version uint64
	epoch   uint64
}

// NewStore creates a Store whose cached entry is the result of loader(defaults).
func NewStore[P comparable, T types.Keyed](cfg Config, loader Loader[P, T], defaults P, logger zerolog.Logger) (*Store[P, T], error) {
	if loader == nil {
		return nil, fmt.Errorf("loader cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Store[P, T]{
		cfg:      cfg,
		loader:   loader,
		defaults: defaults,
		logger:   logger.With().Str("component", "CacheStore").Logger(),
	}
	s.idle = sync.NewCond(&s.mu)
	return s, nil
}

// Fetch returns the collection for params.
//
// While a fetch is in flight the cached snapshot is returned without a new
// request, whatever params are. For the default params a fresh, non-empty
// cache is returned immediately and one background revalidation starts;
// otherwise the request is awaited and its result stored. Other params are
// always awaited and never stored.
func (s *Store[P, T]) Fetch(ctx context.Context, params P) (Collection[T], error) {
	s.mu.Lock()
	if s.inFlight {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Debug().Msg("Fetch already in flight, serving cached collection.")
		return snap, nil
	}

	if params != s.defaults {
		s.mu.Unlock()
		return s.fetchTransient(ctx, params)
	}

	fresh := !s.lastFetchedAt.IsZero() && s.cfg.Now().Sub(s.lastFetchedAt) < s.cfg.TTL
	if fresh && len(s.items) > 0 {
		t := s.beginBackgroundLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Debug().Int("items", len(snap.Items)).Msg("Cache hit, revalidating in background.")
		go s.revalidate(t)
		return snap, nil
	}

	t := s.beginLocked()
	s.mu.Unlock()
	return s.load(ctx, t)
}

// Refresh fetches the default collection and awaits the result. If a fetch is
// already in flight, a single follow-up fetch is queued to start when it
// settles and Refresh returns immediately.
func (s *Store[P, T]) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.refreshQueued = true
		s.mu.Unlock()
		s.logger.Debug().Msg("Fetch in flight, queued a follow-up refresh.")
		return nil
	}
	t := s.beginLocked()
	s.mu.Unlock()

	_, err := s.load(ctx, t)
	return err
}

// Invalidate marks the cached collection stale so the next Fetch awaits the server.
func (s *Store[P, T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetchedAt = time.Time{}
}

// Reset drops all cached state. Responses to requests issued before the
// reset are discarded, and pending mutations can no longer roll back into it.
func (s *Store[P, T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.lastFetchedAt = time.Time{}
	s.refreshQueued = false
	s.err = nil
	s.errFromFetch = false
	s.version++
	s.epoch++
}

// Remove drops the cached items with the given keys, typically the ids a
// batch deletion reported as deleted. It returns how many were removed.
func (s *Store[P, T]) Remove(ids ...string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	removed := 0
	s.mutate(func(items []T) ([]T, bool) {
		kept := make([]T, 0, len(items))
		for _, item := range items {
			if _, ok := drop[item.Key()]; ok {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		return kept, removed > 0
	})
	return removed
}

// Wait blocks until all background revalidations, including follow-ups they
// start, have finished.
func (s *Store[P, T]) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.background > 0 {
		s.idle.Wait()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store[P, T]) Snapshot() Collection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Items returns a copy of the cached items.
func (s *Store[P, T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Get returns the cached item with the given key.
func (s *Store[P, T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := indexOf(s.items, id); idx >= 0 {
		return s.items[idx], true
	}
	var zero T
	return zero, false
}

// Loading reports whether a default fetch is in flight.
func (s *Store[P, T]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Err returns the last foreground failure, or nil.
func (s *Store[P, T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store[P, T]) fetchTransient(ctx context.Context, params P) (Collection[T], error) {
	items, err := s.loader(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Msg("Filtered fetch failed.")
		return Collection[T]{Err: err}, err
	}
	return Collection[T]{Items: dedupe(items), LastFetchedAt: s.cfg.Now()}, nil
}

// load performs an awaited default fetch that was begun with beginLocked.
func (s *Store[P, T]) load(ctx context.Context, t ticket) (Collection[T], error) {
	items, err := s.loader(ctx, s.defaults)

	s.mu.Lock()
	s.inFlight = false
	accepted := false
	if err != nil {
		if t.epoch == s.epoch {
			s.err = err
			s.errFromFetch = true
		}
	} else {
		accepted = s.commitLocked(items, t)
	}
	snap := s.snapshotLocked()
	next, queued := s.startQueuedLocked()
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("Fetch failed, keeping cached collection.")
	case !accepted:
		s.logger.Debug().Uint64("issued_version", t.version).Msg("Discarding stale fetch response.")
	}
	if queued {
		go s.revalidate(next)
	}
	return snap, err
}

// revalidate refreshes the default collection in the background. Failures are
// logged and never surfaced. It must be started with a ticket from
// beginBackgroundLocked.
func (s *Store[P, T]) revalidate(t ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BackgroundTimeout)
	defer cancel()

	items, err := s.loader(ctx, s.defaults)

	s.mu.Lock()
	s.inFlight = false
	accepted := false
	if err == nil {
		accepted = s.commitLocked(items, t)
	}
	next, queued := s.startQueuedLocked()
	s.background--
	if s.background == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logger.Warn().Err(err).Msg("Background revalidation failed, serving stale collection.")
	case !accepted:
		s.logger.Debug().Uint64("issued_version", t.version).Msg("Discarding stale revalidation response.")
	default:
		s.logger.Debug().Int("items", len(items)).Msg("Background revalidation stored.")
	}
	if queued {
		go s.revalidate(next)
	}
}

// startQueuedLocked begins the queued follow-up refresh, if any, as a
// background fetch. The caller starts revalidate with the returned ticket.
func (s *Store[P, T]) startQueuedLocked() (ticket, bool) {
	if !s.refreshQueued || s.inFlight {
		return ticket{}, false
	}
	s.refreshQueued = false
	return s.beginBackgroundLocked(), true
}

// mutate replaces the items with fn's result when fn reports a change. fn
// runs under the store lock and must not modify the slice it is given. It
// returns whether a change was made and the epoch it was made in.
func (s *Store[P, T]) mutate(fn func(items []T) ([]T, bool)) (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := fn(s.items)
	if !changed {
		return false, s.epoch
	}
	s.items = next
	s.version++
	return true, s.epoch
}

// mutateInEpoch is mutate, skipped when the store was Reset after epoch.
func (s *Store[P, T]) mutateInEpoch(epoch uint64, fn func(items []T) ([]T, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	next, changed := fn(s.items)
	if !changed {
		return false
	}
	s.items = next
	s.version++
	return true
}

func (s *Store[P, T]) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// setErrInEpoch records err unless the store was Reset after epoch.
func (s *Store[P, T]) setErrInEpoch(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.err = err
		s.errFromFetch = false
	}
}

// clearErr clears the recorded error only if it is target.
func (s *Store[P, T]) clearErr(target error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target != nil && s.err != nil && errors.Is(s.err, target) {
		s.err = nil
	}
}

func (s *Store[P, T]) beginLocked() ticket {
	s.inFlight = true
	return ticket{version: s.version, epoch: s.epoch}
}

func (s *Store[P, T]) beginBackgroundLocked() ticket {
	s.background++
	return s.beginLocked()
}

// commitLocked stores items if no write happened since t was issued.
func (s *Store[P, T]) commitLocked(items []T, t ticket) bool {
	if s.version != t.version || s.epoch != t.epoch {
		return false
	}
	s.items = dedupe(items)
	s.lastFetchedAt = s.cfg.Now()
	s.version++
	if s.errFromFetch {
		s.err = nil
	}
	return true
}

func (s *Store[P, T]) snapshotLocked() Collection[T] {
	return Collection[T]{
		Items:         slices.Clone(s.items),
		LastFetchedAt: s.lastFetchedAt,
		FetchInFlight: s.inFlight,
		Version:       s.version,
		Err:           s.err,
	}
}

// dedupe drops items whose key was already seen; the first occurrence wins.
func dedupe[T types.Keyed](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := item.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func indexOf[T types.Keyed](items []T, id string) int {
	return slices.IndexFunc(items, func(item T) bool { return item.Key() == id })
}

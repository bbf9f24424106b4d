package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
)

// Remote is the server side of a mutation.
type Remote[T types.Keyed] interface {
	Update(ctx context.Context, id string, item T) error
	Delete(ctx context.Context, id string) error
}

// MutatorConfig holds the reconciliation policy of a Mutator.
type MutatorConfig struct {
	// RefetchOnSuccess refreshes the store after the server confirms a mutation.
	RefetchOnSuccess bool
	// RefetchOnFailure refreshes the store once after a rollback so the cache
	// cannot drift from the server.
	RefetchOnFailure bool
}

// MutationOutcome describes how one mutation was reconciled.
type MutationOutcome struct {
	ID         string
	MutationID string
	Generation uint64
	Committed  bool
	RolledBack bool
	// Superseded is set when a later mutation on the same id was issued
	// before this one resolved; its rollback, if any, was skipped.
	Superseded bool
}

type pendingMutation[T types.Keyed] struct {
	id         string
	mutationID string
	generation uint64
	epoch      uint64
	previous   T
	index      int
	deleted    bool
	applied    bool
}

// Mutator applies updates and deletes to a Store optimistically and
// reconciles them with the server's answer.
//
// Mutations on the same id are ordered by generation: the latest issued one
// wins, and an earlier mutation's rollback is skipped once a later one exists.
type Mutator[P comparable, T types.Keyed] struct {
	store  *Store[P, T]
	remote Remote[T]
	cfg    MutatorConfig
	logger zerolog.Logger

	mu      sync.Mutex
	ids     map[string]*idState
	pending map[string]*pendingMutation[T]
	// lastErr is the error this Mutator last recorded on the store.
	lastErr error
}

// idState tracks the mutations on one id. It is dropped once none is
// outstanding, so generations restart from 1 for an id that went quiet.
type idState struct {
	generation  uint64
	outstanding int
}

// NewMutator creates a Mutator writing to store and sending to remote.
func NewMutator[P comparable, T types.Keyed](store *Store[P, T], remote Remote[T], cfg MutatorConfig, logger zerolog.Logger) (*Mutator[P, T], error) {
	if store == nil || remote == nil {
		return nil, fmt.Errorf("store and remote cannot be nil")
	}
	return &Mutator[P, T]{
		store:       store,
		remote:      remote,
		cfg:         cfg,
		logger:      logger.With().Str("component", "OptimisticMutator").Logger(),
		ids:         make(map[string]*idState),
		pending:     make(map[string]*pendingMutation[T]),
	}, nil
}

// Update applies patch to the cached item id, then sends the patched item.
// On failure the item is restored to its exact previous value.
func (m *Mutator[P, T]) Update(ctx context.Context, id string, patch func(T) T) (MutationOutcome, error) {
	if patch == nil {
		return MutationOutcome{ID: id}, fmt.Errorf("patch cannot be nil")
	}
	pm, next, err := m.begin(id, false, patch)
	if err != nil {
		return MutationOutcome{ID: id}, err
	}
	return m.reconcile(ctx, pm, m.remote.Update(ctx, id, next))
}

// Delete removes the cached item id, then deletes it on the server. On
// failure the item is reinserted at its previous position.
func (m *Mutator[P, T]) Delete(ctx context.Context, id string) (MutationOutcome, error) {
	pm, _, err := m.begin(id, true, nil)
	if err != nil {
		return MutationOutcome{ID: id}, err
	}
	return m.reconcile(ctx, pm, m.remote.Delete(ctx, id))
}

// Pending reports whether a mutation on id is awaiting the server.
func (m *Mutator[P, T]) Pending(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

// begin snapshots the item and applies the change to the store. The
// generation bump and the write happen under one lock so that issue order
// and apply order agree.
func (m *Mutator[P, T]) begin(id string, del bool, patch func(T) T) (*pendingMutation[T], T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm := &pendingMutation[T]{id: id, mutationID: uuid.NewString(), deleted: del}
	var next T
	var patchErr error
	found, epoch := m.store.mutate(func(items []T) ([]T, bool) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, false
		}
		pm.previous = items[idx]
		pm.index = idx
		if del {
			return slices.Delete(slices.Clone(items), idx, idx+1), true
		}
		next = patch(items[idx])
		if next.Key() != id {
			patchErr = fmt.Errorf("patch changed item key from %q to %q", id, next.Key())
			return nil, false
		}
		updated := slices.Clone(items)
		updated[idx] = next
		return updated, true
	})
	if patchErr != nil {
		return nil, next, patchErr
	}
	if !found {
		return nil, next, fmt.Errorf("mutate %q: %w", id, types.ErrNotFound)
	}

	st, ok := m.ids[id]
	if !ok {
		st = &idState{}
		m.ids[id] = st
	}
	st.generation++
	st.outstanding++
	pm.generation = st.generation
	pm.epoch = epoch
	pm.applied = true
	if prev, ok := m.pending[id]; ok {
		m.logger.Debug().Str("id", id).Str("superseded", prev.mutationID).Msg("Mutation supersedes a pending one.")
	}
	m.pending[id] = pm
	return pm, next, nil
}

func (m *Mutator[P, T]) reconcile(ctx context.Context, pm *pendingMutation[T], sendErr error) (MutationOutcome, error) {
	outcome := MutationOutcome{ID: pm.id, MutationID: pm.mutationID, Generation: pm.generation}

	if sendErr == nil {
		outcome.Committed = true
		outcome.Superseded = !m.finish(pm)
		m.clearLastErr()
		m.logger.Debug().Str("id", pm.id).Str("mutation_id", pm.mutationID).Bool("delete", pm.deleted).Msg("Mutation confirmed.")
		if m.cfg.RefetchOnSuccess {
			if err := m.store.Refresh(ctx); err != nil {
				m.logger.Warn().Err(err).Str("id", pm.id).Msg("Refresh after confirmed mutation failed.")
			}
		}
		return outcome, nil
	}

	err := classify(pm, sendErr)
	outcome.RolledBack, outcome.Superseded = m.rollback(pm)
	m.recordErr(pm.epoch, err)
	m.logger.Error().Err(err).Str("id", pm.id).Str("mutation_id", pm.mutationID).Bool("rolled_back", outcome.RolledBack).Msg("Mutation failed.")

	if m.cfg.RefetchOnFailure {
		if rerr := m.store.Refresh(context.WithoutCancel(ctx)); rerr != nil {
			m.logger.Warn().Err(rerr).Str("id", pm.id).Msg("Refresh after failed mutation failed.")
		}
	}
	return outcome, err
}

// finish discards the snapshot. It reports false when a later mutation on
// the same id has already replaced pm.
func (m *Mutator[P, T]) finish(pm *pendingMutation[T]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.releaseLocked(pm.id)
	if m.ids[pm.id].generation != pm.generation {
		return false
	}
	delete(m.pending, pm.id)
	return true
}

// rollback restores pm's snapshot. It is skipped, reporting superseded, when
// a later mutation on the same id exists, and skipped silently when the
// store was Reset after pm was applied.
func (m *Mutator[P, T]) rollback(pm *pendingMutation[T]) (rolledBack, superseded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.releaseLocked(pm.id)
	if !pm.applied || m.ids[pm.id].generation != pm.generation {
		return false, true
	}
	delete(m.pending, pm.id)
	pm.applied = false

	if m.store.currentEpoch() != pm.epoch {
		m.logger.Debug().Str("id", pm.id).Str("mutation_id", pm.mutationID).Msg("Store was reset, skipping rollback.")
		return false, false
	}
	m.store.mutateInEpoch(pm.epoch, func(items []T) ([]T, bool) {
		idx := indexOf(items, pm.id)
		if pm.deleted {
			if idx >= 0 {
				return nil, false
			}
			at := min(pm.index, len(items))
			return slices.Insert(slices.Clone(items), at, pm.previous), true
		}
		if idx < 0 {
			return nil, false
		}
		restored := slices.Clone(items)
		restored[idx] = pm.previous
		return restored, true
	})
	return true, false
}

// releaseLocked marks one mutation on id as settled.
func (m *Mutator[P, T]) releaseLocked(id string) {
	st, ok := m.ids[id]
	if !ok {
		return
	}
	st.outstanding--
	if st.outstanding <= 0 {
		delete(m.ids, id)
	}
}

// recordErr surfaces a mutation failure on the store unless the store was
// Reset since the mutation began.
func (m *Mutator[P, T]) recordErr(epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store.currentEpoch() != epoch {
		return
	}
	m.store.setErrInEpoch(epoch, err)
	m.lastErr = err
}

// clearLastErr clears the store error after a confirmed mutation, but only
// when that error is one this Mutator recorded. A fetch failure stays until
// a fetch succeeds.
func (m *Mutator[P, T]) clearLastErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr == nil {
		return
	}
	m.store.clearErr(m.lastErr)
	m.lastErr = nil
}

// classify makes sure a failure carries a kind from the error taxonomy.
func classify[T types.Keyed](pm *pendingMutation[T], err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	op := "update " + pm.id
	if pm.deleted {
		op = "delete " + pm.id
	}
	return types.Transport(op, err)
}

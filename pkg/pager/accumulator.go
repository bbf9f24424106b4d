package pager

import (
	"slices"
	"sync"

	"github.com/illmade-knight/go-syncstore/pkg/types"
)

// Accumulator collects the pages of one scroll. A page delivered twice, as
// happens when a failed request is retried, adds nothing the second time.
type Accumulator[T types.Keyed] struct {
	mu    sync.Mutex
	items []T
	seen  map[string]struct{}
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator[T types.Keyed]() *Accumulator[T] {
	return &Accumulator[T]{seen: make(map[string]struct{})}
}

// Add appends the items of page whose keys have not been seen and returns how
// many were added.
func (a *Accumulator[T]) Add(page Page[T]) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	added := 0
	for _, item := range page.Items {
		key := item.Key()
		if _, ok := a.seen[key]; ok {
			continue
		}
		a.seen[key] = struct{}{}
		a.items = append(a.items, item)
		added++
	}
	return added
}

// Items returns a copy of everything accumulated so far.
func (a *Accumulator[T]) Items() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.items)
}

func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Remove forgets the items with the given keys.
func (a *Accumulator[T]) Remove(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = slices.DeleteFunc(a.items, func(item T) bool {
		return slices.Contains(ids, item.Key())
	})
	for _, id := range ids {
		delete(a.seen, id)
	}
}

// Reset drops everything, typically alongside Pager.Start.
func (a *Accumulator[T]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = nil
	a.seen = make(map[string]struct{})
}

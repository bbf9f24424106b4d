// Package pager walks a large remote collection page by page using the
// server's opaque continuation token.
package pager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultPageSize is used when Start is called with a non-positive size.
const DefaultPageSize = 100

// State is the position of a Pager in its state machine.
type State int

const (
	Idle State = iota
	Fetching
	HasMore
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case HasMore:
		return "has_more"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source fetches the page following the cursor in req.
type Source[T any] interface {
	Scroll(ctx context.Context, req types.ScrollRequest) (types.ScrollPage[T], error)
}

// Page is one page delivered to the caller.
type Page[T any] struct {
	Items []T
	// Token is the continuation token after this page, empty when exhausted.
	Token   string
	HasMore bool
	// TotalScrolled is the server's running count when it reports one,
	// otherwise the number of items delivered since Start.
	TotalScrolled int
}

// Pager holds only the current token and whether the scroll is exhausted;
// accumulating pages is left to the caller (see Accumulator).
//
// A failed page request leaves the cursor where it was, so the next call to
// Next asks for the same page again.
type Pager[T any] struct {
	source Source[T]
	logger zerolog.Logger

	mu         sync.Mutex
	started    bool
	state      State
	pageSize   int
	cursor     types.PageCursor
	scrolled   int
	total      int
	generation uint64
}

// New creates a Pager reading from source.
func New[T any](source Source[T], logger zerolog.Logger) (*Pager[T], error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	return &Pager[T]{
		source: source,
		logger: logger.With().Str("component", "CursorPager").Logger(),
	}, nil
}

// Start resets the pager and fetches the first page. A request still
// outstanding from an earlier scroll is discarded when it returns.
func (p *Pager[T]) Start(ctx context.Context, pageSize int) (Page[T], error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	p.mu.Lock()
	p.generation++
	p.started = true
	p.pageSize = pageSize
	p.cursor = types.PageCursor{}
	p.scrolled = 0
	p.total = 0
	p.state = Fetching
	gen := p.generation
	p.mu.Unlock()

	p.logger.Debug().Int("page_size", pageSize).Msg("Starting scroll.")
	return p.fetch(ctx, gen, types.PageCursor{}, pageSize, Idle)
}

// Next fetches the page after the current token. Once the scroll is
// exhausted Next returns an empty page without issuing a request.
func (p *Pager[T]) Next(ctx context.Context) (Page[T], error) {
	p.mu.Lock()
	switch {
	case !p.started:
		p.mu.Unlock()
		return Page[T]{}, types.ErrNotStarted
	case p.state == Fetching:
		p.mu.Unlock()
		return Page[T]{}, types.ErrPageInFlight
	case p.state == Exhausted:
		page := Page[T]{Items: []T{}, TotalScrolled: p.total}
		p.mu.Unlock()
		return page, nil
	}
	prev := p.state
	p.state = Fetching
	gen := p.generation
	cursor := p.cursor
	size := p.pageSize
	p.mu.Unlock()

	return p.fetch(ctx, gen, cursor, size, prev)
}

// Abandon detaches the pager from any outstanding request. Its response is
// discarded and the pager returns to Idle; Start begins a new scroll.
func (p *Pager[T]) Abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.started = false
	p.state = Idle
	p.cursor = types.PageCursor{}
	p.scrolled = 0
	p.total = 0
}

// Cursor returns the current continuation position.
func (p *Pager[T]) Cursor() types.PageCursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// State returns the current state.
func (p *Pager[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pager[T]) fetch(ctx context.Context, gen uint64, cursor types.PageCursor, size int, prev State) (Page[T], error) {
	resp, err := p.source.Scroll(ctx, types.ScrollRequest{Cursor: cursor, Limit: size})

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		p.logger.Debug().Uint64("generation", gen).Msg("Discarding page from an abandoned scroll.")
		return Page[T]{}, types.Stale("scroll")
	}
	if err != nil {
		p.state = prev
		var typed *types.Error
		if !errors.As(err, &typed) {
			err = types.Transport("scroll", err)
		}
		p.logger.Error().Err(err).Str("token", cursor.Token).Msg("Page request failed, cursor unchanged.")
		return Page[T]{}, err
	}

	items := resp.Points
	if items == nil {
		items = []T{}
	}
	p.scrolled += len(items)
	total := p.scrolled
	if resp.HasTotal {
		total = resp.TotalScrolled
	}
	p.total = total

	if !resp.HasScrollID || !resp.HasMore {
		p.state = Exhausted
		p.cursor = types.PageCursor{Token: cursor.Token, HasToken: cursor.HasToken, Exhausted: true}
		p.logger.Info().Int("total_scrolled", total).Msg("Scroll exhausted.")
		return Page[T]{Items: items, TotalScrolled: total}, nil
	}

	p.state = HasMore
	p.cursor = types.PageCursor{Token: resp.ScrollID, HasToken: true}
	return Page[T]{Items: items, Token: resp.ScrollID, HasMore: true, TotalScrolled: total}, nil
}

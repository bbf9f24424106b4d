package pager_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-syncstore/pkg/pager"
	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	ID string `json:"id"`
}

func (p point) Key() string { return p.ID }

// scriptedSource serves pages keyed by the token they follow ("" for the
// first page) and records every request.
type scriptedSource struct {
	mu       sync.Mutex
	pages    map[string]types.ScrollPage[point]
	failures map[string]int
	block    chan struct{}
	requests []types.ScrollRequest
}

func (s *scriptedSource) Scroll(ctx context.Context, req types.ScrollRequest) (types.ScrollPage[point], error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	block := s.block
	token := req.Cursor.Token
	fail := s.failures[token] > 0
	if fail {
		s.failures[token]--
	}
	page, ok := s.pages[token]
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return types.ScrollPage[point]{}, errors.New("connection reset")
	}
	if !ok {
		return types.ScrollPage[point]{}, types.Rejected("scroll", "unknown scroll id")
	}
	return page, nil
}

func (s *scriptedSource) sent() []types.ScrollRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ScrollRequest(nil), s.requests...)
}

func points(from, to int) []point {
	out := make([]point, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, point{ID: fmt.Sprintf("p%d", i)})
	}
	return out
}

func threePages() map[string]types.ScrollPage[point] {
	return map[string]types.ScrollPage[point]{
		"":    {Points: points(0, 3), ScrollID: "abc", HasScrollID: true, HasMore: true, TotalScrolled: 3, HasTotal: true},
		"abc": {Points: points(3, 6), ScrollID: "def", HasScrollID: true, HasMore: true, TotalScrolled: 6, HasTotal: true},
		"def": {Points: points(6, 8), HasMore: false, TotalScrolled: 8, HasTotal: true},
	}
}

func newPager(t *testing.T, source pager.Source[point]) *pager.Pager[point] {
	t.Helper()
	p, err := pager.New[point](source, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestPager_NextBeforeStart(t *testing.T) {
	p := newPager(t, &scriptedSource{pages: threePages()})

	_, err := p.Next(context.Background())

	require.ErrorIs(t, err, types.ErrNotStarted)
	assert.Equal(t, pager.Idle, p.State())
}

func TestPager_ScrollsToExhaustion(t *testing.T) {
	ctx := context.Background()
	source := &scriptedSource{pages: threePages()}
	p := newPager(t, source)
	acc := pager.NewAccumulator[point]()

	page, err := p.Start(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", page.Token)
	assert.True(t, page.HasMore)
	assert.Equal(t, pager.HasMore, p.State())
	acc.Add(page)

	for page.HasMore {
		page, err = p.Next(ctx)
		require.NoError(t, err)
		acc.Add(page)
	}

	assert.Equal(t, pager.Exhausted, p.State())
	assert.Equal(t, 8, page.TotalScrolled)
	assert.Equal(t, points(0, 8), acc.Items())

	sent := source.sent()
	require.Len(t, sent, 3)
	assert.False(t, sent[0].Cursor.HasToken)
	assert.Equal(t, 3, sent[0].Limit)
	assert.Equal(t, "abc", sent[1].Cursor.Token)
	assert.Equal(t, "def", sent[2].Cursor.Token)
}

// A failed page request is retried with the same token and no page is
// skipped or repeated in the accumulated result.
func TestPager_FailedPageIsRetriedWithSameToken(t *testing.T) {
	ctx := context.Background()
	source := &scriptedSource{pages: threePages(), failures: map[string]int{"abc": 1}}
	p := newPager(t, source)
	acc := pager.NewAccumulator[point]()

	page, err := p.Start(ctx, 3)
	require.NoError(t, err)
	acc.Add(page)

	// Act: page 2 fails once.
	_, err = p.Next(ctx)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTransport))
	assert.Equal(t, pager.HasMore, p.State())
	assert.Equal(t, types.PageCursor{Token: "abc", HasToken: true}, p.Cursor())

	page, err = p.Next(ctx)
	require.NoError(t, err)
	acc.Add(page)
	page, err = p.Next(ctx)
	require.NoError(t, err)
	acc.Add(page)

	// Assert
	sent := source.sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "abc", sent[1].Cursor.Token)
	assert.Equal(t, "abc", sent[2].Cursor.Token, "The retry must reuse the unchanged token")
	assert.Equal(t, points(0, 8), acc.Items())
	assert.Equal(t, pager.Exhausted, p.State())
}

func TestPager_ExhaustedNextIsIdempotent(t *testing.T) {
	ctx := context.Background()
	source := &scriptedSource{pages: map[string]types.ScrollPage[point]{
		"": {Points: points(0, 2), ScrollID: "last", HasScrollID: true, HasMore: false},
	}}
	p := newPager(t, source)

	_, err := p.Start(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, pager.Exhausted, p.State())
	cursor := p.Cursor()
	assert.True(t, cursor.Exhausted)

	for i := 0; i < 3; i++ {
		page, err := p.Next(ctx)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.NotNil(t, page.Items)
		assert.False(t, page.HasMore)
		assert.Equal(t, 2, page.TotalScrolled, "Local total is kept when the server reports none")
	}

	assert.Len(t, source.sent(), 1, "No request may be issued after exhaustion")
	assert.Equal(t, cursor, p.Cursor())
}

func TestPager_FailedFirstPageCanBeRetriedWithNext(t *testing.T) {
	ctx := context.Background()
	source := &scriptedSource{pages: threePages(), failures: map[string]int{"": 1}}
	p := newPager(t, source)

	_, err := p.Start(ctx, 3)
	require.Error(t, err)
	assert.Equal(t, pager.Idle, p.State())

	page, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, points(0, 3), page.Items)
	assert.False(t, source.sent()[1].Cursor.HasToken)
}

func TestPager_ConcurrentNextIsRefused(t *testing.T) {
	ctx := context.Background()
	source := &scriptedSource{pages: threePages()}
	p := newPager(t, source)
	_, err := p.Start(ctx, 3)
	require.NoError(t, err)

	release := make(chan struct{})
	source.mu.Lock()
	source.block = release
	source.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := p.Next(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return p.State() == pager.Fetching }, time.Second, 5*time.Millisecond)

	_, err = p.Next(ctx)
	require.ErrorIs(t, err, types.ErrPageInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, source.sent(), 2)
}

func TestPager_AbandonDiscardsLateResponse(t *testing.T) {
	ctx := context.Background()
	source := &scriptedSource{pages: threePages()}
	p := newPager(t, source)
	_, err := p.Start(ctx, 3)
	require.NoError(t, err)

	release := make(chan struct{})
	source.mu.Lock()
	source.block = release
	source.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := p.Next(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(source.sent()) == 2 }, time.Second, 5*time.Millisecond)

	// Act
	p.Abandon()
	close(release)
	err = <-done

	// Assert
	require.ErrorIs(t, err, types.ErrStaleResponse)
	assert.Equal(t, pager.Idle, p.State())
	assert.Equal(t, types.PageCursor{}, p.Cursor())
	_, err = p.Next(ctx)
	require.ErrorIs(t, err, types.ErrNotStarted)
}

func TestPager_MissingTokenExhausts(t *testing.T) {
	source := &scriptedSource{pages: map[string]types.ScrollPage[point]{
		"": {Points: points(0, 1), HasMore: true},
	}}
	p := newPager(t, source)

	page, err := p.Start(context.Background(), 0)

	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, pager.Exhausted, p.State())
	assert.Equal(t, pager.DefaultPageSize, source.sent()[0].Limit)
}

func TestAccumulator_DropsRepeatedKeys(t *testing.T) {
	acc := pager.NewAccumulator[point]()

	assert.Equal(t, 3, acc.Add(pager.Page[point]{Items: points(0, 3)}))
	assert.Equal(t, 1, acc.Add(pager.Page[point]{Items: points(2, 4)}))
	assert.Equal(t, 4, acc.Len())

	acc.Reset()
	assert.Empty(t, acc.Items())
}

func TestAccumulator_Remove(t *testing.T) {
	acc := pager.NewAccumulator[point]()
	acc.Add(pager.Page[point]{Items: points(0, 4)})

	acc.Remove("p1", "p3")

	assert.Equal(t, []point{{ID: "p0"}, {ID: "p2"}}, acc.Items())
	assert.Equal(t, 1, acc.Add(pager.Page[point]{Items: points(1, 2)}), "A removed key can be added again")
}

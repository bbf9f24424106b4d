// Package workspace assembles the sync layer for the management screens:
// one cached, optimistically mutated collection per resource and a
// scrollable view of each knowledge collection.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/illmade-knight/go-syncstore/pkg/batch"
	"github.com/illmade-knight/go-syncstore/pkg/cache"
	"github.com/illmade-knight/go-syncstore/pkg/config"
	"github.com/illmade-knight/go-syncstore/pkg/pager"
	"github.com/illmade-knight/go-syncstore/pkg/resource"
	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
)

// Resource bundles everything the UI needs for one collection.
type Resource[T types.Keyed] struct {
	Endpoint *resource.Endpoint[T]
	Store    *cache.Store[resource.Query, T]
	Mutator  *cache.Mutator[resource.Query, T]
	Deleter  *batch.Deleter
}

func newResource[T types.Keyed](client resource.Client, path string, cfg *config.Config, logger zerolog.Logger) (*Resource[T], error) {
	endpoint := resource.NewEndpoint[T](client, resource.EndpointConfig{Path: path, BulkDeletePath: path + "/bulk-delete"})
	log := logger.With().Str("resource", path).Logger()

	store, err := cache.NewStore[resource.Query, T](cache.Config{
		TTL:               cfg.CacheTTL,
		BackgroundTimeout: cfg.BackgroundTimeout,
	}, endpoint.List, resource.Query{}, log)
	if err != nil {
		return nil, err
	}
	mutator, err := cache.NewMutator[resource.Query, T](store, endpoint, cache.MutatorConfig{
		RefetchOnSuccess: cfg.RefetchOnSuccess,
		RefetchOnFailure: cfg.RefetchOnFailure,
	}, log)
	if err != nil {
		return nil, err
	}
	deleter, err := batch.NewDeleter(batch.Config{ChunkSize: cfg.DeleteChunkSize, ItemDelay: cfg.DeleteItemDelay}, endpoint, log)
	if err != nil {
		return nil, err
	}
	return &Resource[T]{Endpoint: endpoint, Store: store, Mutator: mutator, Deleter: deleter}, nil
}

// DeleteMany runs a batch deletion and drops the deleted ids from the cache.
func (r *Resource[T]) DeleteMany(ctx context.Context, ids []string, hooks batch.Hooks) types.BatchOutcome {
	outcome := r.Deleter.Run(ctx, ids, 0, hooks)
	r.Store.Remove(outcome.SucceededIDs...)
	return outcome
}

// Points is the scrollable view of one knowledge collection.
type Points struct {
	Collection string
	Pager      *pager.Pager[VectorPoint]
	Seen       *pager.Accumulator[VectorPoint]
	Deleter    *batch.Deleter

	pageSize int
}

// Start begins a new scroll, dropping what was seen before.
func (p *Points) Start(ctx context.Context) (pager.Page[VectorPoint], error) {
	p.Seen.Reset()
	page, err := p.Pager.Start(ctx, p.pageSize)
	if err != nil {
		return page, err
	}
	p.Seen.Add(page)
	return page, nil
}

// Next fetches the following page and adds it to Seen.
func (p *Points) Next(ctx context.Context) (pager.Page[VectorPoint], error) {
	page, err := p.Pager.Next(ctx)
	if err != nil {
		return page, err
	}
	p.Seen.Add(page)
	return page, nil
}

// DeleteMany deletes points and forgets the deleted ones.
func (p *Points) DeleteMany(ctx context.Context, ids []string, hooks batch.Hooks) types.BatchOutcome {
	outcome := p.Deleter.Run(ctx, ids, 0, hooks)
	p.Seen.Remove(outcome.SucceededIDs...)
	return outcome
}

// Workspace is the process-wide sync layer. Create one with New and pass it
// to whoever needs it; Reset clears it on sign-out.
type Workspace struct {
	cfg    *config.Config
	client resource.Client
	tokens *resource.CachingTokenProvider
	logger zerolog.Logger

	Files       *Resource[File]
	Models      *Resource[Model]
	Credentials *Resource[Credential]

	mu     sync.Mutex
	points map[string]*Points
}

// New wires a Workspace talking to cfg.BaseURL. tokenSource may be nil, in
// which case cfg.APIToken, if set, is sent as a static bearer token.
func New(cfg *config.Config, tokenSource resource.TokenProvider, logger zerolog.Logger) (*Workspace, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if tokenSource == nil && cfg.APIToken != "" {
		static := cfg.APIToken
		tokenSource = func(context.Context) (string, error) { return static, nil }
	}

	var tokens *resource.CachingTokenProvider
	var provider resource.TokenProvider
	if tokenSource != nil {
		tokens = resource.NewCachingTokenProvider(tokenSource, cfg.TokenTTL, logger)
		provider = tokens.Provider()
	}

	client, err := resource.NewHTTPClient(resource.HTTPClientConfig{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource client: %w", err)
	}

	w := &Workspace{
		cfg:    cfg,
		client: client,
		tokens: tokens,
		logger: logger.With().Str("component", "Workspace").Logger(),
		points: make(map[string]*Points),
	}
	if w.Files, err = newResource[File](client, "/files", cfg, logger); err != nil {
		return nil, err
	}
	if w.Models, err = newResource[Model](client, "/models", cfg, logger); err != nil {
		return nil, err
	}
	if w.Credentials, err = newResource[Credential](client, "/credentials", cfg, logger); err != nil {
		return nil, err
	}
	w.logger.Info().Str("base_url", cfg.BaseURL).Msg("Workspace ready.")
	return w, nil
}

// Points returns the scroll view of the named knowledge collection, creating
// it on first use.
func (w *Workspace) Points(collection string) (*Points, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.points[collection]; ok {
		return p, nil
	}

	base := "/collections/" + url.PathEscape(collection) + "/points"
	log := w.logger.With().Str("collection", collection).Logger()

	pg, err := pager.New[VectorPoint](resource.NewScroller[VectorPoint](w.client, base+"/scroll"), log)
	if err != nil {
		return nil, err
	}
	endpoint := resource.NewEndpoint[VectorPoint](w.client, resource.EndpointConfig{Path: base, BulkDeletePath: base + "/delete"})
	deleter, err := batch.NewDeleter(batch.Config{ChunkSize: w.cfg.DeleteChunkSize, ItemDelay: w.cfg.DeleteItemDelay}, endpoint, log)
	if err != nil {
		return nil, err
	}

	p := &Points{
		Collection: collection,
		Pager:      pg,
		Seen:       pager.NewAccumulator[VectorPoint](),
		Deleter:    deleter,
		pageSize:   w.cfg.ScrollPageSize,
	}
	w.points[collection] = p
	return p, nil
}

// Reset drops every cached collection, abandons every scroll and forgets the
// cached token.
func (w *Workspace) Reset() {
	w.Files.Store.Reset()
	w.Models.Store.Reset()
	w.Credentials.Store.Reset()

	w.mu.Lock()
	for name, p := range w.points {
		p.Pager.Abandon()
		p.Seen.Reset()
		delete(w.points, name)
	}
	w.mu.Unlock()

	if w.tokens != nil {
		w.tokens.Invalidate()
	}
	w.logger.Info().Msg("Workspace reset.")
}

// Close waits for background revalidations to finish.
func (w *Workspace) Close() {
	w.Files.Store.Wait()
	w.Models.Store.Wait()
	w.Credentials.Store.Wait()
	w.logger.Info().Msg("Workspace closed.")
}

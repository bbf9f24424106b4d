package resource

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-syncstore/pkg/types"
)

// Query is the comparable parameter set of a list request. The zero value
// is the default, unfiltered listing.
type Query struct {
	Search string
	Filter string
	Sort   string
	Limit  int
}

// Values encodes q as URL query parameters, omitting empty fields.
func (q Query) Values() url.Values {
	values := url.Values{}
	if s := strings.TrimSpace(q.Search); s != "" {
		values.Set("search", s)
	}
	if f := strings.TrimSpace(q.Filter); f != "" {
		values.Set("filter", f)
	}
	if s := strings.TrimSpace(q.Sort); s != "" {
		values.Set("sort", s)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values
}

// EndpointConfig names the paths of one server-owned collection.
type EndpointConfig struct {
	// Path is the collection path; items live at Path/{id}.
	Path string
	// BulkDeletePath accepts POST {"ids": [...]}. Empty means the server has no bulk delete.
	BulkDeletePath string
}

// Endpoint is the thin per-resource wrapper around a Client: list, update,
// single delete and bulk delete of items of type T.
type Endpoint[T types.Keyed] struct {
	client Client
	cfg    EndpointConfig
}

// NewEndpoint creates an Endpoint for the collection described by cfg.
func NewEndpoint[T types.Keyed](client Client, cfg EndpointConfig) *Endpoint[T] {
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	return &Endpoint[T]{client: client, cfg: cfg}
}

// List fetches the collection filtered by q.
func (e *Endpoint[T]) List(ctx context.Context, q Query) ([]T, error) {
	op := "list " + e.cfg.Path
	result, err := e.client.Get(ctx, e.cfg.Path, q.Values())
	if err != nil {
		return nil, err
	}
	if err := result.Err(op); err != nil {
		return nil, err
	}
	return DecodeList[T](op, result.Data)
}

// Update replaces the item at id with item.
func (e *Endpoint[T]) Update(ctx context.Context, id string, item T) error {
	path := e.itemPath(id)
	result, err := e.client.Put(ctx, path, item)
	if err != nil {
		return err
	}
	return result.Err("update " + path)
}

// Delete removes the item at id.
func (e *Endpoint[T]) Delete(ctx context.Context, id string) error {
	path := e.itemPath(id)
	result, err := e.client.Delete(ctx, path, nil)
	if err != nil {
		return err
	}
	return result.Err("delete " + path)
}

// SupportsBulk reports whether a bulk delete path is configured.
func (e *Endpoint[T]) SupportsBulk() bool {
	return e.cfg.BulkDeletePath != ""
}

// BulkDelete removes ids in one request and classifies each id from the
// response. An error means the call itself failed and nothing can be
// concluded about any id.
func (e *Endpoint[T]) BulkDelete(ctx context.Context, ids []string) (types.BatchOutcome, error) {
	op := "bulk delete " + e.cfg.BulkDeletePath
	result, err := e.client.Post(ctx, e.cfg.BulkDeletePath, map[string][]string{"ids": ids})
	if err != nil {
		return types.BatchOutcome{}, err
	}
	if err := result.Err(op); err != nil {
		return types.BatchOutcome{}, err
	}
	return ParseBulkDelete(result.Data, ids), nil
}

func (e *Endpoint[T]) itemPath(id string) string {
	return e.cfg.Path + "/" + url.PathEscape(id)
}

// Scroller pages through a large collection with server-issued scroll ids.
type Scroller[T any] struct {
	client Client
	path   string
}

// NewScroller creates a Scroller posting to path.
func NewScroller[T any](client Client, path string) *Scroller[T] {
	return &Scroller[T]{client: client, path: "/" + strings.Trim(path, "/")}
}

type scrollBody struct {
	Limit       int     `json:"limit"`
	ScrollID    *string `json:"scroll_id"`
	WithPayload bool    `json:"with_payload"`
}

// Scroll requests the page after req.Cursor.
func (s *Scroller[T]) Scroll(ctx context.Context, req types.ScrollRequest) (types.ScrollPage[T], error) {
	op := "scroll " + s.path
	body := scrollBody{Limit: req.Limit, WithPayload: true}
	if req.Cursor.HasToken {
		token := req.Cursor.Token
		body.ScrollID = &token
	}
	result, err := s.client.Post(ctx, s.path, body)
	if err != nil {
		return types.ScrollPage[T]{}, err
	}
	if err := result.Err(op); err != nil {
		return types.ScrollPage[T]{}, err
	}
	return ParseScrollPage[T](op, result.Data)
}

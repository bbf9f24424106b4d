package resource_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/illmade-knight/go-syncstore/pkg/resource"
	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint_RoundTrips(t *testing.T) {
	ctx := context.Background()
	server, requests := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/files":
			_, _ = w.Write([]byte(`{"data":{"files":[{"id":"f1","name":"a.txt"},{"id":"f2","name":"b.txt"}]}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/files/f1":
			_, _ = w.Write([]byte(`{"success":true}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/files/f2":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"read only"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/files/bulk-delete":
			_, _ = w.Write([]byte(`{"successful":["f1"],"failed":[{"id":"f2","error":"read only"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	client, err := resource.NewHTTPClient(resource.HTTPClientConfig{BaseURL: server.URL}, nil, zerolog.Nop())
	require.NoError(t, err)
	endpoint := resource.NewEndpoint[named](client, resource.EndpointConfig{Path: "files", BulkDeletePath: "/files/bulk-delete"})

	t.Run("List decodes the envelope and sends the query", func(t *testing.T) {
		items, err := endpoint.List(ctx, resource.Query{Search: "a", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []named{{ID: "f1", Name: "a.txt"}, {ID: "f2", Name: "b.txt"}}, items)

		last := requests()[len(requests())-1]
		assert.Equal(t, "a", last.Query.Get("search"))
		assert.Equal(t, "10", last.Query.Get("limit"))
		assert.Empty(t, last.Query.Get("filter"))
	})

	t.Run("Update sends the full item", func(t *testing.T) {
		require.NoError(t, endpoint.Update(ctx, "f1", named{ID: "f1", Name: "new.txt"}))
		assert.JSONEq(t, `{"id":"f1","name":"new.txt"}`, requests()[len(requests())-1].Body)
	})

	t.Run("Delete rejection carries the server message", func(t *testing.T) {
		err := endpoint.Delete(ctx, "f2")
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindRejected))
		assert.Equal(t, "read only", types.UserMessage(err))
	})

	t.Run("Bulk delete classifies every id", func(t *testing.T) {
		require.True(t, endpoint.SupportsBulk())
		outcome, err := endpoint.BulkDelete(ctx, []string{"f1", "f2"})
		require.NoError(t, err)

		assert.Equal(t, []string{"f1"}, outcome.SucceededIDs)
		assert.Equal(t, []string{"f2"}, outcome.FailedIDs)
		assert.Equal(t, "read only", outcome.Failures["f2"])
		assert.JSONEq(t, `{"ids":["f1","f2"]}`, requests()[len(requests())-1].Body)
	})
}

func TestScroller_SendsScrollID(t *testing.T) {
	server, requests := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"points":[{"id":"p1"}],"scroll_id":"next","has_more":true,"total_scrolled":1}`))
	})
	client, err := resource.NewHTTPClient(resource.HTTPClientConfig{BaseURL: server.URL}, nil, zerolog.Nop())
	require.NoError(t, err)
	scroller := resource.NewScroller[named](client, "/collections/docs/points/scroll")

	page, err := scroller.Scroll(context.Background(), types.ScrollRequest{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, "next", page.ScrollID)
	assert.JSONEq(t, `{"limit":50,"scroll_id":null,"with_payload":true}`, requests()[0].Body)

	_, err = scroller.Scroll(context.Background(), types.ScrollRequest{Limit: 50, Cursor: types.PageCursor{Token: "next", HasToken: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"limit":50,"scroll_id":"next","with_payload":true}`, requests()[1].Body)
	assert.Equal(t, "/collections/docs/points/scroll", requests()[1].Path)
}

package resource

import (
	"encoding/json"

	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/tidwall/gjson"
)

// listEnvelopeKeys is the order in which list responses are searched for the
// item array when the body is not a bare array.
var listEnvelopeKeys = []string{"data", "files", "items", "results"}

// idKeys are the field names a bulk result object may use for its id.
var idKeys = []string{"id", "fileId", "file_id"}

// ExtractList finds the item array in a list response. It accepts a bare
// array, or an array under one of listEnvelopeKeys, also one level inside a
// "data" object.
func ExtractList(data []byte) (json.RawMessage, bool) {
	if !gjson.ValidBytes(data) {
		return nil, false
	}
	return extractList(gjson.ParseBytes(data), 2)
}

func extractList(v gjson.Result, depth int) (json.RawMessage, bool) {
	if v.IsArray() {
		return json.RawMessage(v.Raw), true
	}
	if !v.IsObject() || depth == 0 {
		return nil, false
	}
	for _, key := range listEnvelopeKeys {
		if inner := v.Get(key); inner.IsArray() {
			return json.RawMessage(inner.Raw), true
		}
	}
	if inner := v.Get("data"); inner.IsObject() {
		return extractList(inner, depth-1)
	}
	return nil, false
}

// DecodeList extracts and decodes the item array of a list response. An
// empty body decodes to an empty list.
func DecodeList[T any](op string, data []byte) ([]T, error) {
	if len(data) == 0 {
		return []T{}, nil
	}
	raw, ok := ExtractList(data)
	if !ok {
		return nil, types.Ambiguous(op, "response did not contain a list")
	}
	items := make([]T, 0)
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &types.Error{Kind: types.KindAmbiguous, Op: op, Message: "list items could not be decoded", Err: err}
	}
	return items, nil
}

// ParseBulkDelete classifies every id of a bulk delete request from the
// response body. Two shapes are understood:
//
//	{"successful": [...], "failed": [...]}
//	{"results": [{"id"|"fileId"|"file_id": ..., "success": bool}, ...]}
//
// Either may be wrapped in "data". An id the response says nothing about is
// failed with types.NoStatusMessage; an id reported both ways is failed.
func ParseBulkDelete(data []byte, ids []string) types.BatchOutcome {
	outcome := types.NewBatchOutcome(len(ids))
	outcome.UsedBulk = true

	succeeded := make(map[string]bool)
	failed := make(map[string]string)

	if gjson.ValidBytes(data) {
		root := gjson.ParseBytes(data)
		if !hasBulkShape(root) {
			if inner := root.Get("data"); inner.IsObject() {
				root = inner
			}
		}
		root.Get("successful").ForEach(func(_, v gjson.Result) bool {
			if id := bulkID(v); id != "" {
				succeeded[id] = true
			}
			return true
		})
		root.Get("failed").ForEach(func(_, v gjson.Result) bool {
			if id := bulkID(v); id != "" {
				failed[id] = bulkMessage(v)
			}
			return true
		})
		root.Get("results").ForEach(func(_, v gjson.Result) bool {
			id := bulkID(v)
			if id == "" {
				return true
			}
			if v.Get("success").Type == gjson.True {
				succeeded[id] = true
			} else {
				failed[id] = bulkMessage(v)
			}
			return true
		})
	}

	for _, id := range ids {
		if msg, ok := failed[id]; ok {
			outcome.Fail(id, msg)
			continue
		}
		if succeeded[id] {
			outcome.Succeed(id)
			continue
		}
		outcome.Fail(id, types.NoStatusMessage)
	}
	return outcome
}

func hasBulkShape(v gjson.Result) bool {
	return v.Get("successful").Exists() || v.Get("failed").Exists() || v.Get("results").Exists()
}

func bulkID(v gjson.Result) string {
	if !v.IsObject() {
		return v.String()
	}
	for _, key := range idKeys {
		if id := v.Get(key); id.Exists() && id.String() != "" {
			return id.String()
		}
	}
	return ""
}

func bulkMessage(v gjson.Result) string {
	if !v.IsObject() {
		return ""
	}
	for _, key := range []string{"error", "message"} {
		if msg := v.Get(key); msg.Type == gjson.String {
			return msg.String()
		}
	}
	return ""
}

// ParseScrollPage decodes a scroll response:
//
//	{"points": [...], "scroll_id": "..."|null, "has_more": bool, "total_scrolled": n}
//
// optionally wrapped in "data".
func ParseScrollPage[T any](op string, data []byte) (types.ScrollPage[T], error) {
	var page types.ScrollPage[T]
	if !gjson.ValidBytes(data) {
		return page, types.Ambiguous(op, "scroll response is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.Get("points").Exists() {
		if inner := root.Get("data"); inner.IsObject() {
			root = inner
		}
	}
	points := root.Get("points")
	if !points.IsArray() {
		return page, types.Ambiguous(op, "scroll response has no points")
	}
	page.Points = make([]T, 0)
	if err := json.Unmarshal([]byte(points.Raw), &page.Points); err != nil {
		return page, &types.Error{Kind: types.KindAmbiguous, Op: op, Message: "points could not be decoded", Err: err}
	}
	if id := root.Get("scroll_id"); id.Exists() && id.Type != gjson.Null && id.String() != "" {
		page.ScrollID = id.String()
		page.HasScrollID = true
	}
	page.HasMore = root.Get("has_more").Bool()
	if total := root.Get("total_scrolled"); total.Exists() && total.Type == gjson.Number {
		page.TotalScrolled = int(total.Int())
		page.HasTotal = true
	}
	return page, nil
}

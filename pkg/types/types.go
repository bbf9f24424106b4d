// Package types holds the values shared by the cache, pager, batch and
// resource packages.
package types

import (
	"encoding/json"
	"slices"
)

// Keyed is implemented by every item held in a synchronized collection.
// Key must be stable and unique within a collection.
type Keyed interface {
	Key() string
}

// Result is the normalized outcome of one logical HTTP call. A transport
// failure is reported as an error alongside a zero Result instead.
type Result struct {
	IsSuccess bool
	Data      json.RawMessage
	Message   string
}

// Err converts an unsuccessful Result into a KindRejected error for op.
// It returns nil for a successful Result.
func (r Result) Err(op string) error {
	if r.IsSuccess {
		return nil
	}
	return Rejected(op, r.Message)
}

// PageCursor is the resumable position of a scroll over a remote collection.
// HasToken is false before the first page has been received.
type PageCursor struct {
	Token     string
	HasToken  bool
	Exhausted bool
}

// BatchOutcome accounts for every id a batch deletion attempted.
// SucceededIDs and FailedIDs are disjoint, in input order and never nil.
type BatchOutcome struct {
	SucceededIDs []string
	FailedIDs    []string
	// Failures maps each failed id to the message explaining why.
	Failures  map[string]string
	Completed int
	Total     int
	UsedBulk  bool
}

// NewBatchOutcome returns an empty outcome sized for total ids.
func NewBatchOutcome(total int) BatchOutcome {
	return BatchOutcome{
		SucceededIDs: make([]string, 0, total),
		FailedIDs:    make([]string, 0),
		Failures:     make(map[string]string),
		Total:        total,
	}
}

// Succeed records id as deleted.
func (o *BatchOutcome) Succeed(id string) {
	o.SucceededIDs = append(o.SucceededIDs, id)
	o.Completed++
}

// Fail records id as not deleted, with the reason shown to the user.
func (o *BatchOutcome) Fail(id, message string) {
	if message == "" {
		message = GenericFailureMessage
	}
	o.FailedIDs = append(o.FailedIDs, id)
	o.Failures[id] = message
	o.Completed++
}

// Succeeded reports whether id was deleted.
func (o BatchOutcome) Succeeded(id string) bool {
	return slices.Contains(o.SucceededIDs, id)
}

// Done reports whether every id has been classified.
func (o BatchOutcome) Done() bool {
	return o.Completed == o.Total
}

// ScrollRequest asks for the page after Cursor. A cursor without a token
// requests the first page.
type ScrollRequest struct {
	Cursor PageCursor
	Limit  int
}

// ScrollPage is one decoded response of a scroll endpoint.
type ScrollPage[T any] struct {
	Points        []T
	ScrollID      string
	HasScrollID   bool
	HasMore       bool
	TotalScrolled int
	HasTotal      bool
}

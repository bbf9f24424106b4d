package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure seen by the synchronization layer.
type Kind int

const (
	// KindTransport means the request never reached the server or no response came back.
	KindTransport Kind = iota + 1
	// KindRejected means the server answered but marked the request unsuccessful.
	KindRejected
	// KindAmbiguous means the server answered but the payload could not be mapped.
	KindAmbiguous
	// KindStale means a response was superseded by newer local state.
	KindStale
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindAmbiguous:
		return "ambiguous"
	case KindStale:
		return "stale"
	default:
		return "unknown"
	}
}

// GenericFailureMessage is shown when a failure carries no server message.
const GenericFailureMessage = "Request failed. Please try again."

// NoStatusMessage is recorded for ids a bulk response said nothing about.
const NoStatusMessage = "No status returned"

var (
	// ErrNotFound is returned when a mutation targets an id the cache does not hold.
	ErrNotFound = errors.New("item not found in cache")
	// ErrNotStarted is returned by Pager.Next before Pager.Start.
	ErrNotStarted = errors.New("pager not started")
	// ErrPageInFlight is returned when a page is requested while another is outstanding.
	ErrPageInFlight = errors.New("page request already in flight")
	// ErrStaleResponse marks a response discarded because newer state exists.
	ErrStaleResponse = errors.New("stale response discarded")
)

// Error is the typed failure produced by every component of the layer.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Transport wraps err as a KindTransport failure of op.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Rejected builds a KindRejected failure carrying the server message.
func Rejected(op, message string) *Error {
	return &Error{Kind: KindRejected, Op: op, Message: message}
}

// Ambiguous builds a KindAmbiguous failure.
func Ambiguous(op, message string) *Error {
	return &Error{Kind: KindAmbiguous, Op: op, Message: message}
}

// Stale builds a KindStale failure wrapping ErrStaleResponse.
func Stale(op string) *Error {
	return &Error{Kind: KindStale, Op: op, Err: ErrStaleResponse}
}

// IsKind reports whether any error in err's chain is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// UserMessage returns the text a presentation layer should display for err:
// the server message when one exists, otherwise GenericFailureMessage.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return GenericFailureMessage
}

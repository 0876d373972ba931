// Package chattyerr defines the server-internal error categories from which
// protocol-level responses (CommandResult, connection teardown) are derived.
// Call sites use errors.As/errors.Is against these instead of string matching.
package chattyerr

import "errors"

// Category tags one of the error families the connection handler and
// adapters must react to differently.
type Category string

const (
	CategoryFraming  Category = "framing"
	CategoryProtocol Category = "protocol"
	CategoryAuth     Category = "auth"
	CategoryUpstream Category = "upstream"
	CategoryCommand   Category = "command"
	CategoryReplay    Category = "replay"
	CategoryTransport Category = "transport"
)

// Err wraps an underlying cause with a category so it survives wrapping.
type Err struct {
	Category Category
	Op       string
	Err      error
}

func (e *Err) Error() string {
	if e.Op == "" {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Err) Unwrap() error { return e.Err }

// New builds a categorized error.
func New(cat Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Err{Category: cat, Op: op, Err: err}
}

// Is reports whether err carries category cat.
func Is(err error, cat Category) bool {
	var e *Err
	if errors.As(err, &e) {
		return e.Category == cat
	}
	return false
}

// Sentinel errors for conditions the connection handler branches on directly.
var (
	ErrTooLarge           = errors.New("envelope exceeds max_frame_bytes")
	ErrMalformed          = errors.New("malformed envelope")
	ErrNeedsMore          = errors.New("need more bytes")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDuplicateHello     = errors.New("duplicate hello")
	ErrUnsupportedCodec   = errors.New("unsupported codec")
	ErrReplayNotAvailable = errors.New("replay not available")
)

// UpstreamKind classifies an upstream REST/WS failure per spec.md §7.
type UpstreamKind string

const (
	UpstreamAuth       UpstreamKind = "auth"
	UpstreamRateLimit  UpstreamKind = "rate_limit"
	UpstreamConflict   UpstreamKind = "conflict"
	UpstreamNotFound   UpstreamKind = "not_found"
	UpstreamBadRequest UpstreamKind = "bad_request"
	UpstreamServer     UpstreamKind = "server_error"
	UpstreamOther      UpstreamKind = "other"
)

// UpstreamError carries the classified upstream failure plus any retry hint.
type UpstreamError struct {
	Kind       UpstreamKind
	StatusCode int
	RetryAfter int // seconds, 0 if absent
	Err        error
}

func (e *UpstreamError) Error() string {
	return "upstream " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status code to an UpstreamKind per spec.md §7.
func ClassifyStatus(status int) UpstreamKind {
	switch {
	case status == 401 || status == 403:
		return UpstreamAuth
	case status == 429:
		return UpstreamRateLimit
	case status == 409:
		return UpstreamConflict
	case status == 404:
		return UpstreamNotFound
	case status >= 400 && status < 500:
		return UpstreamBadRequest
	case status >= 500:
		return UpstreamServer
	default:
		return UpstreamOther
	}
}

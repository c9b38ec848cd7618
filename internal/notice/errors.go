package notice

import (
	"errors"
	"fmt"
)

// Sentinel errors for the board pipeline.
var (
	ErrTimeout         = errors.New("board request timed out")
	ErrUnreachable     = errors.New("board unreachable")
	ErrNoNotices       = errors.New("no notices")
	ErrMalformed       = errors.New("malformed board document")
	ErrInvalidCategory = errors.New("invalid category")
	ErrDuplicateKey    = errors.New("duplicate notice id")
)

// ParseKind classifies a failed fetch-and-parse.
type ParseKind string

// Parse failure kinds.
const (
	KindTimeout     ParseKind = "timeout"
	KindUnreachable ParseKind = "unreachable"
	KindNoNotices   ParseKind = "no_notices"
	KindMalformed   ParseKind = "malformed"
)

// ParseError is returned by extractors. Err is one of the sentinels above,
// possibly wrapping the transport error.
type ParseError struct {
	Kind ParseKind
	URL  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("parse %s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError builds a ParseError whose kind follows the wrapped sentinel.
func NewParseError(url string, err error) *ParseError {
	return &ParseError{Kind: KindOf(err), URL: url, Err: err}
}

// KindOf maps an error onto a parse kind. Unknown errors count as unreachable.
func KindOf(err error) ParseKind {
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNoNotices):
		return KindNoNotices
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	default:
		return KindUnreachable
	}
}

// IsParseError reports whether err came out of the fetch-and-parse step.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsServiceUnavailable reports whether the board itself was slow or down.
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}

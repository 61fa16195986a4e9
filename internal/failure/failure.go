// Package failure defines the typed errors the pipeline surfaces to operators
// and to query callers.
//
// Four kinds exist:
//   - SourceUnavailable: a raw feed could not be fetched and no fallback copy exists
//   - Integrity: a structural invariant failed; the ingestion run is aborted
//   - Query: malformed read parameters; returned to the caller
//   - Config: a mapping or configuration gap; fails at load time
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	KindSourceUnavailable Kind = iota + 1
	KindIntegrity
	KindQuery
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindSourceUnavailable:
		return "source_unavailable"
	case KindIntegrity:
		return "integrity_violation"
	case KindQuery:
		return "query_failure"
	case KindConfig:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Op      string   // stage or operation that failed, e.g. "normalize.confirmed"
	Message string   // human-readable summary
	Details []string // offending entities, dates or parameters
	Err     error    // underlying cause (optional)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Details, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Integrity builds a KindIntegrity error.
func Integrity(op string, details []string, format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Message: fmt.Sprintf(format, args...), Details: details}
}

// Config builds a KindConfig error.
func Config(op string, details []string, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Op: op, Message: fmt.Sprintf(format, args...), Details: details}
}

// Query builds a KindQuery error.
func Query(op string, format string, args ...any) *Error {
	return &Error{Kind: KindQuery, Op: op, Message: fmt.Sprintf(format, args...)}
}

// SourceUnavailable wraps a fetch failure that could not be recovered.
func SourceUnavailable(op string, err error) *Error {
	return &Error{Kind: KindSourceUnavailable, Op: op, Message: "source unavailable and no fallback copy", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Package errs defines the typed error kinds this engine can surface and
// their PostgreSQL SQLSTATE mapping (spec §7).
package errs

import "fmt"

// Kind enumerates the error categories a statement can fail with.
type Kind string

const (
	ParseError           Kind = "ParseError"
	SyntaxError          Kind = "SyntaxError"
	UndefinedTable       Kind = "UndefinedTable"
	UndefinedColumn      Kind = "UndefinedColumn"
	UndefinedFunction    Kind = "UndefinedFunction"
	UndefinedRole        Kind = "UndefinedRole"
	UndefinedSchema      Kind = "UndefinedSchema"
	TypeMismatch         Kind = "TypeMismatch"
	NotNullViolation     Kind = "NotNullViolation"
	UniqueViolation      Kind = "UniqueViolation"
	ForeignKeyViolation  Kind = "ForeignKeyViolation"
	CheckViolation       Kind = "CheckViolation"
	PermissionDenied     Kind = "PermissionDenied"
	DivisionByZero       Kind = "DivisionByZero"
	NumericOverflow      Kind = "NumericOverflow"
	InvalidCast          Kind = "InvalidCast"
	JsonParseError       Kind = "JsonParseError"
	SubqueryCardinality  Kind = "SubqueryCardinality"
	TransactionState     Kind = "TransactionStateError"
	SerializationFailure Kind = "SerializationFailure"
	DeadlockDetected     Kind = "DeadlockDetected"
	ResourceExhausted    Kind = "ResourceExhausted"
	KvBackendError       Kind = "KvBackendError"
	FeatureNotSupported  Kind = "FeatureNotSupported"
)

// sqlState maps each Kind to the PostgreSQL SQLSTATE a wire front should
// report to the client. Values follow Appendix A of the PostgreSQL manual.
var sqlState = map[Kind]string{
	ParseError:           "42601",
	SyntaxError:          "42601",
	UndefinedTable:       "42P01",
	UndefinedColumn:      "42703",
	UndefinedFunction:    "42883",
	UndefinedRole:        "42704",
	UndefinedSchema:      "3F000",
	TypeMismatch:         "42804",
	NotNullViolation:     "23502",
	UniqueViolation:      "23505",
	ForeignKeyViolation:  "23503",
	CheckViolation:       "23514",
	PermissionDenied:     "42501",
	DivisionByZero:       "22012",
	NumericOverflow:      "22003",
	InvalidCast:          "22P02",
	JsonParseError:       "22032",
	SubqueryCardinality:  "21000",
	TransactionState:     "25P02",
	SerializationFailure: "40001",
	DeadlockDetected:     "40P01",
	ResourceExhausted:    "53200",
	KvBackendError:       "58030",
	FeatureNotSupported:  "0A000",
}

// Error is the single error type this engine returns across every
// component; the wire front maps it to a PostgreSQL ErrorResponse.
type Error struct {
	Kind     Kind
	Message  string
	Detail   string
	Position int // 1-based byte offset into the statement text, 0 if unknown
	Cause    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// SQLState returns the PostgreSQL SQLSTATE code for this error's Kind.
func (e *Error) SQLState() string {
	if s, ok := sqlState[e.Kind]; ok {
		return s
	}
	return "XX000"
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetail attaches a detail string and returns the same error for chaining.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithPosition attaches a 1-based byte position and returns the same error.
func (e *Error) WithPosition(pos int) *Error {
	e.Position = pos
	return e
}

// KindOf returns the Kind of the first *Error found in err's Unwrap
// chain, and false when the chain holds no *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

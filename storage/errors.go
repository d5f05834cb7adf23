package storage

import "fmt"

// Error is a sentinel error returned by transaction operations. Only
// ErrConflictRetry is recovery-driven from the caller's perspective; the
// rest indicate a programming error or a corrupt on-disk state.
type Error struct {
	Kind Kind
	msg  string
}

// Kind enumerates the storage error taxonomy.
type Kind int

const (
	KindConflictRetry Kind = iota
	KindTupleNotFound
	KindDuplicateTuple
	KindEncodingFailure
	KindDatabaseError
)

func (k Kind) String() string {
	switch k {
	case KindConflictRetry:
		return "ConflictRetry"
	case KindTupleNotFound:
		return "TupleNotFound"
	case KindDuplicateTuple:
		return "DuplicateTuple"
	case KindEncodingFailure:
		return "EncodingFailure"
	case KindDatabaseError:
		return "DatabaseError"
	default:
		return "UnknownStorageError"
	}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Is reports whether target is a *Error with the same Kind, so callers can
// use errors.Is(err, ErrConflictRetry).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Sentinel values for errors.Is comparisons.
var (
	ErrConflictRetry   = &Error{Kind: KindConflictRetry}
	ErrTupleNotFound   = &Error{Kind: KindTupleNotFound}
	ErrDuplicateTuple  = &Error{Kind: KindDuplicateTuple}
	ErrEncodingFailure = &Error{Kind: KindEncodingFailure}
	ErrDatabaseError   = &Error{Kind: KindDatabaseError}
)

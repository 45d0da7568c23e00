package attendance

import "errors"

// Kind classifies a failure independently of the operation that raised it.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindOutOfRange      Kind = "out_of_range"
	KindConflict        Kind = "conflict"
	KindInvalidInput    Kind = "invalid_input"
)

// Error is a domain failure. errors.Is matches on Kind, and on Msg when the
// target carries one, so a specific error also matches its kind sentinel.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Is lets errors.Is(err, ErrConflict) hold for every conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Kind sentinels.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrOutOfRange      = &Error{Kind: KindOutOfRange}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
)

var (
	ErrSessionClosed        = newError(KindInvalidState, "attendance session is closed")
	ErrSessionAlreadyClosed = newError(KindInvalidState, "attendance session already ended")
	ErrCourseInactive       = newError(KindInvalidState, "course is not active")
	ErrNotEnrolled          = newError(KindUnauthorized, "not enrolled in this course")
	ErrNotCourseOwner       = newError(KindUnauthorized, "only the course lecturer can do this")
	ErrNotLecturer          = newError(KindUnauthorized, "lecturer role required")
	ErrNotStudent           = newError(KindUnauthorized, "student role required")
	ErrAlreadyCheckedIn     = newError(KindConflict, "attendance already recorded for this session")
	ErrAlreadyEnrolled      = newError(KindConflict, "already enrolled in this course")
	ErrJoinPending          = newError(KindConflict, "a join request is already pending")
	ErrRosterEntryLinked    = newError(KindConflict, "roster entry is already linked")
	ErrJoinDecided          = newError(KindInvalidState, "join request already decided")
)

// NotFound builds a not-found error naming the missing entity.
func NotFound(entity string) error {
	return newError(KindNotFound, entity+" not found")
}

// Conflict builds a conflict error with msg.
func Conflict(msg string) error {
	return newError(KindConflict, msg)
}

func invalidInput(msg string) error {
	return newError(KindInvalidInput, msg)
}

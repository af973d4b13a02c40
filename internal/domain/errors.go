package domain

import "fmt"

// ErrorKind buckets every failure a public operation can return.
// Configuration errors are fatal and never retried; state errors are
// surfaced to the user; concurrency errors may be retried once by the
// caller; transport errors belong to the HTTP client layer.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindState         ErrorKind = "state"
	KindConcurrency   ErrorKind = "concurrency"
	KindTransport     ErrorKind = "transport"
)

// Error is a kinded error with a stable machine-readable code.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches two domain errors by code so sentinel comparison works
// through errors.Is even when the message differs.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks. Constructors below attach context.
var (
	ErrInvalidTransition      = &Error{Kind: KindState, Code: "invalid_transition", Message: "invalid status transition"}
	ErrAlreadyCheckedOut      = &Error{Kind: KindState, Code: "already_checked_out", Message: "task already checked out"}
	ErrNotOwner               = &Error{Kind: KindState, Code: "not_owner", Message: "task not owned by requester"}
	ErrDuplicateTask          = &Error{Kind: KindState, Code: "duplicate_task", Message: "task already exists for entity and stage"}
	ErrConcurrentModification = &Error{Kind: KindConcurrency, Code: "concurrent_modification", Message: "version append raced another writer"}
	ErrUnresolvedPlaceholder  = &Error{Kind: KindConfiguration, Code: "unresolved_placeholder", Message: "template placeholder not resolvable"}
	ErrGenusMismatch          = &Error{Kind: KindConfiguration, Code: "genus_mismatch", Message: "stage genus does not match entity tag genus"}
)

// InvalidTransition reports an illegal status change.
func InvalidTransition(from, to string) *Error {
	return newError(KindState, "invalid_transition", "invalid status transition %s -> %s", from, to)
}

// AlreadyCheckedOut reports a checkout attempt on an owned task.
func AlreadyCheckedOut(owner string) *Error {
	return newError(KindState, "already_checked_out", "task checked out by %s", owner)
}

// NotOwner reports an owner-only operation attempted by someone else.
func NotOwner(user string) *Error {
	return newError(KindState, "not_owner", "task not checked out by %s", user)
}

// DuplicateTask reports a second task for the same (entity, stage).
func DuplicateTask(entityID, stageID string) *Error {
	return newError(KindState, "duplicate_task", "task already exists for entity %s stage %s", entityID, stageID)
}

// UnresolvedPlaceholder reports a template referencing a field absent
// from the resolution context.
func UnresolvedPlaceholder(name string) *Error {
	return newError(KindConfiguration, "unresolved_placeholder", "template placeholder {%s} not resolvable", name)
}

// GenusMismatch reports a task whose stage and entity tag disagree on genus.
func GenusMismatch(stageGenus, tagGenus string) *Error {
	return newError(KindConfiguration, "genus_mismatch", "stage genus %s does not match entity tag genus %s", stageGenus, tagGenus)
}

// ConfigError reports invalid catalog or template configuration.
func ConfigError(format string, args ...any) *Error {
	return newError(KindConfiguration, "invalid_configuration", format, args...)
}

package domain

import "errors"

// ErrorKind tags an error by the handling policy spec §7 assigns it,
// not by its Go type. The HTTP edge (internal/infrastructure/api/rest)
// maps Kind to a status code; nothing upstream of that edge branches on
// HTTP semantics.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindAuthorization        ErrorKind = "authorization"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindTransientExternal    ErrorKind = "transient_external"
	KindInternalConsistency  ErrorKind = "internal_consistency"
	KindDataParse            ErrorKind = "data_parse"
)

// CoreError is the tagged-result type spec §9 calls for in place of
// exception-as-control-flow: a Kind plus a human-readable message and
// an optional wrapped cause.
type CoreError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error { return e.Err }

func newCoreError(kind ErrorKind, msg string) *CoreError {
	return &CoreError{Kind: kind, Message: msg}
}

func NewValidationError(msg string) *CoreError          { return newCoreError(KindValidation, msg) }
func NewAuthorizationError(msg string) *CoreError        { return newCoreError(KindAuthorization, msg) }
func NewNotFoundError(msg string) *CoreError             { return newCoreError(KindNotFound, msg) }
func NewConflictError(msg string) *CoreError             { return newCoreError(KindConflict, msg) }
func NewTransientExternalError(msg string, cause error) *CoreError {
	return &CoreError{Kind: KindTransientExternal, Message: msg, Err: cause}
}
func NewInternalConsistencyError(msg string) *CoreError {
	return newCoreError(KindInternalConsistency, msg)
}
func NewDataParseError(msg string, cause error) *CoreError {
	return &CoreError{Kind: KindDataParse, Message: msg, Err: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to
// KindInternalConsistency for untagged errors — an unrecognised error
// degrades rather than crashing the engine, per §7's propagation policy.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternalConsistency
}

// IsRetryable reports whether err's kind is one the call site should
// retry with bounded backoff (§7: transient external only).
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientExternal
}

// Sentinel not-found errors for the common entity lookups. The HTTP
// edge matches them with errors.Is. NewNotFoundError carries only a
// message, so the repositories' not-found errors do not wrap these; the
// HTTP edge maps those by their Kind.
var (
	ErrWorkflowNotFound         = errors.New("workflow not found")
	ErrNodeNotFound             = errors.New("node not found")
	ErrEdgeNotFound             = errors.New("edge not found")
	ErrProcessorNotFound        = errors.New("processor not found")
	ErrWorkflowInstanceNotFound = errors.New("workflow instance not found")
	ErrNodeInstanceNotFound     = errors.New("node instance not found")
	ErrTaskNotFound             = errors.New("task not found")
	ErrSubdivisionNotFound      = errors.New("subdivision not found")
)

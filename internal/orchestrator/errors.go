package orchestrator

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrMissingSession   = errors.New("session id is required")
	ErrMissingPrincipal = errors.New("principal id is required")
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidStatus    = errors.New("invalid task status")
	ErrInvalidSpec      = errors.New("invalid task spec")
	ErrInvalidPlan      = errors.New("invalid plan")
)

// Machine-readable codes carried in Result.Error.
const (
	CodeMissingSession   = "missing_session_id"
	CodeMissingPrincipal = "missing_principal_id"
	CodeTaskNotFound     = "task_not_found"
	CodeInvalidStatus    = "invalid_status"
	CodeInvalidSpec      = "invalid_task_spec"
	CodeInvalidPlan      = "invalid_plan"
	CodeStoreWriteFailed = "store_write_failed"
)

// errorCode maps an error to its Result code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingSession):
		return CodeMissingSession
	case errors.Is(err, ErrMissingPrincipal):
		return CodeMissingPrincipal
	case errors.Is(err, ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, ErrInvalidSpec):
		return CodeInvalidSpec
	case errors.Is(err, ErrInvalidPlan):
		return CodeInvalidPlan
	default:
		return CodeStoreWriteFailed
	}
}

package orchestrator

import "fmt"

// Error codes reported to callers.
const (
	CodeArgUnknown         = "E_ARG_UNKNOWN"
	CodeCmdUnknown         = "E_CMD_UNKNOWN"
	CodeNameRequired       = "E_NAME_REQUIRED"
	CodePromptRequired     = "E_PROMPT_REQUIRED"
	CodeCmdMissing         = "E_CMD_MISSING"
	CodeCwdInvalid         = "E_CWD_INVALID"
	CodeNameExists         = "E_NAME_EXISTS"
	CodeNameNotFound       = "E_NAME_NOT_FOUND"
	CodeAlreadyRunning     = "E_ALREADY_RUNNING"
	CodeSessionNotFound    = "E_SESSION_NOT_FOUND"
	CodeSessionIDMissing   = "E_SESSIONID_MISSING"
	CodeExportTimeout      = "E_EXPORT_TIMEOUT"
	CodeExportFailed       = "E_EXPORT_FAILED"
	CodePatternRequired    = "E_PATTERN_REQUIRED"
	CodePatternInvalid     = "E_PATTERN_INVALID"
	CodeRoleInvalid        = "E_ROLE_INVALID"
	CodeNotRunning         = "E_NOT_RUNNING"
	CodeSignalUnsupported  = "E_SIGNAL_UNSUPPORTED"
	CodeSignalFailed       = "E_SIGNAL_FAILED"
	CodeWaitNameRequired   = "E_WAIT_NAME_REQUIRED"
	CodeWatchInvalid       = "E_WATCH_INVALID"
	CodeLockTimeout        = "E_LOCK_TIMEOUT"
	CodeUnexpected         = "E_UNEXPECTED"
	CodeInvalidEnvironment = "E_ENV_INVALID"
)

// Error is a command failure with a stable machine-readable code. Commands
// return it before mutating anything.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, msg string, details map[string]any) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

// NewError builds an Error for callers outside the package, such as flag
// validation in the CLI.
func NewError(code, msg string, details map[string]any) *Error {
	return newError(code, msg, details)
}

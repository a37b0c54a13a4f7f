package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeWrongDocumentKind = "WRONG_DOCUMENT_KIND"
	ErrCodeMissingSection    = "MISSING_SECTION"
	ErrCodeInvalidNode       = "INVALID_NODE"
	ErrCodeInvalidConnection = "INVALID_CONNECTION"
	ErrCodeHistoryUnderflow  = "HISTORY_UNDERFLOW"
	ErrCodePersistence       = "PERSISTENCE_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeExecution         = "EXECUTION_ERROR"
)

// SyncError is the structured error type for all core operations.
type SyncError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SyncError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SyncError.
func NewError(code, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// NewErrorf creates a new SyncError with a formatted message.
func NewErrorf(code, format string, args ...any) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *SyncError) WithNode(nodeID string) *SyncError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *SyncError) WithCause(err error) *SyncError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SyncError) WithDetails(details map[string]any) *SyncError {
	e.Details = details
	return e
}

// ErrCode extracts the code from a SyncError, or "" for any other error.
func ErrCode(err error) string {
	if se, ok := err.(*SyncError); ok {
		return se.Code
	}
	return ""
}

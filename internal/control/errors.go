package control

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire error codes. Everything else is surfaced as a generic failure.
const (
	CodeNotFound  = "not_found"
	CodeConflict  = "conflict"
	CodeBusy      = "busy"
	CodeTransient = "transient"
)

// ErrNotFound reports an absent entity. Drives the reconciliation
// poller's retry loop and direct-lookup "not found" surfaces.
var ErrNotFound = errors.New("not found")

// ErrBusy reports a rejected concurrent mutation on the same entity.
var ErrBusy = errors.New("operation already in progress")

// TransientError wraps a network or process hiccup that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient backend error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports a worktree-creation path collision. It carries
// enough context for an explicit user decision: a disambiguated name
// that is known to be free, and the archived worktree that previously
// occupied the path, if any.
type ConflictError struct {
	Path               string `json:"path"`
	SuggestedName      string `json:"suggested_name"`
	ArchivedWorktreeID string `json:"archived_worktree_id,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("path already exists: %s", e.Path)
}

// wireError maps an error to its structured wire form.
func wireError(err error) *ErrorInfo {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		details, _ := json.Marshal(conflict)
		return &ErrorInfo{Code: CodeConflict, Message: conflict.Error(), Details: details}
	case errors.Is(err, ErrNotFound):
		return &ErrorInfo{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrBusy):
		return &ErrorInfo{Code: CodeBusy, Message: err.Error()}
	default:
		var transient *TransientError
		if errors.As(err, &transient) {
			return &ErrorInfo{Code: CodeTransient, Message: err.Error()}
		}
		return &ErrorInfo{Message: err.Error()}
	}
}

// FromWire reconstructs a typed error from its wire form so callers on
// the client side can recover by taxonomy rather than string matching.
func FromWire(info *ErrorInfo) error {
	if info == nil {
		return nil
	}
	switch info.Code {
	case CodeNotFound:
		return ErrNotFound
	case CodeBusy:
		return ErrBusy
	case CodeTransient:
		return &TransientError{Err: errors.New(info.Message)}
	case CodeConflict:
		var conflict ConflictError
		if err := json.Unmarshal(info.Details, &conflict); err == nil {
			return &conflict
		}
		return &ConflictError{Path: info.Message}
	default:
		return errors.New(info.Message)
	}
}

package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without string matching.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindToolNotFound  Kind = "tool_not_found"
	KindTool          Kind = "tool"
	KindIntegrity     Kind = "integrity"
	KindResource      Kind = "resource"
	KindNotFound      Kind = "not_found"
	KindCancelled     Kind = "cancelled"
)

// Error is a fatal failure of a backup or restore stage.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error returns the user-facing message. The cause chain is kept for logs.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// WithOp records the stage that failed.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Configuration(format string, args ...any) *Error {
	return New(KindConfiguration, fmt.Sprintf(format, args...), nil)
}

func ToolNotFound(tool string) *Error {
	return New(KindToolNotFound, fmt.Sprintf("%s command not found; make sure it is installed and on PATH", tool), nil)
}

// Tool reports a utility that ran but exited unsuccessfully.
func Tool(tool string, stderr string, cause error) *Error {
	msg := fmt.Sprintf("%s failed", tool)
	if stderr != "" {
		msg = fmt.Sprintf("%s failed: %s", tool, stderr)
	}
	return New(KindTool, msg, cause)
}

func Integrity(format string, args ...any) *Error {
	return New(KindIntegrity, fmt.Sprintf(format, args...), nil)
}

func Resource(message string, cause error) *Error {
	return New(KindResource, message, cause)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap attaches a message to err unless it already carries a kind.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(kind, message, err)
}

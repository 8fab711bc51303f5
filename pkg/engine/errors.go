package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fatal task error.
type ErrorKind string

const (
	// KindMissingParam indicates a required task parameter was absent.
	// Raised before any side effect of the task.
	KindMissingParam ErrorKind = "missing-param"

	// KindCritical indicates an operation that would be unsafe or
	// nonsensical for the current state, e.g. removing a running workload.
	KindCritical ErrorKind = "critical"

	// KindUnresolvedOp indicates an operation key with no registered plugin.
	KindUnresolvedOp ErrorKind = "unresolved-op"

	// KindUnsupportedOp indicates a plugin that implements neither the
	// requested lifecycle method nor the catch-all "any" method.
	KindUnsupportedOp ErrorKind = "unsupported-op"
)

// TaskError is a fatal error raised during task execution. Every TaskError
// halts the run; recoverable conditions are never modeled as errors but as
// a Result with Changed=false and an explanatory message.
type TaskError struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Plugin is the name of the plugin that raised the error, if known.
	Plugin string

	// Op is the operation key of the failing task, if known.
	Op string

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	subject := e.Plugin
	if subject == "" {
		subject = e.Op
	}
	if subject != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, subject, e.Message, e.Err)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Kind, subject, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two TaskErrors match when
// their kinds match.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewMissingParamError reports a required parameter that was not supplied.
// It names both the offending key and the plugin that requires it.
func NewMissingParamError(key, plugin string) *TaskError {
	return &TaskError{
		Kind:    KindMissingParam,
		Plugin:  plugin,
		Message: fmt.Sprintf("missing required parameter %q", key),
	}
}

// NewCriticalError reports an operation that is unsafe for the current
// state. Critical errors halt the entire run with no rollback.
func NewCriticalError(plugin, message string) *TaskError {
	return &TaskError{
		Kind:    KindCritical,
		Plugin:  plugin,
		Message: message,
	}
}

// NewCriticalErrorf is NewCriticalError with formatting.
func NewCriticalErrorf(plugin, format string, args ...any) *TaskError {
	return NewCriticalError(plugin, fmt.Sprintf(format, args...))
}

// WrapCritical attaches an underlying cause to a critical error.
func WrapCritical(plugin, message string, err error) *TaskError {
	return &TaskError{
		Kind:    KindCritical,
		Plugin:  plugin,
		Message: message,
		Err:     err,
	}
}

// NewUnresolvedOpError reports an operation key that no plugin is
// registered for. This is a configuration error and always fatal.
func NewUnresolvedOpError(op string) *TaskError {
	return &TaskError{
		Kind:    KindUnresolvedOp,
		Op:      op,
		Message: "no plugin registered for operation key",
	}
}

// NewUnsupportedOpError reports a plugin that cannot serve the requested
// action.
func NewUnsupportedOpError(plugin string, action Action) *TaskError {
	return &TaskError{
		Kind:    KindUnsupportedOp,
		Plugin:  plugin,
		Message: fmt.Sprintf("plugin does not support action %q", action),
	}
}

// IsMissingParam reports whether err is a missing-parameter error.
func IsMissingParam(err error) bool {
	var e *TaskError
	return errors.As(err, &e) && e.Kind == KindMissingParam
}

// IsCritical reports whether err is a critical-function failure.
func IsCritical(err error) bool {
	var e *TaskError
	return errors.As(err, &e) && e.Kind == KindCritical
}

// IsFatal reports whether err halts a run. Every TaskError is fatal, and
// so is any unclassified error escaping a plugin.
func IsFatal(err error) bool {
	return err != nil
}

// ValidateParams verifies that all required parameter keys are present in
// params, returning a missing-parameter error naming the first absent key
// and the plugin that requires it. Validation always precedes side effects.
func ValidateParams(params Params, required []string, plugin string) error {
	for _, key := range required {
		if !params.Has(key) {
			return NewMissingParamError(key, plugin)
		}
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
)

// Action is a lifecycle action executed against a module.
type Action string

const (
	// ActionInstall provisions a module from absent to present-running.
	ActionInstall Action = "install"

	// ActionRemove tears a stopped module down to absent.
	ActionRemove Action = "remove"

	// ActionStart transitions present-stopped to present-running.
	ActionStart Action = "start"

	// ActionStop transitions present-running to present-stopped.
	ActionStop Action = "stop"

	// ActionAny is the catch-all for non-lifecycle operations such as
	// downloads. Plugins that serve only ActionAny are still addressable
	// from any lifecycle task list.
	ActionAny Action = "any"
)

// ParseAction converts a string to a known Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionInstall, ActionRemove, ActionStart, ActionStop, ActionAny:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown lifecycle action %q", s)
	}
}

// Result is the outcome of one plugin invocation. Changed is true only if
// the invocation mutated external state; a repeated run with no drift must
// report Changed=false.
type Result struct {
	// Changed reports whether external state was mutated.
	Changed bool

	// Message is an optional explanation surfaced to the caller, set for
	// both mutations and skipped work.
	Message string
}

// Plugin is a unit of real-world work addressable from a task's operation
// key. Implementations must be idempotent: a repeated invocation with
// identical parameters reports Changed=false and does not fail. A plugin
// receives only its task's parameters plus the injected environment
// context, never the full module descriptor.
type Plugin interface {
	// Aliases returns the operation keys this plugin is registered under.
	Aliases() []string

	// Required returns the parameter keys that must be present before the
	// given action may execute.
	Required(action Action) []string

	Install(ctx context.Context, env *EnvContext, params Params) (Result, error)
	Remove(ctx context.Context, env *EnvContext, params Params) (Result, error)
	Start(ctx context.Context, env *EnvContext, params Params) (Result, error)
	Stop(ctx context.Context, env *EnvContext, params Params) (Result, error)
	Any(ctx context.Context, env *EnvContext, params Params) (Result, error)
}

// ErrNotImplemented is returned by UnimplementedPlugin's methods. The
// runner falls back to Any for lifecycle actions a plugin does not
// implement, and raises an unsupported-op error when Any is missing too.
var ErrNotImplemented = errors.New("operation not implemented")

// UnimplementedPlugin provides default method implementations so concrete
// plugins embed it and implement only the actions they support.
type UnimplementedPlugin struct{}

// Required returns no required parameters by default.
func (UnimplementedPlugin) Required(Action) []string { return nil }

func (UnimplementedPlugin) Install(context.Context, *EnvContext, Params) (Result, error) {
	return Result{}, ErrNotImplemented
}

func (UnimplementedPlugin) Remove(context.Context, *EnvContext, Params) (Result, error) {
	return Result{}, ErrNotImplemented
}

func (UnimplementedPlugin) Start(context.Context, *EnvContext, Params) (Result, error) {
	return Result{}, ErrNotImplemented
}

func (UnimplementedPlugin) Stop(context.Context, *EnvContext, Params) (Result, error) {
	return Result{}, ErrNotImplemented
}

func (UnimplementedPlugin) Any(context.Context, *EnvContext, Params) (Result, error) {
	return Result{}, ErrNotImplemented
}

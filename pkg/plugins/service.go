package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/modulab/modulab/pkg/engine"
)

// ServicePlugin drives a host service through systemctl. The "state"
// parameter selects the transition: started, stopped, restarted or
// reloaded. Start and stop are idempotent against the unit's current
// state; restart and reload always act.
type ServicePlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *ServicePlugin) Aliases() []string {
	return []string{"service"}
}

// Required implements engine.Plugin.
func (p *ServicePlugin) Required(engine.Action) []string {
	return []string{"name"}
}

// Any applies the requested service state.
func (p *ServicePlugin) Any(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	name := params.String("name")
	state := params.StringOr("state", "started")

	switch state {
	case "restarted":
		if _, err := env.Commands.Run(ctx, "systemctl", "restart", name); err != nil {
			return engine.Result{}, engine.WrapCritical("service", fmt.Sprintf("failed to restart %s", name), err)
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("Restarted %s", name)}, nil

	case "reloaded":
		if _, err := env.Commands.Run(ctx, "systemctl", "reload", name); err != nil {
			return engine.Result{}, engine.WrapCritical("service", fmt.Sprintf("failed to reload %s", name), err)
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("Reloaded %s", name)}, nil

	case "started":
		if p.isActive(ctx, env, name) {
			return engine.Result{Message: fmt.Sprintf("The %s service is already running.", name)}, nil
		}
		if _, err := env.Commands.Run(ctx, "systemctl", "start", name); err != nil {
			return engine.Result{}, engine.WrapCritical("service", fmt.Sprintf("failed to start %s", name), err)
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("Started %s", name)}, nil

	case "stopped":
		if !p.isActive(ctx, env, name) {
			return engine.Result{Message: fmt.Sprintf("The %s service is not running.", name)}, nil
		}
		if _, err := env.Commands.Run(ctx, "systemctl", "stop", name); err != nil {
			return engine.Result{}, engine.WrapCritical("service", fmt.Sprintf("failed to stop %s", name), err)
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("Stopped %s", name)}, nil

	default:
		return engine.Result{}, engine.NewCriticalErrorf("service", "unknown service state %q", state)
	}
}

func (p *ServicePlugin) isActive(ctx context.Context, env *engine.EnvContext, name string) bool {
	out, err := env.Commands.Run(ctx, "systemctl", "is-active", name)
	return err == nil && strings.TrimSpace(string(out)) == "active"
}

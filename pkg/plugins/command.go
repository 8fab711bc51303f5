package plugins

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/modulab/modulab/pkg/engine"
)

// CommandPlugin runs an arbitrary command. The optional "creates"
// parameter names a path whose existence marks the command as already
// applied, which is the only idempotence a raw command can offer.
type CommandPlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *CommandPlugin) Aliases() []string {
	return []string{"command"}
}

// Required implements engine.Plugin.
func (p *CommandPlugin) Required(engine.Action) []string {
	return []string{"cmd"}
}

// Any runs the command, splitting it on whitespace. Use "cwd" to set the
// working directory.
func (p *CommandPlugin) Any(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	cmdline := params.String("cmd")

	if creates := params.String("creates"); creates != "" {
		if _, err := os.Stat(creates); err == nil {
			return engine.Result{Message: fmt.Sprintf("Skipped: %s already exists.", creates)}, nil
		}
	}

	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return engine.Result{}, engine.NewCriticalError("command", "cmd parameter is empty")
	}

	out, err := env.Commands.RunIn(ctx, params.String("cwd"), fields[0], fields[1:]...)
	if err != nil {
		return engine.Result{}, engine.WrapCritical("command", fmt.Sprintf("command %q failed", fields[0]), err)
	}

	msg := strings.TrimSpace(string(out))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return engine.Result{Changed: true, Message: msg}, nil
}

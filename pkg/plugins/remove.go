package plugins

import (
	"context"
	"fmt"
	"os"

	"github.com/modulab/modulab/pkg/engine"
)

// RemovePlugin deletes a path. An absent path is success without change.
type RemovePlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *RemovePlugin) Aliases() []string {
	return []string{"rm"}
}

// Required implements engine.Plugin.
func (p *RemovePlugin) Required(engine.Action) []string {
	return []string{"path"}
}

// Any removes the path, recursively for directories.
func (p *RemovePlugin) Any(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	path := params.String("path")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return engine.Result{Message: fmt.Sprintf("The path %s is already absent.", path)}, nil
	}
	if err := os.RemoveAll(path); err != nil {
		return engine.Result{}, engine.WrapCritical("rm", fmt.Sprintf("failed to remove %s", path), err)
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Removed %s", path)}, nil
}

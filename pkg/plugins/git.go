package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modulab/modulab/pkg/engine"
)

// GitPlugin clones a module's source repository to its destination path.
type GitPlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *GitPlugin) Aliases() []string {
	return []string{"git"}
}

// Required implements engine.Plugin.
func (p *GitPlugin) Required(action engine.Action) []string {
	if action == engine.ActionRemove {
		return []string{"dest"}
	}
	return []string{"repo", "dest"}
}

// Install clones repo into dest. A destination that already holds a
// checkout is left as is; stale checkouts are the operator's concern,
// not silently re-cloned over.
func (p *GitPlugin) Install(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	repo := params.String("repo")
	dest := params.String("dest")

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		return engine.Result{Message: fmt.Sprintf("A checkout already exists at %s.", dest)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return engine.Result{}, engine.WrapCritical("git", "failed to create parent directory", err)
	}

	args := []string{"clone", "--depth", "1"}
	if branch := params.String("branch"); branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repo, dest)

	if _, err := env.Commands.Run(ctx, "git", args...); err != nil {
		return engine.Result{}, engine.WrapCritical("git", fmt.Sprintf("failed to clone %s", repo), err)
	}

	return engine.Result{Changed: true, Message: fmt.Sprintf("Cloned %s to %s", repo, dest)}, nil
}

// Remove deletes the checkout directory.
func (p *GitPlugin) Remove(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	dest := params.String("dest")

	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return engine.Result{Message: fmt.Sprintf("No checkout exists at %s.", dest)}, nil
	}
	if err := os.RemoveAll(dest); err != nil {
		return engine.Result{}, engine.WrapCritical("git", fmt.Sprintf("failed to remove %s", dest), err)
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Removed checkout at %s", dest)}, nil
}

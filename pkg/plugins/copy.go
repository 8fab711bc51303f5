package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modulab/modulab/pkg/engine"
)

// CopyPlugin writes literal content to a destination file. Writes are
// preceded by a readback-and-compare so an unchanged file is never
// rewritten.
type CopyPlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *CopyPlugin) Aliases() []string {
	return []string{"copy"}
}

// Required implements engine.Plugin.
func (p *CopyPlugin) Required(action engine.Action) []string {
	if action == engine.ActionRemove {
		return []string{"dest"}
	}
	return []string{"dest", "content"}
}

// Install ensures dest contains exactly the given content, with the
// optional "mode" parameter applied (octal string or integer).
func (p *CopyPlugin) Install(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	dest := params.String("dest")
	content := []byte(params.String("content"))

	mode, err := fileMode(params, 0644)
	if err != nil {
		return engine.Result{}, engine.WrapCritical("copy", "invalid mode parameter", err)
	}

	existing, err := os.ReadFile(dest)
	if err == nil && bytes.Equal(existing, content) {
		// Content already in place; still converge permissions.
		if err := os.Chmod(dest, mode); err != nil {
			return engine.Result{}, engine.WrapCritical("copy", "failed to set file mode", err)
		}
		return engine.Result{Message: fmt.Sprintf("The file %s is already up to date.", dest)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return engine.Result{}, engine.WrapCritical("copy", "failed to create parent directory", err)
	}
	if err := os.WriteFile(dest, content, mode); err != nil {
		return engine.Result{}, engine.WrapCritical("copy", fmt.Sprintf("failed to write %s", dest), err)
	}
	if err := os.Chmod(dest, mode); err != nil {
		return engine.Result{}, engine.WrapCritical("copy", "failed to set file mode", err)
	}

	return engine.Result{Changed: true, Message: fmt.Sprintf("Wrote %s", dest)}, nil
}

// Remove deletes dest when present.
func (p *CopyPlugin) Remove(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	dest := params.String("dest")

	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return engine.Result{Message: fmt.Sprintf("The file %s is already absent.", dest)}, nil
	}
	if err := os.Remove(dest); err != nil {
		return engine.Result{}, engine.WrapCritical("copy", fmt.Sprintf("failed to remove %s", dest), err)
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Removed %s", dest)}, nil
}

// fileMode reads the optional "mode" parameter. Octal strings ("0644")
// and integers are accepted.
func fileMode(params engine.Params, def os.FileMode) (os.FileMode, error) {
	if !params.Has("mode") {
		return def, nil
	}
	// Strings are octal digit strings the way chmod reads them. Integers
	// carry the permission bits directly, which is what a YAML octal
	// literal like 0644 decodes to.
	if raw := params.String("mode"); raw != "" {
		return parseOctalMode(raw)
	}
	n, ok := params.Int("mode")
	if !ok {
		return 0, fmt.Errorf("mode %v is not numeric", params["mode"])
	}
	return os.FileMode(n), nil
}

func parseOctalMode(digits string) (os.FileMode, error) {
	var mode os.FileMode
	for _, d := range digits {
		if d < '0' || d > '7' {
			return 0, fmt.Errorf("mode %q is not octal", digits)
		}
		mode = mode<<3 | os.FileMode(d-'0')
	}
	return mode, nil
}

package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modulab/modulab/pkg/engine"
)

// DesktopPlugin integrates a module into the desktop shell: a desktop
// entry under the invoking user's applications directory, registration
// with the menu, and optionally a pin to the GNOME favorites. Everything
// here is best effort; a headless session or a missing integration tool
// downgrades to Changed=false with a message, never an error.
type DesktopPlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *DesktopPlugin) Aliases() []string {
	return []string{"desktop"}
}

// Required implements engine.Plugin.
func (p *DesktopPlugin) Required(action engine.Action) []string {
	if action == engine.ActionRemove {
		return []string{"filename"}
	}
	return []string{"filename", "content"}
}

// registerStrategy is one way of telling the desktop shell about an entry.
// Strategies are tried in declared order; the first success wins.
type registerStrategy struct {
	name  string
	apply func(ctx context.Context, env *engine.EnvContext, entryPath string) error
}

var installStrategies = []registerStrategy{
	{
		name: "xdg-desktop-menu",
		apply: func(ctx context.Context, env *engine.EnvContext, entryPath string) error {
			_, err := env.RunAsUser(ctx, "xdg-desktop-menu", "install", "--novendor", entryPath)
			return err
		},
	},
	{
		name: "update-desktop-database",
		apply: func(ctx context.Context, env *engine.EnvContext, entryPath string) error {
			_, err := env.RunAsUser(ctx, "update-desktop-database", filepath.Dir(entryPath))
			return err
		},
	},
}

var removeStrategies = []registerStrategy{
	{
		name: "xdg-desktop-menu",
		apply: func(ctx context.Context, env *engine.EnvContext, entryPath string) error {
			_, err := env.RunAsUser(ctx, "xdg-desktop-menu", "uninstall", "--novendor", entryPath)
			return err
		},
	},
	{
		name: "update-desktop-database",
		apply: func(ctx context.Context, env *engine.EnvContext, entryPath string) error {
			_, err := env.RunAsUser(ctx, "update-desktop-database", filepath.Dir(entryPath))
			return err
		},
	},
}

// Install writes the desktop entry and registers it with the shell.
func (p *DesktopPlugin) Install(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	if !env.HasDisplay() {
		return engine.Result{Message: "Not a supported desktop environment"}, nil
	}

	filename := desktopFilename(params.String("filename"))
	content := []byte(params.String("content"))
	entryPath := filepath.Join(appsDir(env), filename)

	changed := false
	var notes []string

	if err := os.MkdirAll(filepath.Dir(entryPath), 0755); err != nil {
		return engine.Result{}, engine.WrapCritical("desktop", "failed to create applications directory", err)
	}
	if err := env.Chown(filepath.Dir(entryPath)); err != nil {
		return engine.Result{}, engine.WrapCritical("desktop", "failed to fix applications directory ownership", err)
	}

	existing, err := os.ReadFile(entryPath)
	if err != nil || !bytes.Equal(existing, content) {
		if err := os.WriteFile(entryPath, content, 0755); err != nil {
			return engine.Result{}, engine.WrapCritical("desktop", fmt.Sprintf("failed to write %s", entryPath), err)
		}
		if err := env.Chown(entryPath); err != nil {
			return engine.Result{}, engine.WrapCritical("desktop", "failed to fix entry ownership", err)
		}
		changed = true
		notes = append(notes, "Desktop entry written")
	} else {
		notes = append(notes, "Desktop entry unchanged")
	}

	if name, err := applyFirst(ctx, env, installStrategies, entryPath); err == nil {
		notes = append(notes, "Registered via "+name)
	} else {
		notes = append(notes, "No desktop registration tool available")
	}

	if params.Bool("add_to_favorites") {
		favChanged, favNote := p.addToFavorites(ctx, env, filename)
		changed = changed || favChanged
		if favNote != "" {
			notes = append(notes, favNote)
		}
	}

	return engine.Result{Changed: changed, Message: strings.Join(notes, "; ")}, nil
}

// Remove unregisters and deletes the desktop entry.
func (p *DesktopPlugin) Remove(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	if !env.HasDisplay() {
		return engine.Result{Message: "Not a supported desktop environment"}, nil
	}

	filename := desktopFilename(params.String("filename"))
	entryPath := filepath.Join(appsDir(env), filename)

	changed := false
	var notes []string

	if name, err := applyFirst(ctx, env, removeStrategies, entryPath); err == nil {
		notes = append(notes, "Unregistered via "+name)
	}

	if _, err := os.Stat(entryPath); err == nil {
		if err := os.Remove(entryPath); err != nil {
			return engine.Result{}, engine.WrapCritical("desktop", fmt.Sprintf("failed to remove %s", entryPath), err)
		}
		changed = true
		notes = append(notes, "Desktop entry removed")
	} else {
		notes = append(notes, "Desktop entry already absent")
	}

	favChanged, favNote := p.removeFromFavorites(ctx, env, filename)
	changed = changed || favChanged
	if favNote != "" {
		notes = append(notes, favNote)
	}

	return engine.Result{Changed: changed, Message: strings.Join(notes, "; ")}, nil
}

// applyFirst runs strategies in order and returns the name of the first
// one that succeeds.
func applyFirst(ctx context.Context, env *engine.EnvContext, strategies []registerStrategy, entryPath string) (string, error) {
	var lastErr error
	for _, s := range strategies {
		if err := s.apply(ctx, env, entryPath); err == nil {
			return s.name, nil
		} else {
			lastErr = err
		}
	}
	return "", lastErr
}

// addToFavorites pins the entry to the GNOME shell favorites when the
// session is GNOME. Anything else is reported, not raised.
func (p *DesktopPlugin) addToFavorites(ctx context.Context, env *engine.EnvContext, desktopID string) (bool, string) {
	if !isGnome(env) {
		return false, "GNOME integration not available"
	}

	favs, err := p.currentFavorites(ctx, env)
	if err != nil {
		return false, "Failed to read favorites"
	}
	for _, f := range favs {
		if f == desktopID {
			return false, "Already in favorites"
		}
	}

	favs = append(favs, desktopID)
	if _, err := env.RunAsUser(ctx, "gsettings", "set", "org.gnome.shell", "favorite-apps", formatGSettingsList(favs)); err != nil {
		return false, "Failed to update favorites"
	}
	return true, "Added to GNOME favorites"
}

func (p *DesktopPlugin) removeFromFavorites(ctx context.Context, env *engine.EnvContext, desktopID string) (bool, string) {
	if !isGnome(env) {
		return false, ""
	}

	favs, err := p.currentFavorites(ctx, env)
	if err != nil {
		return false, ""
	}

	kept := favs[:0]
	found := false
	for _, f := range favs {
		if f == desktopID {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return false, ""
	}

	if _, err := env.RunAsUser(ctx, "gsettings", "set", "org.gnome.shell", "favorite-apps", formatGSettingsList(kept)); err != nil {
		return false, "Failed to update favorites"
	}
	return true, "Removed from GNOME favorites"
}

func (p *DesktopPlugin) currentFavorites(ctx context.Context, env *engine.EnvContext) ([]string, error) {
	out, err := env.RunAsUser(ctx, "gsettings", "get", "org.gnome.shell", "favorite-apps")
	if err != nil {
		return nil, err
	}
	return parseGSettingsList(string(out)), nil
}

func isGnome(env *engine.EnvContext) bool {
	return strings.Contains(strings.ToLower(env.Desktop), "gnome")
}

func appsDir(env *engine.EnvContext) string {
	return filepath.Join(env.Home, ".local", "share", "applications")
}

func desktopFilename(name string) string {
	if !strings.HasSuffix(name, ".desktop") {
		return name + ".desktop"
	}
	return name
}

// parseGSettingsList reads gsettings' ['a', 'b'] list syntax. An empty
// list may also print as "@as []".
func parseGSettingsList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "@as")
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		item = strings.Trim(item, `'"`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func formatGSettingsList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + item + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/modulab/modulab/pkg/engine"
)

// scriptedRunner records commands and replies from a per-command script.
type scriptedRunner struct {
	calls   [][]string
	outputs map[string][]byte
	fail    map[string]error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		outputs: make(map[string][]byte),
		fail:    make(map[string]error),
	}
}

func (s *scriptedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	key := name
	if len(args) > 0 {
		key = name + " " + args[0]
	}
	if err, ok := s.fail[name]; ok {
		return nil, err
	}
	if out, ok := s.outputs[key]; ok {
		return out, nil
	}
	return nil, nil
}

func (s *scriptedRunner) RunIn(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return s.Run(ctx, name, args...)
}

func (s *scriptedRunner) commandNames() []string {
	names := make([]string, len(s.calls))
	for i, c := range s.calls {
		names[i] = c[0]
	}
	return names
}

func desktopEnv(t *testing.T, runner engine.CommandRunner) *engine.EnvContext {
	t.Helper()
	return &engine.EnvContext{
		User:     "student",
		Home:     t.TempDir(),
		EUID:     1000,
		Display:  ":0",
		Desktop:  "ubuntu:GNOME",
		Commands: runner,
	}
}

func TestDesktopInstallWritesEntryAndRegisters(t *testing.T) {
	runner := newScriptedRunner()
	env := desktopEnv(t, runner)
	p := &DesktopPlugin{}

	res, err := p.Install(context.Background(), env, engine.Params{
		"filename": "demo-app",
		"content":  "[Desktop Entry]\nName=Demo\n",
	})
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if !res.Changed {
		t.Error("expected Changed=true on first install")
	}

	entry := filepath.Join(env.Home, ".local", "share", "applications", "demo-app.desktop")
	data, err := os.ReadFile(entry)
	if err != nil {
		t.Fatalf("reading entry: %v", err)
	}
	if string(data) != "[Desktop Entry]\nName=Demo\n" {
		t.Errorf("unexpected entry content %q", data)
	}

	names := runner.commandNames()
	if !reflect.DeepEqual(names, []string{"xdg-desktop-menu"}) {
		t.Errorf("expected registration via xdg-desktop-menu only, got %v", names)
	}
}

func TestDesktopInstallFallsBackWhenXdgMissing(t *testing.T) {
	runner := newScriptedRunner()
	runner.fail["xdg-desktop-menu"] = errors.New("not found")
	env := desktopEnv(t, runner)
	p := &DesktopPlugin{}

	if _, err := p.Install(context.Background(), env, engine.Params{
		"filename": "demo-app.desktop",
		"content":  "[Desktop Entry]\n",
	}); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	names := runner.commandNames()
	want := []string{"xdg-desktop-menu", "update-desktop-database"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected fallback order %v, got %v", want, names)
	}
}

func TestDesktopInstallIdempotent(t *testing.T) {
	runner := newScriptedRunner()
	env := desktopEnv(t, runner)
	p := &DesktopPlugin{}
	params := engine.Params{"filename": "demo-app", "content": "[Desktop Entry]\n"}

	if _, err := p.Install(context.Background(), env, params); err != nil {
		t.Fatal(err)
	}
	res, err := p.Install(context.Background(), env, params)
	if err != nil {
		t.Fatalf("second Install returned error: %v", err)
	}
	if res.Changed {
		t.Error("expected Changed=false when the entry is already in place")
	}
}

func TestDesktopInstallHeadlessIsNoop(t *testing.T) {
	runner := newScriptedRunner()
	env := desktopEnv(t, runner)
	env.Display = ""

	p := &DesktopPlugin{}
	res, err := p.Install(context.Background(), env, engine.Params{"filename": "x", "content": "y"})
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if res.Changed {
		t.Error("expected Changed=false without a display")
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no commands, got %v", runner.calls)
	}
}

func TestDesktopInstallAddsGnomeFavorite(t *testing.T) {
	runner := newScriptedRunner()
	runner.outputs["gsettings get"] = []byte("['firefox.desktop']\n")
	env := desktopEnv(t, runner)
	p := &DesktopPlugin{}

	res, err := p.Install(context.Background(), env, engine.Params{
		"filename":         "demo-app",
		"content":          "[Desktop Entry]\n",
		"add_to_favorites": true,
	})
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if !res.Changed {
		t.Error("expected Changed=true")
	}

	var set []string
	for _, call := range runner.calls {
		if call[0] == "gsettings" && call[1] == "set" {
			set = call
		}
	}
	if set == nil {
		t.Fatal("expected a gsettings set call")
	}
	if got := set[len(set)-1]; got != "['firefox.desktop', 'demo-app.desktop']" {
		t.Errorf("unexpected favorites list %q", got)
	}
}

func TestDesktopRemoveDeletesEntryAndFavorite(t *testing.T) {
	runner := newScriptedRunner()
	runner.outputs["gsettings get"] = []byte("['firefox.desktop', 'demo-app.desktop']\n")
	env := desktopEnv(t, runner)

	entry := filepath.Join(env.Home, ".local", "share", "applications", "demo-app.desktop")
	if err := os.MkdirAll(filepath.Dir(entry), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(entry, []byte("[Desktop Entry]\n"), 0755); err != nil {
		t.Fatal(err)
	}

	p := &DesktopPlugin{}
	res, err := p.Remove(context.Background(), env, engine.Params{"filename": "demo-app"})
	if err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if !res.Changed {
		t.Error("expected Changed=true")
	}
	if _, err := os.Stat(entry); !os.IsNotExist(err) {
		t.Error("expected entry file to be removed")
	}

	found := false
	for _, call := range runner.calls {
		if call[0] == "gsettings" && call[1] == "set" {
			found = true
			if got := call[len(call)-1]; strings.Contains(got, "demo-app") {
				t.Errorf("favorites still contains the entry: %q", got)
			}
		}
	}
	if !found {
		t.Error("expected a gsettings set call removing the favorite")
	}
}

func TestParseGSettingsList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"['a.desktop', 'b.desktop']", []string{"a.desktop", "b.desktop"}},
		{"@as []", nil},
		{"[]", nil},
		{"['one.desktop']", []string{"one.desktop"}},
	}
	for _, tc := range cases {
		if got := parseGSettingsList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseGSettingsList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

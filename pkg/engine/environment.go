package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
)

// CommandRunner executes external commands. Plugins shell out through this
// seam so tests substitute a recorder instead of touching the host.
type CommandRunner interface {
	// Run executes name with args and returns combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunIn is Run with an explicit working directory.
	RunIn(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return runCmd(ctx, "", name, args...)
}

func (execRunner) RunIn(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return runCmd(ctx, dir, name, args...)
}

func runCmd(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w (output: %s)", name, err, out.String())
	}
	return out.Bytes(), nil
}

// NewExecRunner returns a CommandRunner backed by os/exec.
func NewExecRunner() CommandRunner {
	return execRunner{}
}

// EnvContext carries the ambient environment a plugin may read: the real
// invoking user, their home directory, and desktop-session variables. It
// is injected into every plugin invocation so tests run against a fixed
// context instead of the process environment.
type EnvContext struct {
	// User is the invoking user. When the process runs under sudo this is
	// SUDO_USER, not root.
	User string

	// Home is the invoking user's home directory.
	Home string

	// UID and GID identify the invoking user for chown after root writes.
	UID int
	GID int

	// EUID is the effective UID of this process. 0 means privileged.
	EUID int

	// Display and WaylandDisplay are the X11/Wayland session variables.
	Display        string
	WaylandDisplay string

	// Desktop is XDG_CURRENT_DESKTOP, used to pick shell integrations.
	Desktop string

	// Commands runs external processes for the plugin.
	Commands CommandRunner
}

// DetectEnv builds an EnvContext from the process environment. When the
// process was elevated with sudo, the context resolves to the real user
// behind it so user-scoped side effects (desktop entries, favorites) land
// in the right account.
func DetectEnv() *EnvContext {
	env := &EnvContext{
		EUID:           os.Geteuid(),
		Display:        os.Getenv("DISPLAY"),
		WaylandDisplay: os.Getenv("WAYLAND_DISPLAY"),
		Desktop:        os.Getenv("XDG_CURRENT_DESKTOP"),
		Commands:       execRunner{},
	}

	name := os.Getenv("SUDO_USER")
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}
	env.User = name

	if u, err := user.Lookup(name); err == nil {
		env.Home = u.HomeDir
		if uid, err := strconv.Atoi(u.Uid); err == nil {
			env.UID = uid
		}
		if gid, err := strconv.Atoi(u.Gid); err == nil {
			env.GID = gid
		}
	} else {
		env.Home, _ = os.UserHomeDir()
	}

	return env
}

// Privileged reports whether the process runs with effective root.
func (e *EnvContext) Privileged() bool {
	return e.EUID == 0
}

// HasDisplay reports whether a graphical session is reachable.
func (e *EnvContext) HasDisplay() bool {
	return e.Display != "" || e.WaylandDisplay != ""
}

// RunAsUser runs a command as the invoking user. When the process is
// privileged and the target user differs, the command is wrapped in
// runuser; otherwise it runs directly.
func (e *EnvContext) RunAsUser(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.Privileged() && e.User != "" && e.User != "root" {
		wrapped := append([]string{"-u", e.User, "--", name}, args...)
		return e.Commands.Run(ctx, "runuser", wrapped...)
	}
	return e.Commands.Run(ctx, name, args...)
}

// Chown fixes ownership of a path to the invoking user after a privileged
// write. It is a no-op for unprivileged processes.
func (e *EnvContext) Chown(path string) error {
	if !e.Privileged() || e.UID == 0 {
		return nil
	}
	return os.Chown(path, e.UID, e.GID)
}

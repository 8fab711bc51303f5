package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/modulab/modulab/pkg/engine"
)

// ServiceState is the observed state of a host service.
type ServiceState string

const (
	// ServiceNotInstalled means the service's package is not on the host.
	ServiceNotInstalled ServiceState = "not-installed"

	// ServiceStopped means the service is installed but not active.
	ServiceStopped ServiceState = "stopped"

	// ServiceRunning means the service is active.
	ServiceRunning ServiceState = "running"
)

// RuntimeManager drives a host-level service the provisioner depends on,
// such as the container runtime. Provisioners consume the interface;
// tests inject fakes.
type RuntimeManager interface {
	// Status reports the current state of the named service.
	Status(ctx context.Context, name string) (ServiceState, error)

	// Install installs the named service's package.
	Install(ctx context.Context, name string) error

	// Start starts the named service.
	Start(ctx context.Context, name string) error
}

// HostRuntime manages host services with dpkg, apt-get and systemctl.
type HostRuntime struct {
	env *engine.EnvContext
}

// NewHostRuntime creates a RuntimeManager shelling out through the given
// environment's command runner.
func NewHostRuntime(env *engine.EnvContext) *HostRuntime {
	return &HostRuntime{env: env}
}

// Status implements RuntimeManager.
func (h *HostRuntime) Status(ctx context.Context, name string) (ServiceState, error) {
	if _, err := h.env.Commands.Run(ctx, "dpkg", "-s", packageFor(name)); err != nil {
		return ServiceNotInstalled, nil
	}

	out, err := h.env.Commands.Run(ctx, "systemctl", "is-active", name)
	if err == nil && strings.TrimSpace(string(out)) == "active" {
		return ServiceRunning, nil
	}
	// is-active exits non-zero for inactive units; the package being
	// installed is what separates stopped from not-installed.
	return ServiceStopped, nil
}

// Install implements RuntimeManager.
func (h *HostRuntime) Install(ctx context.Context, name string) error {
	if _, err := h.env.Commands.Run(ctx, "apt-get", "install", "-y", packageFor(name)); err != nil {
		return fmt.Errorf("failed to install %s: %w", name, err)
	}
	return nil
}

// Start implements RuntimeManager.
func (h *HostRuntime) Start(ctx context.Context, name string) error {
	if _, err := h.env.Commands.Run(ctx, "systemctl", "start", name); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	return nil
}

// packageFor maps a service unit to its distro package where the names
// differ.
func packageFor(service string) string {
	if service == "docker" {
		return "docker.io"
	}
	return service
}

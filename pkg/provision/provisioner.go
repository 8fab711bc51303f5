// Package provision turns module descriptors into ordered task lists and
// drives them through the engine runner: one provisioner per workload
// style, selected by the descriptor.
package provision

import (
	"context"
	"fmt"

	"github.com/modulab/modulab/pkg/config"
	"github.com/modulab/modulab/pkg/engine"
	"github.com/modulab/modulab/pkg/plugins"
)

// Provisioner runs the lifecycle of one module.
type Provisioner interface {
	Install(ctx context.Context) (*engine.Report, error)
	Remove(ctx context.Context) (*engine.Report, error)
	Start(ctx context.Context) (*engine.Report, error)
	Stop(ctx context.Context) (*engine.Report, error)

	// Status reports the module's current resource state.
	Status(ctx context.Context) (ModuleState, error)
}

// ModuleState is the provisioner-level resource state of a module.
type ModuleState string

const (
	// StateAbsent means the module's workload does not exist.
	StateAbsent ModuleState = "absent"

	// StateStopped means the workload exists but is not running.
	StateStopped ModuleState = "present-stopped"

	// StateRunning means the workload exists and is running.
	StateRunning ModuleState = "present-running"
)

// New selects the provisioner for a module by its descriptor. An empty
// provisioner field defaults to container.
func New(module *config.Module, runner *engine.Runner, runtime RuntimeManager, api plugins.ContainerAPI) (Provisioner, error) {
	switch module.Provisioner {
	case "", "container":
		return NewContainerProvisioner(module, runner, runtime, api), nil
	default:
		return nil, fmt.Errorf("unknown provisioner %q for module %q", module.Provisioner, module.Name)
	}
}

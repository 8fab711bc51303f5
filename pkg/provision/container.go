package provision

import (
	"context"
	"fmt"

	"github.com/modulab/modulab/pkg/config"
	"github.com/modulab/modulab/pkg/engine"
	"github.com/modulab/modulab/pkg/plugins"
)

const (
	runtimeService = "docker"
	hostsFile      = "/etc/hosts"
	nginxConfDir   = "/etc/nginx/conf.d"
)

// ContainerProvisioner provisions a module whose workload is a container:
// source checkout, the container itself, the hosts entry and proxy vhost
// routing a browser to it, and the optional desktop entry.
type ContainerProvisioner struct {
	module  *config.Module
	runner  *engine.Runner
	runtime RuntimeManager
	api     plugins.ContainerAPI
}

// NewContainerProvisioner creates the container provisioner.
func NewContainerProvisioner(module *config.Module, runner *engine.Runner, runtime RuntimeManager, api plugins.ContainerAPI) *ContainerProvisioner {
	return &ContainerProvisioner{
		module:  module,
		runner:  runner,
		runtime: runtime,
		api:     api,
	}
}

// Install runs the install task list, after driving the container runtime
// to readiness.
func (p *ContainerProvisioner) Install(ctx context.Context) (*engine.Report, error) {
	if err := p.ensureRuntime(ctx, true); err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.module.Name, engine.ActionInstall, p.installTasks())
}

// Remove runs the remove task list.
func (p *ContainerProvisioner) Remove(ctx context.Context) (*engine.Report, error) {
	if err := p.ensureRuntime(ctx, false); err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.module.Name, engine.ActionRemove, p.removeTasks())
}

// Start starts the module's workload.
func (p *ContainerProvisioner) Start(ctx context.Context) (*engine.Report, error) {
	if err := p.ensureRuntime(ctx, false); err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.module.Name, engine.ActionStart, p.workloadTasks())
}

// Stop stops the module's workload.
func (p *ContainerProvisioner) Stop(ctx context.Context) (*engine.Report, error) {
	if err := p.ensureRuntime(ctx, false); err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, p.module.Name, engine.ActionStop, p.workloadTasks())
}

// Status reports the workload container's resource state.
func (p *ContainerProvisioner) Status(ctx context.Context) (ModuleState, error) {
	found, err := plugins.FindContainer(ctx, p.api, p.module.ContainerName())
	if err != nil {
		return "", fmt.Errorf("failed to query workload state: %w", err)
	}
	switch {
	case found == nil:
		return StateAbsent, nil
	case plugins.IsRunning(found):
		return StateRunning, nil
	default:
		return StateStopped, nil
	}
}

// ensureRuntime checks the container runtime and drives it to running.
// The runtime package is only installed on module install; for the other
// lifecycle actions a missing runtime means there is nothing to manage.
func (p *ContainerProvisioner) ensureRuntime(ctx context.Context, installIfMissing bool) error {
	state, err := p.runtime.Status(ctx, runtimeService)
	if err != nil {
		return fmt.Errorf("failed to query container runtime: %w", err)
	}

	switch state {
	case ServiceNotInstalled:
		if !installIfMissing {
			return fmt.Errorf("the container runtime is not installed")
		}
		if err := p.runtime.Install(ctx, runtimeService); err != nil {
			return err
		}
		fallthrough
	case ServiceStopped:
		if err := p.runtime.Start(ctx, runtimeService); err != nil {
			return err
		}
	}
	return nil
}

// installTasks builds the ordered install list: fetch the source, bring
// up the workload, route the domain to it, integrate with the desktop.
func (p *ContainerProvisioner) installTasks() []engine.Task {
	m := p.module
	var tasks []engine.Task

	switch {
	case m.Source.GitRepo != "":
		tasks = append(tasks, engine.Task{
			Label: "Fetch module source",
			Op:    "git",
			Params: engine.Params{
				"repo": m.Source.GitRepo,
				"dest": m.Destination,
			},
		})
	case m.Source.URL != "":
		tasks = append(tasks, engine.Task{
			Label: "Fetch module source",
			Op:    "get_url",
			Params: engine.Params{
				"url":  m.Source.URL,
				"dest": m.Destination,
			},
		})
	}

	if m.Container != nil {
		tasks = append(tasks, engine.Task{
			Label:  "Provision workload container",
			Op:     "docker",
			Params: p.workloadParams(true),
		})
	}

	if m.Hosting != nil {
		tasks = append(tasks, engine.Task{
			Label: "Route domain to localhost",
			Op:    "lineinfile",
			Params: engine.Params{
				"dest": hostsFile,
				"line": hostsLine(m.Hosting.Domain),
			},
		})
		tasks = append(tasks, p.vhostTask())
		tasks = append(tasks, engine.Task{
			Label: "Reload web server",
			Op:    "service",
			Params: engine.Params{
				"name":  "nginx",
				"state": "restarted",
			},
		})
	}

	if m.Desktop != nil {
		tasks = append(tasks, engine.Task{
			Label: "Install desktop entry",
			Op:    "desktop",
			Params: engine.Params{
				"filename":         m.Desktop.Filename,
				"content":          m.Desktop.Content,
				"add_to_favorites": m.Desktop.AddToFavorites,
			},
		})
	}

	return tasks
}

// removeTasks mirrors installTasks in reverse-ish order; the workload is
// first so removing a running module fails before any routing is torn
// down.
func (p *ContainerProvisioner) removeTasks() []engine.Task {
	m := p.module
	var tasks []engine.Task
	if m.Container != nil {
		tasks = append(tasks, engine.Task{
			Label:  "Remove workload container",
			Op:     "docker",
			Params: p.workloadParams(false),
		})
	}

	if m.Hosting != nil {
		tasks = append(tasks, engine.Task{
			Label: "Remove domain route",
			Op:    "lineinfile",
			Params: engine.Params{
				"dest":  hostsFile,
				"line":  hostsLine(m.Hosting.Domain),
				"state": "absent",
			},
		})
		if m.Hosting.HTTP != nil {
			tasks = append(tasks, engine.Task{
				Label: "Remove web server config",
				Op:    "rm",
				Params: engine.Params{
					"path": vhostConfPath(m.Hosting.Domain),
				},
			})
		} else {
			tasks = append(tasks, engine.Task{
				Label: "Remove web server config",
				Op:    "reverseproxy",
				Params: engine.Params{
					"hostname": m.Hosting.Domain,
				},
			})
		}
		tasks = append(tasks, engine.Task{
			Label: "Reload web server",
			Op:    "service",
			Params: engine.Params{
				"name":  "nginx",
				"state": "restarted",
			},
		})
	}

	if m.Destination != "" {
		tasks = append(tasks, engine.Task{
			Label: "Remove module source",
			Op:    "rm",
			Params: engine.Params{
				"path": m.Destination,
			},
		})
	}

	if m.Desktop != nil {
		tasks = append(tasks, engine.Task{
			Label: "Remove desktop entry",
			Op:    "desktop",
			Params: engine.Params{
				"filename": m.Desktop.Filename,
			},
		})
	}

	return tasks
}

// workloadTasks is the single-container list used for start and stop.
// A module without a container block has no workload to drive.
func (p *ContainerProvisioner) workloadTasks() []engine.Task {
	if p.module.Container == nil {
		return nil
	}
	return []engine.Task{{
		Label:  "Workload container",
		Op:     "docker",
		Params: p.workloadParams(false),
	}}
}

// workloadParams builds the docker task parameters. The image, build path
// and port bindings only matter on install.
func (p *ContainerProvisioner) workloadParams(install bool) engine.Params {
	m := p.module
	params := engine.Params{"name": m.ContainerName()}
	if !install {
		return params
	}

	params["image"] = m.ContainerImage()
	// A git-sourced module builds its image from the checkout.
	if m.Source.GitRepo != "" && m.Destination != "" {
		params["path"] = m.Destination
	}
	if m.Container != nil && len(m.Container.Ports) > 0 {
		ports := make(map[string]any, len(m.Container.Ports))
		for _, pm := range m.Container.Ports {
			ports[fmt.Sprintf("%d/tcp", pm.Guest)] = pm.Host
		}
		params["ports"] = ports
	}
	return params
}

// vhostTask picks the proxy style: a plain-HTTP vhost when the
// descriptor spells one out, a TLS vhost with generated certs otherwise.
func (p *ContainerProvisioner) vhostTask() engine.Task {
	h := p.module.Hosting
	if h.HTTP != nil {
		return engine.Task{
			Label: "Configure web server vhost",
			Op:    "copy",
			Params: engine.Params{
				"dest":    vhostConfPath(h.Domain),
				"content": httpVhost(h.Domain, h.HTTP),
			},
		}
	}
	return engine.Task{
		Label: "Configure web server vhost",
		Op:    "reverseproxy",
		Params: engine.Params{
			"hostname":   h.Domain,
			"proxy_pass": p.upstreamURL(),
		},
	}
}

// upstreamURL points the proxy at the workload's first published port.
func (p *ContainerProvisioner) upstreamURL() string {
	m := p.module
	if m.Container != nil && len(m.Container.Ports) > 0 {
		return fmt.Sprintf("http://127.0.0.1:%d/", m.Container.Ports[0].Host)
	}
	return "http://127.0.0.1/"
}

func hostsLine(domain string) string {
	return "127.0.0.1   " + domain
}

func vhostConfPath(domain string) string {
	return nginxConfDir + "/" + domain + ".conf"
}

// httpVhost renders the plain-HTTP server block for a descriptor-spelled
// vhost.
func httpVhost(domain string, h *config.HTTPHosting) string {
	return fmt.Sprintf(`server {
  listen %d;
  server_name %s;
  location / {
    proxy_pass %s;
  }
}
`, h.Listen, domain, h.ProxyPass)
}

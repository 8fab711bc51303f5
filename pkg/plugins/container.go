package plugins

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/modulab/modulab/pkg/engine"
)

const containerPluginName = "docker"

// ContainerAPI is the subset of the Docker engine client the container
// plugin uses. Tests substitute a fake.
type ContainerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImagesPrune(ctx context.Context, pruneFilters filters.Args) (image.PruneReport, error)
}

// NewDockerClient creates a Docker engine client from the environment.
func NewDockerClient() (ContainerAPI, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// ContainerPlugin manages the module workload container. Host port
// bindings are always on 127.0.0.1: lab workloads are reached through the
// reverse proxy, never exposed on external interfaces directly.
type ContainerPlugin struct {
	engine.UnimplementedPlugin
	api ContainerAPI
}

// NewContainerPlugin creates the container plugin on the given API client.
func NewContainerPlugin(api ContainerAPI) *ContainerPlugin {
	return &ContainerPlugin{api: api}
}

// Aliases implements engine.Plugin.
func (p *ContainerPlugin) Aliases() []string {
	return []string{"docker", "container"}
}

// Required implements engine.Plugin.
func (p *ContainerPlugin) Required(action engine.Action) []string {
	if action == engine.ActionInstall {
		return []string{"name", "image"}
	}
	return []string{"name"}
}

// Install ensures the workload container exists and is running. An absent
// container is created from the named image (pulled, or built from the
// "path" parameter when set) and started; a stopped one is started; a
// running one is left alone with Changed=false.
func (p *ContainerPlugin) Install(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	name := params.String("name")

	existing, err := p.find(ctx, name)
	if err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to query containers", err)
	}

	if existing != nil {
		if isRunning(existing) {
			return engine.Result{Message: fmt.Sprintf("The '%s' container is already installed and running.", name)}, nil
		}
		if err := p.api.ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
			return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to start existing container", err)
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("The '%s' container was already installed; started it.", name)}, nil
	}

	imageRef, err := p.ensureImage(ctx, env, name, params)
	if err != nil {
		return engine.Result{}, err
	}

	exposed, bindings, err := portBindings(params.IntMap("ports"))
	if err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "invalid port mapping", err)
	}

	created, err := p.api.ContainerCreate(ctx,
		&container.Config{
			Image:        imageRef,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
			RestartPolicy: container.RestartPolicy{
				Name: container.RestartPolicyUnlessStopped,
			},
		},
		&network.NetworkingConfig{},
		nil,
		name,
	)
	if err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to create container", err)
	}

	if err := p.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to start container", err)
	}

	return engine.Result{Changed: true, Message: fmt.Sprintf("Container created and started: '%s'", name)}, nil
}

// Remove deletes a stopped workload container and prunes dangling images.
// Removing a running container is a critical failure, never a silent
// forced removal; an absent container is a no-op.
func (p *ContainerPlugin) Remove(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	name := params.String("name")

	existing, err := p.find(ctx, name)
	if err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to query containers", err)
	}

	if existing == nil {
		return engine.Result{Message: fmt.Sprintf("No container named '%s' was found. It will need to be installed before you can remove it.", name)}, nil
	}
	if isRunning(existing) {
		return engine.Result{}, engine.NewCriticalError(containerPluginName, "cannot remove a running container")
	}

	if err := p.api.ContainerRemove(ctx, existing.ID, container.RemoveOptions{RemoveVolumes: true}); err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to remove container", err)
	}
	if _, err := p.api.ImagesPrune(ctx, filters.NewArgs()); err != nil {
		// Pruning is housekeeping; the removal itself succeeded.
		return engine.Result{Changed: true, Message: fmt.Sprintf("Container removed: '%s' (image prune failed: %v)", name, err)}, nil
	}

	return engine.Result{Changed: true, Message: fmt.Sprintf("Container removed: '%s'", name)}, nil
}

// Start starts a stopped workload container.
func (p *ContainerPlugin) Start(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	name := params.String("name")

	existing, err := p.find(ctx, name)
	if err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to query containers", err)
	}

	if existing == nil {
		return engine.Result{Message: fmt.Sprintf("No container named '%s' was found. It will need to be installed before you can start it.", name)}, nil
	}
	if isRunning(existing) {
		return engine.Result{Message: fmt.Sprintf("The '%s' container is already running.", name)}, nil
	}

	if err := p.api.ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to start container", err)
	}
	return engine.Result{Changed: true}, nil
}

// Stop stops a running workload container.
func (p *ContainerPlugin) Stop(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	name := params.String("name")

	existing, err := p.find(ctx, name)
	if err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to query containers", err)
	}

	if existing == nil {
		return engine.Result{Message: fmt.Sprintf("No container named '%s' was found. It will need to be installed before you can stop it.", name)}, nil
	}
	if !isRunning(existing) {
		return engine.Result{Message: fmt.Sprintf("The '%s' container is not running.", name)}, nil
	}

	if err := p.api.ContainerStop(ctx, existing.ID, container.StopOptions{}); err != nil {
		return engine.Result{}, engine.WrapCritical(containerPluginName, "failed to stop container", err)
	}
	return engine.Result{Changed: true}, nil
}

// find lists containers matching name exactly, in any state.
func (p *ContainerPlugin) find(ctx context.Context, name string) (*container.Summary, error) {
	return FindContainer(ctx, p.api, name)
}

// FindContainer returns the container with exactly the given name, in any
// state, or nil when no such container exists.
func FindContainer(ctx context.Context, api ContainerAPI, name string) (*container.Summary, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", "^/"+name+"$")

	containers, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, nil
	}
	return &containers[0], nil
}

// IsRunning reports whether a found container is in the running state.
func IsRunning(c *container.Summary) bool {
	return c != nil && isRunning(c)
}

// ensureImage makes the workload image available locally: a local build
// when "path" is given, a registry pull otherwise, and a no-op when the
// reference already exists.
func (p *ContainerPlugin) ensureImage(ctx context.Context, env *engine.EnvContext, name string, params engine.Params) (string, error) {
	imageRef := params.String("image")

	listed, err := p.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", imageRef)),
	})
	if err != nil {
		return "", engine.WrapCritical(containerPluginName, "failed to list images", err)
	}
	if len(listed) > 0 {
		return imageRef, nil
	}

	if path := params.String("path"); path != "" {
		// Build locally from the fetched module source.
		localRef := name + ":local"
		if _, err := env.Commands.RunIn(ctx, path, "docker", "build", "-t", localRef, "--force-rm", "."); err != nil {
			return "", engine.WrapCritical(containerPluginName, "failed to build image", err)
		}
		return localRef, nil
	}

	reader, err := p.api.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return "", engine.WrapCritical(containerPluginName, fmt.Sprintf("failed to pull image %q", imageRef), err)
	}
	defer reader.Close()
	// The pull completes only once its progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", engine.WrapCritical(containerPluginName, "failed to read image pull output", err)
	}

	return imageRef, nil
}

func isRunning(c *container.Summary) bool {
	return strings.EqualFold(c.State, "running")
}

// portBindings converts a "80/tcp" -> 8080 style mapping into the exposed
// port set and loopback host bindings the engine API expects. Keys without
// a protocol suffix default to tcp.
func portBindings(ports map[string]int) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for guest, host := range ports {
		if !strings.Contains(guest, "/") {
			guest += "/tcp"
		}
		port, err := nat.NewPort(nat.SplitProtoPort(guest))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %q: %w", guest, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(host),
		}}
	}
	return exposed, bindings, nil
}

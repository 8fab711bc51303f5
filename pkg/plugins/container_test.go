package plugins

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/modulab/modulab/pkg/engine"
)

// fakeDockerAPI is an in-memory stand-in for the Docker engine. It tracks
// a single named container through the absent/stopped/running states and
// records which calls were made.
type fakeDockerAPI struct {
	containers []container.Summary
	images     []image.Summary

	pulled  []string
	started []string
	stopped []string
	removed []string
	pruned  int

	listErr error
}

func (f *fakeDockerAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.containers, nil
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
	networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.containers = append(f.containers, container.Summary{
		ID:    "id-" + containerName,
		Names: []string{"/" + containerName},
		State: "created",
		Image: config.Image,
	})
	return container.CreateResponse{ID: "id-" + containerName}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.started = append(f.started, containerID)
	for i := range f.containers {
		if f.containers[i].ID == containerID {
			f.containers[i].State = "running"
		}
	}
	return nil
}

func (f *fakeDockerAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.stopped = append(f.stopped, containerID)
	for i := range f.containers {
		if f.containers[i].ID == containerID {
			f.containers[i].State = "exited"
		}
	}
	return nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	kept := f.containers[:0]
	for _, c := range f.containers {
		if c.ID != containerID {
			kept = append(kept, c)
		}
	}
	f.containers = kept
	return nil
}

func (f *fakeDockerAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeDockerAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, refStr)
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeDockerAPI) ImagesPrune(ctx context.Context, pruneFilters filters.Args) (image.PruneReport, error) {
	f.pruned++
	return image.PruneReport{}, nil
}

func stoppedContainer(name string) container.Summary {
	return container.Summary{ID: "id-" + name, Names: []string{"/" + name}, State: "exited"}
}

func runningContainer(name string) container.Summary {
	return container.Summary{ID: "id-" + name, Names: []string{"/" + name}, State: "running"}
}

func containerParams() engine.Params {
	return engine.Params{
		"name":  "demo-app",
		"image": "demo:latest",
		"ports": map[string]any{"80/tcp": 8080},
	}
}

func TestContainerInstallAbsentPullsCreatesAndStarts(t *testing.T) {
	api := &fakeDockerAPI{}
	p := NewContainerPlugin(api)

	res, err := p.Install(context.Background(), &engine.EnvContext{}, containerParams())
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if !res.Changed {
		t.Error("expected Changed=true on fresh install")
	}
	if len(api.pulled) != 1 || api.pulled[0] != "demo:latest" {
		t.Errorf("expected one pull of demo:latest, got %v", api.pulled)
	}
	if len(api.started) != 1 {
		t.Errorf("expected one start, got %v", api.started)
	}
}

func TestContainerInstallIdempotentWhenRunning(t *testing.T) {
	api := &fakeDockerAPI{containers: []container.Summary{runningContainer("demo-app")}}
	p := NewContainerPlugin(api)

	res, err := p.Install(context.Background(), &engine.EnvContext{}, containerParams())
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if res.Changed {
		t.Error("expected Changed=false for an already running container")
	}
	if len(api.pulled) != 0 || len(api.started) != 0 {
		t.Error("expected no docker calls beyond the state query")
	}
}

func TestContainerInstallStartsStoppedContainer(t *testing.T) {
	api := &fakeDockerAPI{containers: []container.Summary{stoppedContainer("demo-app")}}
	p := NewContainerPlugin(api)

	res, err := p.Install(context.Background(), &engine.EnvContext{}, containerParams())
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if !res.Changed {
		t.Error("expected Changed=true when a stopped container is started")
	}
	if len(api.started) != 1 {
		t.Errorf("expected one start, got %v", api.started)
	}
	if len(api.pulled) != 0 {
		t.Error("expected no image pull for an existing container")
	}
}

func TestContainerInstallSkipsPullWhenImagePresent(t *testing.T) {
	api := &fakeDockerAPI{images: []image.Summary{{ID: "sha256:abc"}}}
	p := NewContainerPlugin(api)

	if _, err := p.Install(context.Background(), &engine.EnvContext{}, containerParams()); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if len(api.pulled) != 0 {
		t.Errorf("expected no pull for a locally present image, got %v", api.pulled)
	}
}

func TestContainerRemoveRunningIsCritical(t *testing.T) {
	api := &fakeDockerAPI{containers: []container.Summary{runningContainer("demo-app")}}
	p := NewContainerPlugin(api)

	_, err := p.Remove(context.Background(), &engine.EnvContext{}, engine.Params{"name": "demo-app"})
	if err == nil {
		t.Fatal("expected error when removing a running container")
	}
	var te *engine.TaskError
	if !errors.As(err, &te) || te.Kind != engine.KindCritical {
		t.Fatalf("expected a critical task error, got %v", err)
	}
	if len(api.removed) != 0 {
		t.Error("expected no removal attempt on a running container")
	}
}

func TestContainerRemoveStoppedRemovesAndPrunes(t *testing.T) {
	api := &fakeDockerAPI{containers: []container.Summary{stoppedContainer("demo-app")}}
	p := NewContainerPlugin(api)

	res, err := p.Remove(context.Background(), &engine.EnvContext{}, engine.Params{"name": "demo-app"})
	if err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if !res.Changed {
		t.Error("expected Changed=true")
	}
	if len(api.removed) != 1 {
		t.Errorf("expected one removal, got %v", api.removed)
	}
	if api.pruned != 1 {
		t.Errorf("expected one image prune, got %d", api.pruned)
	}
}

func TestContainerRemoveAbsentIsNoop(t *testing.T) {
	api := &fakeDockerAPI{}
	p := NewContainerPlugin(api)

	res, err := p.Remove(context.Background(), &engine.EnvContext{}, engine.Params{"name": "demo-app"})
	if err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if res.Changed {
		t.Error("expected Changed=false for an absent container")
	}
	if res.Message == "" {
		t.Error("expected an explanatory message")
	}
}

func TestContainerStartStopStateMachine(t *testing.T) {
	api := &fakeDockerAPI{containers: []container.Summary{stoppedContainer("demo-app")}}
	p := NewContainerPlugin(api)
	params := engine.Params{"name": "demo-app"}

	res, err := p.Start(context.Background(), &engine.EnvContext{}, params)
	if err != nil || !res.Changed {
		t.Fatalf("Start of stopped container: changed=%v err=%v", res.Changed, err)
	}

	res, err = p.Start(context.Background(), &engine.EnvContext{}, params)
	if err != nil || res.Changed {
		t.Fatalf("Start of running container should be a no-op: changed=%v err=%v", res.Changed, err)
	}

	res, err = p.Stop(context.Background(), &engine.EnvContext{}, params)
	if err != nil || !res.Changed {
		t.Fatalf("Stop of running container: changed=%v err=%v", res.Changed, err)
	}

	res, err = p.Stop(context.Background(), &engine.EnvContext{}, params)
	if err != nil || res.Changed {
		t.Fatalf("Stop of stopped container should be a no-op: changed=%v err=%v", res.Changed, err)
	}
}

func TestContainerStartAbsentIsNoopWithMessage(t *testing.T) {
	api := &fakeDockerAPI{}
	p := NewContainerPlugin(api)

	res, err := p.Stop(context.Background(), &engine.EnvContext{}, engine.Params{"name": "demo-app"})
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if res.Changed || res.Message == "" {
		t.Errorf("expected unchanged result with message, got changed=%v message=%q", res.Changed, res.Message)
	}
}

func TestPortBindingsLoopbackOnly(t *testing.T) {
	exposed, bindings, err := portBindings(map[string]int{"80/tcp": 8080, "443": 8443})
	if err != nil {
		t.Fatalf("portBindings returned error: %v", err)
	}
	if len(exposed) != 2 || len(bindings) != 2 {
		t.Fatalf("expected 2 ports, got %d exposed %d bound", len(exposed), len(bindings))
	}
	for port, binds := range bindings {
		if len(binds) != 1 {
			t.Fatalf("port %s: expected one binding", port)
		}
		if binds[0].HostIP != "127.0.0.1" {
			t.Errorf("port %s: expected loopback binding, got %q", port, binds[0].HostIP)
		}
	}
}

// Package toolexec provides tool adapters that execute deployment
// workflow steps against external runtimes. Adapters satisfy the same
// invoker contract as the reasoning agent and report errors with the
// structure the retry engine classifies on.
package toolexec

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

const (
	// Resource limits for deployment containers.
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	pidsLimit        = 256

	stopTimeoutSecs = 10

	// verifyGracePeriod is how long a started container must stay up
	// before the deployment is considered verified.
	verifyGracePeriod = 2 * time.Second
)

// DockerAdapter executes the deployment workflow's container steps
// through the Docker API.
type DockerAdapter struct {
	cli *client.Client
}

var _ engine.Invoker = (*DockerAdapter)(nil)

// NewDockerAdapter creates a Docker-backed tool adapter.
func NewDockerAdapter() (*DockerAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker tool adapter initialized")
	return &DockerAdapter{cli: cli}, nil
}

// Client returns the underlying Docker client.
func (a *DockerAdapter) Client() *client.Client {
	return a.cli
}

// Close releases the Docker client.
func (a *DockerAdapter) Close() error {
	return a.cli.Close()
}

// Invoke dispatches a deployment step to its Docker operation.
func (a *DockerAdapter) Invoke(ctx context.Context, in engine.Input) (*engine.Output, error) {
	switch in.StepCode {
	case "build-image":
		return a.ensureImage(ctx, in)
	case "start-container":
		return a.startContainer(ctx, in)
	case "verify-deployment":
		return a.verifyDeployment(ctx, in)
	default:
		return nil, domain.FatalExternal("tool-rejected",
			fmt.Errorf("docker adapter has no handler for step %q", in.StepCode))
	}
}

// imageRef resolves the image for a session, preferring the reference
// chosen by the planning step's output.
func imageRef(in engine.Input) string {
	if ref, ok := in.Payload["image"].(string); ok && ref != "" {
		return ref
	}
	name := strings.ToLower(path.Base(strings.TrimRight(in.ProjectPath, "/")))
	if name == "" || name == "." || name == "/" {
		name = "project"
	}
	return "testboost/" + name + ":latest"
}

func containerName(sessionID string) string {
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "testboost-deploy-" + id
}

// ensureImage makes the planned image available locally, pulling it if
// absent. Docker errdefs pass through for retry classification.
func (a *DockerAdapter) ensureImage(ctx context.Context, in engine.Input) (*engine.Output, error) {
	ref := imageRef(in)

	if _, err := a.cli.ImageInspect(ctx, ref); err == nil {
		slog.Info("Image already present", "image", ref, "session_id", in.SessionID)
		return &engine.Output{
			Payload: map[string]any{"image": ref, "pulled": false},
			Summary: fmt.Sprintf("image %s already present", ref),
		}, nil
	} else if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("inspect image %s: %w", ref, err)
	}

	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			slog.Warn("failed to close image pull stream", "error", closeErr)
		}
	}()

	// The pull only commits once the stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return nil, fmt.Errorf("read image pull stream: %w", err)
	}

	slog.Info("Image pulled", "image", ref, "session_id", in.SessionID)
	return &engine.Output{
		Payload: map[string]any{"image": ref, "pulled": true},
		Summary: fmt.Sprintf("image %s pulled", ref),
		Artifacts: []engine.ArtifactDraft{{
			Name:    "image-ref",
			Type:    "deployment-record",
			Content: ref,
		}},
	}, nil
}

// startContainer creates and starts the deployment container. A
// leftover container from a previous attempt of the same session is
// removed first so retries stay idempotent.
func (a *DockerAdapter) startContainer(ctx context.Context, in engine.Input) (*engine.Output, error) {
	ref := imageRef(in)
	name := containerName(in.SessionID)

	if inspect, err := a.cli.ContainerInspect(ctx, name); err == nil {
		slog.Info("Removing leftover deployment container", "container_id", inspect.ID, "session_id", in.SessionID)
		timeout := stopTimeoutSecs
		if err := a.cli.ContainerStop(ctx, inspect.ID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
			slog.Warn("Failed to stop leftover container", "error", err, "container_id", inspect.ID)
		}
		if err := a.cli.ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("remove leftover container: %w", err)
		}
	} else if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("inspect container %s: %w", name, err)
	}

	resp, err := a.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  ref,
			Labels: map[string]string{"testboost.session_id": in.SessionID},
		},
		&container.HostConfig{
			Resources: container.Resources{
				Memory:    memoryLimitBytes,
				PidsLimit: ptr(int64(pidsLimit)),
			},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", name, err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	slog.Info("Deployment container started", "container_id", resp.ID, "session_id", in.SessionID)
	return &engine.Output{
		Payload: map[string]any{"image": ref, "container_id": resp.ID, "container_name": name},
		Summary: fmt.Sprintf("container %s started from %s", name, ref),
	}, nil
}

// verifyDeployment confirms the container is still running after a
// short grace period. A container that already exited is an explicit
// tool rejection, not a transient condition.
func (a *DockerAdapter) verifyDeployment(ctx context.Context, in engine.Input) (*engine.Output, error) {
	name := containerName(in.SessionID)
	if id, ok := in.Payload["container_id"].(string); ok && id != "" {
		name = id
	}

	timer := time.NewTimer(verifyGracePeriod)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	inspect, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect deployment container: %w", err)
	}
	if inspect.State == nil || !inspect.State.Running {
		status := "unknown"
		if inspect.State != nil {
			status = inspect.State.Status
		}
		return nil, domain.FatalExternal("tool-rejected",
			fmt.Errorf("deployment container %s is %s, expected running", name, status))
	}

	return &engine.Output{
		Payload: map[string]any{"container_id": inspect.ID, "state": inspect.State.Status},
		Summary: fmt.Sprintf("container %s verified running", inspect.ID),
		Artifacts: []engine.ArtifactDraft{{
			Name:    "deployment-report",
			Type:    "report",
			Content: fmt.Sprintf("container %s running image %s since %s", inspect.ID, inspect.Config.Image, inspect.State.StartedAt),
		}},
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}

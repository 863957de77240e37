package shell

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRunner executes commands inside a throwaway container with the
// workspace bind-mounted at /workspace. Use it when the agent should
// not touch the host directly.
type DockerRunner struct {
	cli   *client.Client
	image string
}

// NewDockerRunner connects to the local Docker daemon. image is the
// sandbox image (e.g. "alpine:3.20"); it must already be pulled.
func NewDockerRunner(image string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}
	return &DockerRunner{cli: cli, image: image}, nil
}

// Run creates a container, runs the command with the workspace mounted
// read-write at /workspace, waits for completion, and returns the
// combined output.
func (r *DockerRunner) Run(ctx context.Context, command, dir string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := &container.Config{
		Image:      r.image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
	}
	if dir != "" {
		hostCfg.Binds = []string{dir + ":/workspace"}
	}

	created, err := r.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}
	defer func() {
		// Best-effort cleanup with a fresh context so a timed-out run
		// still removes its container.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = r.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("docker start: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("command timed out after %s", timeout)
			}
			return "", fmt.Errorf("docker wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.cli.ContainerLogs(runCtx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("docker logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("docker logs read: %w", err)
	}
	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if exitCode != 0 {
		return output, fmt.Errorf("exit status %d", exitCode)
	}
	return output, nil
}

var _ Runner = (*DockerRunner)(nil)

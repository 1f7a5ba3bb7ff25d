package testrun

import (
	"context"
	"fmt"
	"path"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecAPI is the part of the Docker client DockerRunner needs.
type ExecAPI interface {
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// DockerRunner runs test commands inside an already running container
// that has the workspace mounted at Root.
type DockerRunner struct {
	API         ExecAPI
	ContainerID string
	Root        string
	User        string
	Shell       string
	OutputLimit int
}

// NewDockerRunner connects to the Docker daemon described by the environment.
func NewDockerRunner(containerID, root string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{API: cli, ContainerID: containerID, Root: root}, nil
}

// Run implements CommandRunner.
func (r *DockerRunner) Run(ctx context.Context, cmd Command) (*Output, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	execConfig := container.ExecOptions{
		Cmd:          []string{shell, "-c", cmd.Line},
		User:         r.User,
		Env:          cmd.Env,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   path.Join(r.Root, cmd.Dir),
	}

	resp, err := r.API.ContainerExecCreate(ctx, r.ContainerID, execConfig)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, &LaunchError{Command: cmd.Line, Reason: "container not found", Err: err}
		}
		return nil, &LaunchError{Command: cmd.Line, Reason: "create exec", Err: err}
	}

	attach, err := r.API.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, &LaunchError{Command: cmd.Line, Reason: "attach exec", Err: err}
	}
	defer attach.Close()

	stdout := newRingBuffer(r.OutputLimit)
	stderr := newRingBuffer(r.OutputLimit)
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := r.API.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}

	out := &Output{
		ExitCode:  inspect.ExitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if lerr := shellLaunchFailure(cmd.Line, out); lerr != nil {
		return nil, lerr
	}
	return out, nil
}

package testrun

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	createErr error
	stdout    string
	stderr    string
	exitCode  int

	created container.ExecOptions
}

func (f *fakeExec) ContainerExecCreate(_ context.Context, _ string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.created = options
	if f.createErr != nil {
		return container.ExecCreateResponse{}, f.createErr
	}
	return container.ExecCreateResponse{ID: "exec-1"}, nil
}

func (f *fakeExec) ContainerExecAttach(_ context.Context, _ string, _ container.ExecStartOptions) (types.HijackedResponse, error) {
	var framed bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&framed, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&framed, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	conn, peer := net.Pipe()
	_ = peer.Close()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&framed)}, nil
}

func (f *fakeExec) ContainerExecInspect(_ context.Context, _ string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: "exec-1", ExitCode: f.exitCode}, nil
}

func TestDockerRunnerSplitsStreams(t *testing.T) {
	t.Parallel()

	api := &fakeExec{stdout: "running 1 test\n", stderr: "assertion failed: line 4\n", exitCode: 1}
	runner := &DockerRunner{API: api, ContainerID: "learner", Root: "/home/learner/work"}

	out, err := runner.Run(context.Background(), Command{
		Line: "cargo test",
		Dir:  "todo-app",
		Env:  []string{"LESSON_NUMBER=3"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "running 1 test\n", out.Stdout)
	assert.Equal(t, "assertion failed: line 4\n", out.Stderr)
	assert.Equal(t, "/home/learner/work/todo-app", api.created.WorkingDir)
	assert.Equal(t, []string{"sh", "-c", "cargo test"}, api.created.Cmd)
	assert.Equal(t, []string{"LESSON_NUMBER=3"}, api.created.Env)
}

func TestDockerRunnerMissingContainerIsLaunchError(t *testing.T) {
	t.Parallel()

	api := &fakeExec{createErr: fmt.Errorf("no such container: %w", errdefs.ErrNotFound)}
	runner := &DockerRunner{API: api, ContainerID: "gone", Root: "/work"}

	_, err := runner.Run(context.Background(), Command{Line: "cargo test"})
	require.ErrorIs(t, err, ErrLaunch)

	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "container not found", lerr.Reason)
}

func TestDockerRunnerCommandNotFound(t *testing.T) {
	t.Parallel()

	api := &fakeExec{stderr: "sh: 1: cargo: not found\n", exitCode: 127}
	runner := &DockerRunner{API: api, ContainerID: "learner", Root: "/work"}

	_, err := runner.Run(context.Background(), Command{Line: "cargo test"})
	assert.ErrorIs(t, err, ErrLaunch)
}

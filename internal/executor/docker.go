package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/exec"
)

// containerAPI is the subset of the Docker client the executor uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Ping(ctx context.Context) (types.Ping, error)
}

// LabelEnv is set on every container the executor creates.
const LabelEnv = "theoremlib.env"

// Docker runs each job in a named container.
type Docker struct {
	api             containerAPI
	teardownTimeout time.Duration
}

// NewDocker connects to the Docker daemon configured in the environment.
func NewDocker(teardownTimeout time.Duration) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDocker(cli, teardownTimeout), nil
}

func newDocker(api containerAPI, teardownTimeout time.Duration) *Docker {
	return &Docker{api: api, teardownTimeout: teardownTimeout}
}

// Run implements Executor.
func (d *Docker) Run(ctx context.Context, env Env) (ExitResult, error) {
	logger := ctxlog.FromContext(ctx).With("env", env.Name)

	hostCfg := &container.HostConfig{}
	if env.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(env.Network)
	}
	created, err := d.api.ContainerCreate(ctx, &container.Config{
		Image:  env.Image,
		Cmd:    env.Command,
		Env:    exec.EnvList(env.Vars),
		Labels: map[string]string{LabelEnv: env.Name},
	}, hostCfg, nil, nil, env.Name)
	if err != nil {
		if ctx.Err() != nil {
			return timedOut(""), nil
		}
		return ExitResult{}, fmt.Errorf("%w: create %s: %v", ErrSpawn, env.Name, err)
	}

	defer func() {
		tctx, cancel := teardownContext(ctx, d.teardownTimeout)
		defer cancel()
		if err := d.api.ContainerRemove(tctx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.Error("remove container", "container_id", created.ID, "error", err)
			return
		}
		logger.Debug("removed container", "container_id", created.ID)
	}()

	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return timedOut(""), nil
		}
		return ExitResult{}, fmt.Errorf("%w: start %s: %v", ErrSpawn, env.Name, err)
	}
	logger.Info("started container", "container_id", created.ID, "image", env.Image)

	statusCh, errCh := d.api.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return ExitResult{}, fmt.Errorf("wait %s: %s", env.Name, st.Error.Message)
		}
		exitCode = int(st.StatusCode)
	case err := <-errCh:
		if ctx.Err() == nil {
			return ExitResult{}, fmt.Errorf("wait %s: %w", env.Name, err)
		}
		return timedOut(d.logs(ctx, created.ID)), nil
	case <-ctx.Done():
		return timedOut(d.logs(ctx, created.ID)), nil
	}

	return ExitResult{ExitCode: exitCode, Logs: d.logs(ctx, created.ID)}, nil
}

// logs collects demultiplexed stdout and stderr. It runs on a detached
// context so logs survive a timed-out job; failures yield what was read.
func (d *Docker) logs(ctx context.Context, id string) string {
	tctx, cancel := teardownContext(ctx, d.teardownTimeout)
	defer cancel()

	rc, err := d.api.ContainerLogs(tctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("read container logs", "container_id", id, "error", err)
		return ""
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		ctxlog.FromContext(ctx).Warn("demultiplex container logs", "container_id", id, "error", err)
	}
	return buf.String()
}

// Ping implements Executor.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.api.Ping(ctx)
	return err
}

// Compile-time verification that Docker implements Executor.
var _ Executor = (*Docker)(nil)

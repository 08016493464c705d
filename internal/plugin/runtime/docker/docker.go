// Package docker hosts agent processes inside containers. The worktree
// is bind-mounted at /workspace and the agent runs in an interactive
// shell with a TTY, mirroring the tmux runtime's shape.
package docker

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

const (
	workspaceMount  = "/workspace"
	sessionLabel    = "ao.session"
	stopGracePeriod = 5 * time.Second
)

// ansiEscapes matches CSI and OSC sequences. Container logs keep the raw
// TUI byte stream; the detector wants plain text.
var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*(\x07|\x1b\\)|\x1b[()][AB0]|[\x0e\x0f]`)

// Runtime implements the runtime plugin contract over the Docker API.
type Runtime struct {
	cli    *client.Client
	logger *logger.Logger
	cfg    config.DockerConfig
}

// New creates the docker runtime. The client negotiates the API version
// unless one is pinned in config.
func New(cfg config.DockerConfig, log *logger.Logger) (*Runtime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindPlugin, err, "create docker client")
	}

	return &Runtime{cli: cli, logger: log.WithComponent("runtime-docker"), cfg: cfg}, nil
}

func (r *Runtime) Name() string { return "docker" }

// Close releases the docker client.
func (r *Runtime) Close() error { return r.cli.Close() }

// Create starts an interactive shell container with the work directory
// mounted at /workspace. A missing image is pulled once and the create
// retried.
func (r *Runtime) Create(ctx context.Context, opts plugin.CreateOptions) (plugin.Handle, error) {
	if r.cfg.Image == "" {
		return plugin.Handle{}, oerr.E(oerr.KindConfig, "docker runtime requires docker.image in config")
	}

	id, err := r.createAndStart(ctx, opts)
	if err != nil {
		if pullErr := r.pullImage(ctx); pullErr != nil {
			return plugin.Handle{}, oerr.Wrap(oerr.KindPlugin, err, "create container %s (image pull also failed: %v)", opts.Name, pullErr)
		}
		id, err = r.createAndStart(ctx, opts)
		if err != nil {
			return plugin.Handle{}, err
		}
	}

	r.logger.Info("started container",
		zap.String("name", opts.Name),
		zap.String("container_id", id),
		zap.String("image", r.cfg.Image))

	return plugin.Handle{
		ID:          opts.Name,
		RuntimeName: r.Name(),
		Data:        map[string]string{"containerId": id},
	}, nil
}

func (r *Runtime) createAndStart(ctx context.Context, opts plugin.CreateOptions) (string, error) {
	env := make([]string, 0, len(opts.Env))
	for _, k := range sortedKeys(opts.Env) {
		env = append(env, fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	containerCfg := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        []string{"/bin/sh"},
		Env:        env,
		WorkingDir: workspaceMount,
		Labels:     map[string]string{sessionLabel: opts.Name},
		Tty:        true,
		OpenStdin:  true,
		StdinOnce:  false,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: opts.WorkDir,
			Target: workspaceMount,
		}},
	}

	resp, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", oerr.Wrap(oerr.KindPlugin, err, "create container %s", opts.Name)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", oerr.Wrap(oerr.KindPlugin, err, "start container %s", opts.Name)
	}
	return resp.ID, nil
}

func (r *Runtime) pullImage(ctx context.Context) error {
	r.logger.Info("pulling image", zap.String("image", r.cfg.Image))
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	// Drain so the pull completes before create retries.
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Destroy stops and removes the container. A container that is already
// gone counts as destroyed.
func (r *Runtime) Destroy(ctx context.Context, h plugin.Handle) error {
	id := containerID(h)
	if id == "" {
		return nil
	}

	if _, err := r.cli.ContainerInspect(ctx, id); err != nil {
		return nil
	}

	timeout := int(stopGracePeriod.Seconds())
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		r.logger.Debug("container stop failed, removing anyway",
			zap.String("container_id", id), zap.Error(err))
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if _, inspectErr := r.cli.ContainerInspect(ctx, id); inspectErr != nil {
			return nil
		}
		return oerr.Wrap(oerr.KindPlugin, err, "remove container %s", id)
	}
	return nil
}

// SendMessage attaches to the container TTY, types the text, pauses for
// the TUI to ingest it, then presses Enter.
func (r *Runtime) SendMessage(ctx context.Context, h plugin.Handle, text string) error {
	id := containerID(h)
	if id == "" {
		return oerr.E(oerr.KindNotFound, "handle %s has no container id", h.ID)
	}

	resp, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdin: true})
	if err != nil {
		return oerr.Wrap(oerr.KindPlugin, err, "attach to container %s", id)
	}
	defer resp.Close()

	if _, err := resp.Conn.Write([]byte(text)); err != nil {
		return oerr.Wrap(oerr.KindPlugin, err, "write to container %s", id)
	}

	debounce := 200*time.Millisecond + time.Duration(len(text)/1024)*100*time.Millisecond
	if debounce > 1500*time.Millisecond {
		debounce = 1500 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(debounce):
	}

	if _, err := resp.Conn.Write([]byte("\r")); err != nil {
		return oerr.Wrap(oerr.KindPlugin, err, "write to container %s", id)
	}
	return nil
}

// GetOutput tails the container log. TTY containers log a raw byte
// stream, so escape sequences are stripped; cursor-addressed redraws
// come through as repeated lines, which the detector tolerates.
func (r *Runtime) GetOutput(ctx context.Context, h plugin.Handle, lines int) (string, error) {
	id := containerID(h)
	if id == "" {
		return "", oerr.E(oerr.KindNotFound, "handle %s has no container id", h.ID)
	}

	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines * 4),
	})
	if err != nil {
		return "", oerr.Wrap(oerr.KindPlugin, err, "logs for container %s", id)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", oerr.Wrap(oerr.KindPlugin, err, "read logs for container %s", id)
	}
	return lastLines(stripEscapes(string(raw)), lines), nil
}

// IsAlive reports whether the container exists and is running.
func (r *Runtime) IsAlive(ctx context.Context, h plugin.Handle) (bool, error) {
	id := containerID(h)
	if id == "" {
		return false, nil
	}
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, nil
	}
	return inspect.State != nil && inspect.State.Running, nil
}

func containerID(h plugin.Handle) string {
	return h.Data["containerId"]
}

// stripEscapes removes terminal control sequences and carriage returns,
// keeping the printable text.
func stripEscapes(s string) string {
	s = ansiEscapes.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

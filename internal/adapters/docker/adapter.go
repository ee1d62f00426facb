package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/ports"
)

var _ ports.ContainerRuntime = (*Adapter)(nil)

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli           *client.Client
	containerPort int
	log           *zap.Logger
}

// NewAdapter creates a new Docker adapter instance. containerPort is the
// port bundle containers listen on; it is used to read back the published
// host port when listing containers.
func NewAdapter(containerPort int, log *zap.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{cli: cli, containerPort: containerPort, log: log.Named("docker")}, nil
}

// Ping checks the daemon is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Close releases the client's transport.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// BuildImage tars dir and builds it into an image tagged tag
func (a *Adapter) BuildImage(ctx context.Context, dir, tag string) error {
	buildContext, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := a.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: domain.BuildFile,
		Remove:     true, // Remove intermediate containers
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The daemon reports step failures inside the stream, not as an HTTP error,
	// so the stream has to be decoded to know whether the build worked.
	var out bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &out, 0, false, nil); err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return errors.New(jerr.Message)
		}
		return fmt.Errorf("failed to read build output: %w", err)
	}
	a.log.Debug("image built", zap.String("tag", tag), zap.Int("output_bytes", out.Len()))
	return nil
}

// RunContainer creates and starts a detached, auto-removed container
func (a *Adapter) RunContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("invalid container port: %w", err)
	}

	resp, err := a.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Labels:       spec.Labels,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			AutoRemove: true,
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
			},
		},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return wrapNotFound(err)
	}
	return nil
}

// RemoveContainer stops and removes a container by name or id
func (a *Adapter) RemoveContainer(ctx context.Context, nameOrID string) error {
	if err := a.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil {
		return wrapNotFound(err)
	}
	return nil
}

// ListManaged returns running containers that carry the bundle label
func (a *Adapter) ListManaged(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", domain.BundleLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		result = append(result, toDomain(c, a.containerPort))
	}
	return result, nil
}

// ContainerLogs returns the last tail lines of a container's output
func (a *Adapter) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(tail),
	}
	logs, err := a.cli.ContainerLogs(ctx, id, options)
	if err != nil {
		return "", wrapNotFound(err)
	}
	defer logs.Close()

	// Non-TTY containers multiplex stdout and stderr into one stream.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return buf.String(), nil
}

func toDomain(c types.Container, containerPort int) domain.Container {
	// Use the first name if available, remove slash
	name := ""
	if len(c.Names) > 0 && len(c.Names[0]) > 1 {
		name = c.Names[0][1:]
	}

	hostPort := 0
	for _, p := range c.Ports {
		if int(p.PrivatePort) == containerPort && p.Type == "tcp" && p.PublicPort != 0 {
			hostPort = int(p.PublicPort)
			break
		}
	}

	return domain.Container{
		ID:       c.ID,
		Name:     name,
		Image:    c.Image,
		Status:   c.Status,
		State:    c.State,
		Bundle:   c.Labels[domain.BundleLabel],
		HostPort: hostPort,
	}
}

func wrapNotFound(err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}

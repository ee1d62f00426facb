package ports

import (
	"context"

	"github.com/melih/lighthouse-paas/internal/core/domain"
)

// ContainerRuntime defines the container engine operations the lifecycle
// controller consumes. This interface allows us to switch between Docker,
// Podman, or a fake in tests without changing the business logic.
//
// Implementations report a missing container by wrapping domain.ErrNotFound.
type ContainerRuntime interface {
	// BuildImage builds an image tagged tag using dir as the build context.
	BuildImage(ctx context.Context, dir, tag string) error
	// RunContainer creates and starts a detached container and returns its id.
	RunContainer(ctx context.Context, spec domain.RunSpec) (string, error)
	StopContainer(ctx context.Context, id string) error
	// RemoveContainer force-removes the container with the given name or id.
	RemoveContainer(ctx context.Context, nameOrID string) error
	// ListManaged returns running containers labelled as bundle containers.
	ListManaged(ctx context.Context) ([]domain.Container, error)
	// ContainerLogs returns the last tail lines of stdout and stderr.
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
}

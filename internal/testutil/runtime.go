// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/ports"
)

var _ ports.ContainerRuntime = (*FakeRuntime)(nil)

// FakeContainer is a container the fake runtime considers running.
type FakeContainer struct {
	ID   string
	Spec domain.RunSpec
}

// FakeRuntime is an in-memory ports.ContainerRuntime. Like Docker it refuses
// to create a second container with a name already in use, and stopped
// containers disappear because bundle containers are auto-removed.
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer // by id
	nextID     int

	Builds  []string
	Runs    []domain.RunSpec
	Removes []string

	BuildErr  error
	RunErr    error
	StopErr   error
	RemoveErr error
	// BlockBuild makes BuildImage wait for its context to end.
	BlockBuild bool
	Logs       string
}

// NewFakeRuntime returns an empty fake runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{containers: make(map[string]*FakeContainer)}
}

func (f *FakeRuntime) BuildImage(ctx context.Context, dir, tag string) error {
	if f.BlockBuild {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Builds = append(f.Builds, tag)
	return f.BuildErr
}

func (f *FakeRuntime) RunContainer(_ context.Context, spec domain.RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Runs = append(f.Runs, spec)
	if f.RunErr != nil {
		return "", f.RunErr
	}
	for _, c := range f.containers {
		if c.Spec.Name == spec.Name {
			return "", fmt.Errorf("Conflict. The container name %q is already in use", spec.Name)
		}
	}
	f.nextID++
	id := fmt.Sprintf("container-%d", f.nextID)
	f.containers[id] = &FakeContainer{ID: id, Spec: spec}
	return id, nil
}

func (f *FakeRuntime) StopContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("%w: No such container: %s", domain.ErrNotFound, id)
	}
	delete(f.containers, id)
	return nil
}

func (f *FakeRuntime) RemoveContainer(_ context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removes = append(f.Removes, nameOrID)
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	for id, c := range f.containers {
		if id == nameOrID || c.Spec.Name == nameOrID {
			delete(f.containers, id)
			return nil
		}
	}
	return fmt.Errorf("%w: No such container: %s", domain.ErrNotFound, nameOrID)
}

func (f *FakeRuntime) ListManaged(context.Context) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Container, 0, len(f.containers))
	for _, c := range f.containers {
		bundle, ok := c.Spec.Labels[domain.BundleLabel]
		if !ok {
			continue
		}
		out = append(out, domain.Container{
			ID:       c.ID,
			Name:     c.Spec.Name,
			Image:    c.Spec.Image,
			State:    "running",
			Bundle:   bundle,
			HostPort: c.Spec.HostPort,
		})
	}
	return out, nil
}

func (f *FakeRuntime) ContainerLogs(_ context.Context, id string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return "", fmt.Errorf("%w: No such container: %s", domain.ErrNotFound, id)
	}
	return f.Logs, nil
}

// Container returns the running container with id.
func (f *FakeRuntime) Container(id string) (FakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return FakeContainer{}, false
	}
	return *c, true
}

// Running returns the number of running containers.
func (f *FakeRuntime) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Kill makes a container vanish as if it had crashed and been auto-removed.
func (f *FakeRuntime) Kill(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

// Seed adds a running container without going through RunContainer.
func (f *FakeRuntime) Seed(id string, spec domain.RunSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = &FakeContainer{ID: id, Spec: spec}
}

// LastRun returns the spec of the most recent RunContainer call, failed
// calls included.
func (f *FakeRuntime) LastRun() (domain.RunSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Runs) == 0 {
		return domain.RunSpec{}, false
	}
	return f.Runs[len(f.Runs)-1], true
}

// BuildCount returns how many builds were requested.
func (f *FakeRuntime) BuildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Builds)
}

// ErrDaemon is a generic runtime failure for tests.
var ErrDaemon = errors.New("docker daemon is unhappy")

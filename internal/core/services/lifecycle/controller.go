// Package lifecycle builds, runs and stops bundle containers and keeps the
// registry in step with what it asked the runtime to do.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/ports"
	"github.com/melih/lighthouse-paas/internal/core/services/registry"
)

// Config holds controller tunables.
type Config struct {
	ContainerPort int
	BuildTimeout  time.Duration
	RunTimeout    time.Duration
	StopTimeout   time.Duration
	LogTail       int
}

// DefaultConfig mirrors the defaults of the environment configuration.
func DefaultConfig() Config {
	return Config{
		ContainerPort: 8000,
		BuildTimeout:  10 * time.Minute,
		RunTimeout:    time.Minute,
		StopTimeout:   15 * time.Second,
		LogTail:       200,
	}
}

// Controller implements start/stop/status for bundles.
type Controller struct {
	cfg      Config
	store    ports.BundleStore
	runtime  ports.ContainerRuntime
	alloc    ports.PortAllocator
	registry *registry.Registry
	metrics  ports.MetricsRecorder
	log      *zap.Logger

	locks sync.Map // folder -> *sync.Mutex
}

// NewController wires a controller. metrics and log may be nil.
func NewController(cfg Config, store ports.BundleStore, runtime ports.ContainerRuntime, alloc ports.PortAllocator,
	reg *registry.Registry, metrics ports.MetricsRecorder, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = registry.New()
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		runtime:  runtime,
		alloc:    alloc,
		registry: reg,
		metrics:  metrics,
		log:      log.Named("lifecycle"),
	}
}

// lock serializes start/stop for one folder. Different folders do not block
// each other.
func (c *Controller) lock(folder string) func() {
	v, _ := c.locks.LoadOrStore(folder, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Start builds the bundle's image and runs a fresh container for it. A
// container already running for the folder is torn down first.
func (c *Controller) Start(ctx context.Context, folder string) (entry domain.RegistryEntry, err error) {
	defer func() { c.observe("start", err) }()

	dir, err := c.store.BuildContext(folder)
	if err != nil {
		return domain.RegistryEntry{}, err
	}

	unlock := c.lock(folder)
	defer unlock()

	if err := c.teardown(ctx, folder); err != nil {
		return domain.RegistryEntry{}, err
	}

	tag := ImageTag(folder)
	c.log.Info("building image", zap.String("folder", folder), zap.String("tag", tag))
	buildCtx, cancel := context.WithTimeout(ctx, c.cfg.BuildTimeout)
	err = c.runtime.BuildImage(buildCtx, dir, tag)
	cancel()
	if err != nil {
		return domain.RegistryEntry{}, classify(domain.ErrBuild, err)
	}

	res, err := c.alloc.Reserve()
	if err != nil {
		return domain.RegistryEntry{}, fmt.Errorf("%w: allocate port: %v", domain.ErrRun, err)
	}
	port := res.Port()
	if err := res.Confirm(); err != nil {
		c.log.Warn("closing port probe", zap.Int("port", port), zap.Error(err))
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	id, err := c.runtime.RunContainer(runCtx, domain.RunSpec{
		Image:         tag,
		Name:          ContainerName(folder),
		ContainerPort: c.cfg.ContainerPort,
		HostPort:      port,
		Labels:        map[string]string{domain.BundleLabel: folder},
	})
	cancel()
	if err != nil {
		c.alloc.Release(port)
		return domain.RegistryEntry{}, classify(domain.ErrRun, err)
	}

	entry = domain.RegistryEntry{ContainerID: id, Port: port}
	c.registry.Put(folder, entry)
	c.setRunning()
	c.log.Info("microservice started", zap.String("folder", folder), zap.String("container", id), zap.Int("port", port))
	return entry, nil
}

// teardown removes the container carrying folder's deterministic name and
// then forgets its registry entry. The entry survives a failed removal so the
// container can still be stopped. Callers hold the folder lock.
func (c *Controller) teardown(ctx context.Context, folder string) error {
	rmCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()
	err := c.runtime.RemoveContainer(rmCtx, ContainerName(folder))
	switch {
	case err == nil:
		c.log.Info("removed previous container", zap.String("folder", folder))
	case errors.Is(err, domain.ErrNotFound):
	default:
		return classify(domain.ErrRun, err)
	}

	if old, ok := c.registry.Delete(folder); ok {
		c.alloc.Release(old.Port)
		c.setRunning()
	}
	return nil
}

// Stop stops the container recorded for folder.
func (c *Controller) Stop(ctx context.Context, folder string) (err error) {
	defer func() { c.observe("stop", err) }()

	unlock := c.lock(folder)
	defer unlock()

	entry, ok := c.registry.Get(folder)
	if !ok {
		return fmt.Errorf("%w: microservice not running", domain.ErrNotFound)
	}

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()
	err = c.runtime.StopContainer(stopCtx, entry.ContainerID)
	switch {
	case err == nil:
		c.forget(folder, entry)
		c.log.Info("microservice stopped", zap.String("folder", folder))
		return nil
	case errors.Is(err, domain.ErrNotFound):
		c.forget(folder, entry)
		return fmt.Errorf("%w: container not found", domain.ErrNotFound)
	default:
		return classify(domain.ErrRun, err)
	}
}

func (c *Controller) forget(folder string, entry domain.RegistryEntry) {
	c.registry.Delete(folder)
	c.alloc.Release(entry.Port)
	c.setRunning()
}

// Status returns a snapshot of the registry. It is not checked against the
// runtime.
func (c *Controller) Status() map[string]domain.RegistryEntry {
	return c.registry.Snapshot()
}

// Lookup returns the registry entry of a running folder.
func (c *Controller) Lookup(folder string) (domain.RegistryEntry, bool) {
	return c.registry.Get(folder)
}

// Logs returns the tail of the running container's output.
func (c *Controller) Logs(ctx context.Context, folder string) (string, error) {
	entry, ok := c.registry.Get(folder)
	if !ok {
		return "", fmt.Errorf("%w: microservice not running", domain.ErrNotFound)
	}
	out, err := c.runtime.ContainerLogs(ctx, entry.ContainerID, c.cfg.LogTail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: container not found", domain.ErrNotFound)
		}
		return "", classify(domain.ErrRun, err)
	}
	return out, nil
}

// Reconcile rebuilds the registry from the containers the runtime reports as
// running with the bundle label. It returns the number of entries restored.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	containers, err := c.runtime.ListManaged(ctx)
	if err != nil {
		return 0, classify(domain.ErrRun, err)
	}
	restored := 0
	for _, ct := range containers {
		if ct.Bundle == "" || ct.HostPort == 0 {
			c.log.Debug("skipping container without bundle mapping", zap.String("container", ct.ID))
			continue
		}
		c.alloc.Claim(ct.HostPort)
		c.registry.Put(ct.Bundle, domain.RegistryEntry{ContainerID: ct.ID, Port: ct.HostPort})
		restored++
	}
	c.setRunning()
	return restored, nil
}

func (c *Controller) setRunning() {
	if c.metrics != nil {
		c.metrics.SetRunning(c.registry.Len())
	}
}

func (c *Controller) observe(op string, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.ObserveOperation(op, result)
}

// classify wraps a runtime error in kind, or in domain.ErrTimeout when the
// call ran out of time. The runtime's message is kept as text.
func classify(kind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

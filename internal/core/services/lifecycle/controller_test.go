package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-paas/internal/adapters/netport"
	"github.com/melih/lighthouse-paas/internal/adapters/storage"
	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/services/registry"
	"github.com/melih/lighthouse-paas/internal/testutil"
)

type harness struct {
	ctrl    *Controller
	store   *storage.Store
	runtime *testutil.FakeRuntime
	alloc   *netport.Allocator
	reg     *registry.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "uploads"), nil)
	require.NoError(t, err)
	h := &harness{
		store:   store,
		runtime: testutil.NewFakeRuntime(),
		alloc:   netport.New("127.0.0.1"),
		reg:     registry.New(),
	}
	h.ctrl = NewController(DefaultConfig(), h.store, h.runtime, h.alloc, h.reg, nil, nil)
	return h
}

func (h *harness) upload(t *testing.T, name string, withDockerfile bool) string {
	t.Helper()
	files := []domain.UploadFile{{Name: "app.py", Content: strings.NewReader("print('hi')")}}
	if withDockerfile {
		files = append(files, domain.UploadFile{Name: "Dockerfile", Content: strings.NewReader("FROM python:3")})
	}
	b, err := h.store.Upload(name, "", files)
	require.NoError(t, err)
	return b.Folder
}

func TestStartWithoutBuildFileNeverBuilds(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "nobuild", false)

	_, err := h.ctrl.Start(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.ctrl.Start(context.Background(), "missing_20250101000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, 0, h.runtime.BuildCount())
	assert.Empty(t, h.runtime.Removes)
	assert.Empty(t, h.ctrl.Status())
}

func TestStartThenStop(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "demo", true)

	entry, err := h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ContainerID)
	assert.Greater(t, entry.Port, 0)
	assert.True(t, h.alloc.Reserved(entry.Port))

	c, ok := h.runtime.Container(entry.ContainerID)
	require.True(t, ok)
	assert.Equal(t, ContainerName(folder), c.Spec.Name)
	assert.Equal(t, ImageTag(folder), c.Spec.Image)
	assert.Equal(t, 8000, c.Spec.ContainerPort)
	assert.Equal(t, entry.Port, c.Spec.HostPort)
	assert.Equal(t, folder, c.Spec.Labels[domain.BundleLabel])
	assert.Equal(t, []string{ImageTag(folder)}, h.runtime.Builds)

	status := h.ctrl.Status()
	assert.Equal(t, map[string]domain.RegistryEntry{folder: entry}, status)

	require.NoError(t, h.ctrl.Stop(context.Background(), folder))
	assert.NotContains(t, h.ctrl.Status(), folder)
	assert.False(t, h.alloc.Reserved(entry.Port))
	assert.Equal(t, 0, h.runtime.Running())
}

func TestStopNeverStarted(t *testing.T) {
	h := newHarness(t)
	other := h.upload(t, "other", true)
	_, err := h.ctrl.Start(context.Background(), other)
	require.NoError(t, err)
	before := h.ctrl.Status()

	err = h.ctrl.Stop(context.Background(), "idle_20250101000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "not running")
	assert.Equal(t, before, h.ctrl.Status())
}

func TestStopWhenContainerVanished(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "crashy", true)
	entry, err := h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)

	h.runtime.Kill(entry.ContainerID)

	err = h.ctrl.Stop(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "container not found")
	assert.Empty(t, h.ctrl.Status())
}

func TestStopRuntimeFailureKeepsEntry(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "sticky", true)
	_, err := h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)

	h.runtime.StopErr = testutil.ErrDaemon
	err = h.ctrl.Stop(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrRun)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, h.ctrl.Status(), folder)
}

func TestStartTwiceReplacesContainer(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "twice", true)

	first, err := h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)
	second, err := h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)

	assert.NotEqual(t, first.ContainerID, second.ContainerID)
	status := h.ctrl.Status()
	require.Len(t, status, 1)
	assert.Equal(t, second, status[folder])

	_, ok := h.runtime.Container(second.ContainerID)
	assert.True(t, ok, "registry must point at a live container")
	_, ok = h.runtime.Container(first.ContainerID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.runtime.Running())
	if first.Port != second.Port {
		assert.False(t, h.alloc.Reserved(first.Port))
	}
}

func TestConcurrentStartsOnOneFolder(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "racy", true)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.Start(context.Background(), folder)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	status := h.ctrl.Status()
	require.Len(t, status, 1)
	_, ok := h.runtime.Container(status[folder].ContainerID)
	assert.True(t, ok)
	assert.Equal(t, 1, h.runtime.Running())
}

func TestStartBuildFailure(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "broken", true)
	h.runtime.BuildErr = errors.New("The command '/bin/sh -c pip install' returned a non-zero code: 1")

	_, err := h.ctrl.Start(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrBuild)
	assert.Contains(t, err.Error(), "pip install")
	assert.Empty(t, h.ctrl.Status())
	assert.Equal(t, 0, h.runtime.Running())
}

func TestStartRunFailureReleasesPort(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "norun", true)
	h.runtime.RunErr = errors.New("port is already allocated")

	_, err := h.ctrl.Start(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrRun)
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Empty(t, h.ctrl.Status())

	spec, ok := h.runtime.LastRun()
	require.True(t, ok)
	assert.Greater(t, spec.HostPort, 0)
	assert.False(t, h.alloc.Reserved(spec.HostPort))
}

func TestRestartKeepsEntryWhenRemovalFails(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "sticky", true)

	first, err := h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)

	h.runtime.RemoveErr = testutil.ErrDaemon
	_, err = h.ctrl.Start(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrRun)
	assert.Contains(t, err.Error(), testutil.ErrDaemon.Error())

	_, alive := h.runtime.Container(first.ContainerID)
	assert.True(t, alive)
	assert.Equal(t, map[string]domain.RegistryEntry{folder: first}, h.ctrl.Status())
	assert.True(t, h.alloc.Reserved(first.Port))

	h.runtime.RemoveErr = nil
	require.NoError(t, h.ctrl.Stop(context.Background(), folder))
	assert.Empty(t, h.ctrl.Status())
	assert.False(t, h.alloc.Reserved(first.Port))
	assert.Equal(t, 0, h.runtime.Running())
}

func TestStartBuildTimeout(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultConfig()
	cfg.BuildTimeout = 20 * time.Millisecond
	h.ctrl = NewController(cfg, h.store, h.runtime, h.alloc, h.reg, nil, nil)
	h.runtime.BlockBuild = true
	folder := h.upload(t, "slow", true)

	_, err := h.ctrl.Start(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Empty(t, h.ctrl.Status())
}

func TestLogs(t *testing.T) {
	h := newHarness(t)
	folder := h.upload(t, "chatty", true)
	h.runtime.Logs = "listening on :8000\n"

	_, err := h.ctrl.Logs(context.Background(), folder)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.ctrl.Start(context.Background(), folder)
	require.NoError(t, err)
	out, err := h.ctrl.Logs(context.Background(), folder)
	require.NoError(t, err)
	assert.Equal(t, "listening on :8000\n", out)
}

func TestReconcileRestoresRegistry(t *testing.T) {
	h := newHarness(t)
	h.runtime.Seed("abc123", domain.RunSpec{
		Name:     ContainerName("demo_20250427103000"),
		HostPort: 41000,
		Labels:   map[string]string{domain.BundleLabel: "demo_20250427103000"},
	})
	h.runtime.Seed("unmanaged", domain.RunSpec{Name: "postgres"})
	h.runtime.Seed("noport", domain.RunSpec{
		Name:   ContainerName("np_20250427103000"),
		Labels: map[string]string{domain.BundleLabel: "np_20250427103000"},
	})

	n, err := h.ctrl.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]domain.RegistryEntry{
		"demo_20250427103000": {ContainerID: "abc123", Port: 41000},
	}, h.ctrl.Status())
	assert.True(t, h.alloc.Reserved(41000))

	require.NoError(t, h.ctrl.Stop(context.Background(), "demo_20250427103000"))
	assert.Empty(t, h.ctrl.Status())
	assert.False(t, h.alloc.Reserved(41000))
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "ms_Demo_20250427103000", ContainerName("Demo_20250427103000"))

	upper := ImageTag("Demo_20250427103000")
	lower := ImageTag("demo_20250427103000")
	assert.NotEqual(t, upper, lower)
	assert.True(t, strings.HasPrefix(upper, "microservice_demo_20250427103000:"))
	assert.Equal(t, strings.ToLower(upper), upper)
	assert.Equal(t, upper, ImageTag("Demo_20250427103000"))

	assert.True(t, strings.HasPrefix(ImageTag("a.._b_1"), "microservice_a-b_1:"))
}

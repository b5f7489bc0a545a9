package finalize

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/artifact"
	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/event"
	"github.com/gantryhq/gantry/internal/storage"
	"github.com/gantryhq/gantry/internal/task"
)

// fakeRuntime implements container.Runtime with configurable behavior.
// Methods can be overridden by setting the corresponding function fields.
type fakeRuntime struct {
	mu      sync.Mutex
	stopped []string
	removed []string

	stopFn   func(ctx context.Context, id string) error
	removeFn func(ctx context.Context, id string) error
}

func (f *fakeRuntime) Ping(context.Context) error               { return nil }
func (f *fakeRuntime) PullImage(context.Context, string) error  { return nil }
func (f *fakeRuntime) StartContainer(context.Context, string) error { return nil }
func (f *fakeRuntime) CreateContainer(context.Context, container.Config) (string, error) {
	return "ctr-test", nil
}
func (f *fakeRuntime) ContainerState(context.Context, string) (string, error) {
	return "running", nil
}
func (f *fakeRuntime) InspectExit(context.Context, string) (container.ExitStatus, error) {
	return container.ExitStatus{}, nil
}
func (f *fakeRuntime) Exec(context.Context, string, container.ExecConfig) (int, []byte, error) {
	return 0, nil, nil
}
func (f *fakeRuntime) ExecInteractive(context.Context, string, container.ExecConfig, container.AttachOptions) (int, error) {
	return 0, nil
}
func (f *fakeRuntime) StreamLogs(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (f *fakeRuntime) WaitContainer(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeRuntime) StopContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	f.stopped = append(f.stopped, id)
	f.mu.Unlock()
	if f.stopFn != nil {
		return f.stopFn(ctx, id)
	}
	return nil
}
func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
	if f.removeFn != nil {
		return f.removeFn(ctx, id)
	}
	return nil
}
func (f *fakeRuntime) Close() error { return nil }

type recordingArchiver struct {
	mu     sync.Mutex
	labels []string
}

func (a *recordingArchiver) Archive(absPath, label string) (artifact.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.labels = append(a.labels, label)
	return artifact.Handle{ID: label}, nil
}

func newTestService(t *testing.T, rt container.Runtime, opts Options) (*Service, *task.Store, string) {
	t.Helper()
	tmpDir := t.TempDir()
	store, err := task.OpenStore(filepath.Join(tmpDir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	baseDir := filepath.Join(tmpDir, "tasks")
	return NewService(store, rt, baseDir, opts), store, baseDir
}

func createExitedTask(t *testing.T, store *task.Store, id string) {
	t.Helper()
	exitCode := 0
	require.NoError(t, store.Create(&task.Task{
		ID:            id,
		Status:        task.StatusDone,
		ContainerName: "gantry-" + strings.ReplaceAll(id, "_", "-"),
		ExitCode:      &exitCode,
		FinishedAt:    time.Now(),
	}))
}

func TestFinalizeHappyPath(t *testing.T) {
	rt := &fakeRuntime{}
	arch := &recordingArchiver{}
	var events []event.Event
	svc, store, baseDir := newTestService(t, rt, Options{
		Archiver: arch,
		Events:   event.SinkFunc(func(e event.Event) { events = append(events, e) }),
	})

	createExitedTask(t, store, "task_aaa")
	dirs, err := storage.EnsureStaging(baseDir, "task_aaa")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirs.Staging, "result.txt"), []byte("ok"), 0644))

	require.NoError(t, svc.Finalize(context.Background(), "task_aaa"))

	got, err := store.Get("task_aaa")
	require.NoError(t, err)
	assert.Equal(t, task.FinalizeDone, got.Finalization)
	assert.True(t, got.Terminal())

	assert.Equal(t, []string{"result.txt"}, arch.labels)
	assert.Equal(t, []string{"gantry-task-aaa"}, rt.stopped)
	assert.Equal(t, []string{"gantry-task-aaa"}, rt.removed)

	require.Len(t, events, 1)
	assert.Equal(t, event.TypeFinalized, events[0].Type)
	assert.Equal(t, "task_aaa", events[0].TaskID)
}

func TestFinalizeExactlyOnceUnderConcurrency(t *testing.T) {
	rt := &fakeRuntime{}
	arch := &recordingArchiver{}
	svc, store, baseDir := newTestService(t, rt, Options{Archiver: arch})

	createExitedTask(t, store, "task_bbb")
	dirs, err := storage.EnsureStaging(baseDir, "task_bbb")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirs.Staging, "out.txt"), []byte("x"), 0644))

	// Runner, recovery tick, and startup reconciliation all racing.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Finalize(context.Background(), "task_bbb"))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"out.txt"}, arch.labels, "artifacts archived exactly once")
	assert.Len(t, rt.stopped, 1)
	assert.Len(t, rt.removed, 1)

	got, err := store.Get("task_bbb")
	require.NoError(t, err)
	assert.Equal(t, task.FinalizeDone, got.Finalization)
	assert.Equal(t, 1, got.FinalizeAttempts)
}

func TestFinalizeSecondCallIsNoOp(t *testing.T) {
	rt := &fakeRuntime{}
	svc, store, _ := newTestService(t, rt, Options{})

	createExitedTask(t, store, "task_ccc")
	require.NoError(t, svc.Finalize(context.Background(), "task_ccc"))
	require.NoError(t, svc.Finalize(context.Background(), "task_ccc"))

	assert.Len(t, rt.stopped, 1)
}

func TestFinalizeToleratesGoneContainer(t *testing.T) {
	rt := &fakeRuntime{
		stopFn:   func(context.Context, string) error { return container.ErrContainerGone },
		removeFn: func(context.Context, string) error { return container.ErrContainerGone },
	}
	svc, store, _ := newTestService(t, rt, Options{})

	createExitedTask(t, store, "task_ddd")
	require.NoError(t, svc.Finalize(context.Background(), "task_ddd"))

	got, err := store.Get("task_ddd")
	require.NoError(t, err)
	assert.Equal(t, task.FinalizeDone, got.Finalization)
}

func TestFinalizeMissingStagingDir(t *testing.T) {
	// A task that never got far enough to create its staging dir still
	// finalizes cleanly.
	rt := &fakeRuntime{}
	arch := &recordingArchiver{}
	svc, store, _ := newTestService(t, rt, Options{Archiver: arch})

	createExitedTask(t, store, "task_eee")
	require.NoError(t, svc.Finalize(context.Background(), "task_eee"))

	assert.Empty(t, arch.labels)
	got, err := store.Get("task_eee")
	require.NoError(t, err)
	assert.Equal(t, task.FinalizeDone, got.Finalization)
}

func TestRequeueStuckRespectsBudget(t *testing.T) {
	rt := &fakeRuntime{}
	svc, store, _ := newTestService(t, rt, Options{MaxAttempts: 2})

	createExitedTask(t, store, "task_fff")

	// Simulate two crashed attempts: queued -> running without finishing.
	for i := 0; i < 2; i++ {
		if i == 0 {
			require.True(t, svc.TryQueue("task_fff"))
		} else {
			require.True(t, svc.RequeueStuck("task_fff"))
		}
		began, err := store.BeginFinalize("task_fff")
		require.NoError(t, err)
		require.True(t, began)
	}

	// Budget exhausted: the third attempt is refused.
	assert.False(t, svc.RequeueStuck("task_fff"))

	got, err := store.Get("task_fff")
	require.NoError(t, err)
	assert.Equal(t, task.FinalizeRunning, got.Finalization)
	assert.Equal(t, 2, got.FinalizeAttempts)
}

func TestTryQueueRefusedAfterQueued(t *testing.T) {
	rt := &fakeRuntime{}
	svc, store, _ := newTestService(t, rt, Options{})

	createExitedTask(t, store, "task_ggg")
	assert.True(t, svc.TryQueue("task_ggg"))
	assert.False(t, svc.TryQueue("task_ggg"))

	got, err := store.Get("task_ggg")
	require.NoError(t, err)
	assert.Equal(t, task.FinalizeQueued, got.Finalization)
}

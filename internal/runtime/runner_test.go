package runtime

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/device"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/knowledge"
	"github.com/overseer-dev/overseer/internal/persistence/filequeue"
	"github.com/overseer-dev/overseer/internal/persistence/filetask"
	"github.com/overseer-dev/overseer/internal/roles"
)

func newTestRunner(t *testing.T, cfg Config) (*Runner, *filetask.Store, *device.Queue, *events.Broadcaster) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	b := events.NewBroadcaster()
	tasks := filetask.New(ctx, filepath.Join(dir, "tasks.json"))
	queue := device.NewQueue(filequeue.New(ctx, filepath.Join(dir, "device-tasks.json")), b)
	r := New(tasks, queue, roles.NewRegistry(nil), knowledge.Empty{}, b, cfg)
	return r, tasks, queue, b
}

func newTask(agent core.AgentKind) *core.Task {
	return &core.Task{
		ID:        core.NewID(),
		Owner:     "tester",
		Title:     "t",
		Briefing:  "say hello",
		Agent:     agent,
		Status:    core.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
}

func waitTerminal(t *testing.T, tasks *filetask.Store, id string) *core.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := tasks.Get(id)
		require.NoError(t, err)
		if got.Status.IsTerminal() {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func waitStatus(t *testing.T, tasks *filetask.Store, id string, want core.TaskStatus) *core.Task {
	t.Helper()
	var got *core.Task
	require.Eventually(t, func() bool {
		var err error
		got, err = tasks.Get(id)
		return err == nil && got.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return got
}

func TestLocalFallbackEchoesBriefing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo fallback is POSIX-only")
	}
	t.Parallel()
	ctx := context.Background()
	r, tasks, _, _ := newTestRunner(t, Config{})

	task := newTask(core.AgentKind("unknown-cli"))
	require.NoError(t, tasks.Create(ctx, task))

	r.Start(ctx, task)
	got := waitStatus(t, tasks, task.ID, core.TaskReviewing)
	require.NotEmpty(t, got.Output)
	assert.Equal(t, "say hello", got.Output[0].Text)
	assert.Equal(t, "stdout", got.Output[0].Stream)
	require.NotNil(t, got.StartedAt)
	// Completion is the reviewer's call, not the agent's.
	assert.Nil(t, got.CompletedAt)
}

func TestDAGOwnedTaskCompletesOutright(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo fallback is POSIX-only")
	}
	t.Parallel()
	ctx := context.Background()
	r, tasks, _, _ := newTestRunner(t, Config{})

	task := newTask(core.AgentKind("unknown-cli"))
	task.Owner = core.DAGOwnerPrefix + "d1"
	require.NoError(t, tasks.Create(ctx, task))

	r.Start(ctx, task)
	got := waitTerminal(t, tasks, task.ID)
	assert.Equal(t, core.TaskCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestRemoteDispatchCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, tasks, queue, _ := newTestRunner(t, Config{DeviceWaitTimeout: 5 * time.Second})

	task := newTask(core.AgentRemoteDevice)
	task.DeviceID = "devA"
	require.NoError(t, tasks.Create(ctx, task))

	r.Start(ctx, task)

	// Play the device: poll, pick, complete.
	var dt *core.DeviceTask
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending := queue.PendingForDevice("devA"); len(pending) > 0 {
			dt = pending[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, dt, "device task never appeared")
	assert.Contains(t, dt.Prompt, "say hello")
	_, err := queue.Pick(ctx, dt.ID)
	require.NoError(t, err)
	_, err = queue.Complete(ctx, dt.ID, "device result")
	require.NoError(t, err)

	got := waitStatus(t, tasks, task.ID, core.TaskReviewing)
	assert.Equal(t, "device result", got.OutputText())
}

func TestRemoteDispatchTimesOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, tasks, _, _ := newTestRunner(t, Config{DeviceWaitTimeout: 50 * time.Millisecond})

	task := newTask(core.AgentRemoteDevice)
	task.DeviceID = "devA"
	require.NoError(t, tasks.Create(ctx, task))

	r.Start(ctx, task)
	got := waitTerminal(t, tasks, task.ID)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.Equal(t, "timeout waiting for device", got.Reason)
}

func TestCancelRemoteTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, tasks, queue, _ := newTestRunner(t, Config{DeviceWaitTimeout: 5 * time.Second})

	task := newTask(core.AgentRemoteDevice)
	task.DeviceID = "devA"
	require.NoError(t, tasks.Create(ctx, task))

	r.Start(ctx, task)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !r.Running(task.ID) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give the dispatch goroutine a beat to enqueue.
	var dtID string
	for time.Now().Before(deadline) {
		if pending := queue.PendingForDevice("devA"); len(pending) > 0 {
			dtID = pending[0].ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, dtID)

	require.NoError(t, r.Cancel(ctx, task.ID))
	got := waitTerminal(t, tasks, task.ID)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.Equal(t, "cancelled by user", got.Reason)

	dt, err := queue.Get(dtID)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskFailed, dt.Status)
}

func TestCancelUnknownTask(t *testing.T) {
	t.Parallel()
	r, _, _, _ := newTestRunner(t, Config{})
	err := r.Cancel(context.Background(), "nope")
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestStartEmitsLifecycleEvents(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo fallback is POSIX-only")
	}
	t.Parallel()
	ctx := context.Background()
	r, tasks, _, b := newTestRunner(t, Config{})
	ch := b.Subscribe("obs", 64)

	task := newTask(core.AgentKind("shell"))
	task.Owner = core.DAGOwnerPrefix + "d1"
	require.NoError(t, tasks.Create(ctx, task))
	r.Start(ctx, task)
	waitTerminal(t, tasks, task.ID)

	var kinds []core.EventKind
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == core.EventTaskCompleted {
				assert.Contains(t, kinds, core.EventTaskStarted)
				assert.Contains(t, kinds, core.EventTaskOutput)
				assert.Contains(t, kinds, core.EventTaskUpdated)
				return
			}
		case <-timeout:
			t.Fatalf("never saw task:completed, got %v", kinds)
		}
	}
}

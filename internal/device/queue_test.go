package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/persistence/filequeue"
)

func newTestQueue(t *testing.T) (*Queue, *events.Broadcaster) {
	t.Helper()
	b := events.NewBroadcaster()
	store := filequeue.New(context.Background(), filepath.Join(t.TempDir(), "device-tasks.json"))
	return NewQueue(store, b), b
}

func TestPollPickStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, b := newTestQueue(t)
	ch := b.Subscribe("obs", 16)

	dt, err := q.Enqueue(ctx, "task-1", "devA", "claude-sonnet", "build the feature")
	require.NoError(t, err)

	pending := q.PendingForDevice("devA")
	require.Len(t, pending, 1)
	assert.Equal(t, dt.ID, pending[0].ID)

	picked, err := q.Pick(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskRunning, picked.Status)
	require.NotNil(t, picked.PickedAt)

	// A second pick attempt is a not-found.
	_, err = q.Pick(ctx, dt.ID)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))

	require.NoError(t, q.AppendChunk(ctx, dt.ID, "hello "))
	require.NoError(t, q.AppendChunk(ctx, dt.ID, "world"))

	got, err := q.Get(dt.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Output)

	ev := <-ch
	assert.Equal(t, core.EventTaskChunk, ev.Kind)
	assert.Equal(t, "task-1", ev.Payload["taskId"])
}

func TestWaitForCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(t)

	dt, err := q.Enqueue(ctx, "task-1", "devA", "", "prompt")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Pick(ctx, dt.ID)
		_, _ = q.Complete(ctx, dt.ID, "final output")
	}()

	got, err := q.WaitForCompletion(ctx, dt.ID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskCompleted, got.Status)
	assert.Equal(t, "final output", got.Output)
}

func TestWaitTimeoutFailsTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(t)

	dt, err := q.Enqueue(ctx, "task-1", "devA", "", "prompt")
	require.NoError(t, err)

	_, err = q.WaitForCompletion(ctx, dt.ID, 30*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, core.CodeTimeout, core.CodeOf(err))

	got, err := q.Get(dt.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskFailed, got.Status)
	assert.Equal(t, "timeout waiting for device", got.Error)
}

func TestDuplicateCompletionIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(t)

	dt, err := q.Enqueue(ctx, "task-1", "devA", "", "prompt")
	require.NoError(t, err)
	_, err = q.Pick(ctx, dt.ID)
	require.NoError(t, err)

	first, err := q.Complete(ctx, dt.ID, "output one")
	require.NoError(t, err)
	assert.Equal(t, "output one", first.Output)

	// Devices must be able to re-complete a re-issued ID; the second
	// terminal call changes nothing.
	second, err := q.Complete(ctx, dt.ID, "output two")
	require.NoError(t, err)
	assert.Equal(t, "output one", second.Output)
	assert.Equal(t, core.DeviceTaskCompleted, second.Status)

	// Failing after completion is also a no-op.
	third, err := q.Fail(ctx, dt.ID, "late failure")
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskCompleted, third.Status)
	assert.Empty(t, third.Error)
}

func TestWaitResolvedBeforeWaitStarts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(t)

	dt, err := q.Enqueue(ctx, "task-1", "devA", "", "prompt")
	require.NoError(t, err)
	_, err = q.Pick(ctx, dt.ID)
	require.NoError(t, err)
	_, err = q.Complete(ctx, dt.ID, "done")
	require.NoError(t, err)

	got, err := q.WaitForCompletion(ctx, dt.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskCompleted, got.Status)
}

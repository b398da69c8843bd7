package filequeue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
)

func newDeviceTask(id, taskID, deviceID string, status core.DeviceTaskStatus) *core.DeviceTask {
	return &core.DeviceTask{
		ID:        id,
		TaskID:    taskID,
		DeviceID:  deviceID,
		Prompt:    "do the thing",
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPendingForDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(ctx, filepath.Join(t.TempDir(), "device-tasks.json"))

	require.NoError(t, s.Create(ctx, newDeviceTask("dt1", "t1", "devA", core.DeviceTaskPending)))
	require.NoError(t, s.Create(ctx, newDeviceTask("dt2", "t2", "devB", core.DeviceTaskPending)))
	require.NoError(t, s.Create(ctx, newDeviceTask("dt3", "t3", "devA", core.DeviceTaskRunning)))

	pending := s.PendingForDevice("devA")
	require.Len(t, pending, 1)
	assert.Equal(t, "dt1", pending[0].ID)
}

func TestRestartRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device-tasks.json")

	s := New(ctx, path)
	now := time.Now().UTC()
	running := newDeviceTask("running", "t1", "devA", core.DeviceTaskRunning)
	running.PickedAt = &now
	require.NoError(t, s.Create(ctx, running))
	require.NoError(t, s.Create(ctx, newDeviceTask("done", "t2", "devA", core.DeviceTaskCompleted)))
	require.NoError(t, s.Create(ctx, newDeviceTask("failed", "t3", "devA", core.DeviceTaskFailed)))
	require.NoError(t, s.Create(ctx, newDeviceTask("pending", "t4", "devA", core.DeviceTaskPending)))

	reloaded := New(ctx, path)

	// Terminal entries are pruned.
	_, err := reloaded.Get("done")
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
	_, err = reloaded.Get("failed")
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))

	// Running entries are reset so the device can re-pick them.
	got, err := reloaded.Get("running")
	require.NoError(t, err)
	assert.Equal(t, core.DeviceTaskPending, got.Status)
	assert.Nil(t, got.PickedAt)

	// The parent tasks of pending entries are reported for recovery.
	keep := reloaded.PendingTaskIDs()
	assert.True(t, keep["t1"])
	assert.True(t, keep["t4"])
}

func TestMutateNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(ctx, filepath.Join(t.TempDir(), "device-tasks.json"))

	_, err := s.Mutate(ctx, "nope", func(*core.DeviceTask) error { return nil })
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

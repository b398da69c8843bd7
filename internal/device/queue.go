package device

import (
	"context"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/persistence/filequeue"
)

// DefaultWaitTimeout bounds WaitForCompletion when the caller passes zero.
const DefaultWaitTimeout = 10 * time.Minute

// Queue is the pending-task inbox per device. Devices poll for pending
// entries, pick one, stream output chunks, and signal completion; the
// task runner awaits the terminal transition.
type Queue struct {
	store       *filequeue.Store
	broadcaster *events.Broadcaster

	mu      sync.Mutex
	waiters map[string][]chan *core.DeviceTask
}

// NewQueue creates a queue over the given store.
func NewQueue(store *filequeue.Store, broadcaster *events.Broadcaster) *Queue {
	return &Queue{
		store:       store,
		broadcaster: broadcaster,
		waiters:     make(map[string][]chan *core.DeviceTask),
	}
}

// Enqueue creates a pending device task for the device.
func (q *Queue) Enqueue(ctx context.Context, taskID, deviceID, model, prompt string) (*core.DeviceTask, error) {
	dt := &core.DeviceTask{
		ID:        core.NewID(),
		TaskID:    taskID,
		DeviceID:  deviceID,
		Model:     model,
		Prompt:    prompt,
		Status:    core.DeviceTaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Create(ctx, dt); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Device task enqueued", tag.DeviceTaskID(dt.ID), tag.DeviceID(deviceID), tag.TaskID(taskID))
	return dt, nil
}

// PendingForDevice lists the pending entries targeted at the device.
func (q *Queue) PendingForDevice(deviceID string) []*core.DeviceTask {
	return q.store.PendingForDevice(deviceID)
}

// Get returns one device task.
func (q *Queue) Get(id string) (*core.DeviceTask, error) {
	return q.store.Get(id)
}

// Pick transitions pending → running and records the pickup time.
// Attempts on non-pending tasks return not-found so a device that lost a
// race simply moves on.
func (q *Queue) Pick(ctx context.Context, id string) (*core.DeviceTask, error) {
	dt, err := q.store.Mutate(ctx, id, func(dt *core.DeviceTask) error {
		if dt.Status != core.DeviceTaskPending {
			return core.NotFound("pending device task", id)
		}
		now := time.Now().UTC()
		dt.Status = core.DeviceTaskRunning
		dt.PickedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Device task picked", tag.DeviceTaskID(id), tag.DeviceID(dt.DeviceID))
	return dt, nil
}

// AppendChunk appends streamed output and notifies observers.
func (q *Queue) AppendChunk(ctx context.Context, id, chunk string) error {
	dt, err := q.store.Mutate(ctx, id, func(dt *core.DeviceTask) error {
		if dt.Status.IsTerminal() {
			return core.Conflict("device task already terminal: %s", id)
		}
		dt.Output += chunk
		return nil
	})
	if err != nil {
		return err
	}
	q.broadcaster.Broadcast(core.NewEvent(core.EventTaskChunk, map[string]any{
		"deviceTaskId": id,
		"taskId":       dt.TaskID,
		"deviceId":     dt.DeviceID,
		"chunk":        chunk,
	}))
	return nil
}

// Complete marks the task completed. A second terminal call is a no-op:
// devices may re-complete a re-issued ID after a restart.
func (q *Queue) Complete(ctx context.Context, id, output string) (*core.DeviceTask, error) {
	return q.finish(ctx, id, func(dt *core.DeviceTask) {
		dt.Status = core.DeviceTaskCompleted
		if output != "" {
			dt.Output = output
		}
	})
}

// Fail marks the task failed with the given error text. Duplicate
// terminal calls are a no-op.
func (q *Queue) Fail(ctx context.Context, id, errText string) (*core.DeviceTask, error) {
	return q.finish(ctx, id, func(dt *core.DeviceTask) {
		dt.Status = core.DeviceTaskFailed
		dt.Error = errText
	})
}

func (q *Queue) finish(ctx context.Context, id string, apply func(*core.DeviceTask)) (*core.DeviceTask, error) {
	var already bool
	dt, err := q.store.Mutate(ctx, id, func(dt *core.DeviceTask) error {
		if dt.Status.IsTerminal() {
			already = true
			return nil
		}
		apply(dt)
		now := time.Now().UTC()
		dt.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return dt, nil
	}
	logger.Info(ctx, "Device task finished", tag.DeviceTaskID(id), tag.Status(string(dt.Status)))
	q.notify(dt)
	return dt, nil
}

// FailAllForDevice fails every non-terminal entry owned by the device.
func (q *Queue) FailAllForDevice(ctx context.Context, deviceID, reason string) {
	for _, dt := range q.store.ForDevice(deviceID) {
		if _, err := q.Fail(ctx, dt.ID, reason); err != nil {
			logger.Error(ctx, "Failed to cancel device task", tag.DeviceTaskID(dt.ID), tag.Error(err))
		}
	}
}

// WaitForCompletion blocks until the device task reaches a terminal state
// or maxWait elapses. On timeout the task is failed with reason "timeout
// waiting for device" and a timeout error is returned.
func (q *Queue) WaitForCompletion(ctx context.Context, id string, maxWait time.Duration) (*core.DeviceTask, error) {
	if maxWait <= 0 {
		maxWait = DefaultWaitTimeout
	}

	ch := make(chan *core.DeviceTask, 1)
	q.mu.Lock()
	q.waiters[id] = append(q.waiters[id], ch)
	q.mu.Unlock()
	defer q.removeWaiter(id, ch)

	// The terminal transition may have already happened.
	if dt, err := q.store.Get(id); err == nil && dt.Status.IsTerminal() {
		return dt, nil
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case dt := <-ch:
		return dt, nil
	case <-timer.C:
		if _, err := q.Fail(ctx, id, "timeout waiting for device"); err != nil {
			logger.Error(ctx, "Failed to fail timed-out device task", tag.DeviceTaskID(id), tag.Error(err))
		}
		return nil, core.NewError(core.CodeTimeout, "timeout waiting for device")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) notify(dt *core.DeviceTask) {
	q.mu.Lock()
	waiters := q.waiters[dt.ID]
	delete(q.waiters, dt.ID)
	q.mu.Unlock()
	for _, ch := range waiters {
		ch <- dt
	}
}

func (q *Queue) removeWaiter(id string, target chan *core.DeviceTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	waiters := q.waiters[id]
	for i, ch := range waiters {
		if ch == target {
			q.waiters[id] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(q.waiters[id]) == 0 {
		delete(q.waiters, id)
	}
}

// PendingTaskIDs exposes the parent Task IDs kept alive by pending
// entries; consumed by task store recovery.
func (q *Queue) PendingTaskIDs() map[string]bool {
	return q.store.PendingTaskIDs()
}

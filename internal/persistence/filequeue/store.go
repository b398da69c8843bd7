// Package filequeue persists the per-device task inbox. Completed and
// failed entries are pruned on load; running entries are reset to pending
// so their device can re-pick them after a restart.
package filequeue

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/overseer-dev/overseer/internal/cmn/fileutil"
	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
)

// Store is the durable collection of device tasks.
type Store struct {
	mu    sync.Mutex
	path  string
	tasks map[string]*core.DeviceTask
}

// New loads the store from path, applying restart recovery.
func New(ctx context.Context, path string) *Store {
	s := &Store{path: path, tasks: make(map[string]*core.DeviceTask)}
	var records []*core.DeviceTask
	if err := fileutil.ReadJSON(path, &records); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "Device queue load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	changed := false
	for _, dt := range records {
		switch dt.Status {
		case core.DeviceTaskCompleted, core.DeviceTaskFailed:
			changed = true // pruned
		case core.DeviceTaskRunning:
			dt.Status = core.DeviceTaskPending
			dt.PickedAt = nil
			s.tasks[dt.ID] = dt
			changed = true
			logger.Info(ctx, "Device task reset to pending after restart", tag.DeviceTaskID(dt.ID))
		default:
			s.tasks[dt.ID] = dt
		}
	}
	if changed {
		s.mu.Lock()
		_ = s.saveLocked(ctx)
		s.mu.Unlock()
	}
	return s
}

// PendingTaskIDs returns the parent Task IDs of all pending device tasks.
// The task store consults this during restart recovery.
func (s *Store) PendingTaskIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, dt := range s.tasks {
		if dt.Status == core.DeviceTaskPending {
			out[dt.TaskID] = true
		}
	}
	return out
}

// Create inserts the device task.
func (s *Store) Create(ctx context.Context, dt *core.DeviceTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[dt.ID]; ok {
		return core.Conflict("device task already exists: %s", dt.ID)
	}
	s.tasks[dt.ID] = dt
	return s.saveLocked(ctx)
}

// Get returns a copy of the device task.
func (s *Store) Get(id string) (*core.DeviceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt, ok := s.tasks[id]
	if !ok {
		return nil, core.NotFound("device task", id)
	}
	cp := *dt
	return &cp, nil
}

// PendingForDevice returns pending device tasks targeted at the device,
// oldest first.
func (s *Store) PendingForDevice(deviceID string) []*core.DeviceTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.DeviceTask
	for _, dt := range s.tasks {
		if dt.DeviceID == deviceID && dt.Status == core.DeviceTaskPending {
			cp := *dt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ForDevice returns every non-terminal device task owned by the device.
func (s *Store) ForDevice(deviceID string) []*core.DeviceTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.DeviceTask
	for _, dt := range s.tasks {
		if dt.DeviceID == deviceID && !dt.Status.IsTerminal() {
			cp := *dt
			out = append(out, &cp)
		}
	}
	return out
}

// Mutate applies fn to the device task under the writer lock and persists.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*core.DeviceTask) error) (*core.DeviceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt, ok := s.tasks[id]
	if !ok {
		return nil, core.NotFound("device task", id)
	}
	if err := fn(dt); err != nil {
		return nil, err
	}
	if err := s.saveLocked(ctx); err != nil {
		return nil, err
	}
	cp := *dt
	return &cp, nil
}

func (s *Store) saveLocked(ctx context.Context) error {
	records := make([]*core.DeviceTask, 0, len(s.tasks))
	for _, dt := range s.tasks {
		records = append(records, dt)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	if err := fileutil.WriteJSONAtomic(s.path, records); err != nil {
		logger.Error(ctx, "Device queue write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist device tasks")
	}
	return nil
}

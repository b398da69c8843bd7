// Package filetask persists task records as a single JSON document,
// rewritten atomically on every mutation.
package filetask

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/cmn/fileutil"
	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
)

// Store is a durable, key-addressable collection of task records.
// Mutations are serialized by a single writer lock; readers observe
// snapshots.
type Store struct {
	mu    sync.Mutex
	path  string
	tasks map[string]*core.Task
}

// New loads the store from path. A missing file starts empty; a corrupted
// file is logged and the store starts empty without touching it until the
// first write.
func New(ctx context.Context, path string) *Store {
	s := &Store{path: path, tasks: make(map[string]*core.Task)}
	var records []*core.Task
	if err := fileutil.ReadJSON(path, &records); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "Task store load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	for _, t := range records {
		s.tasks[t.ID] = t
	}
	return s
}

// RecoverInterrupted transitions tasks left in running or pending state to
// failed with reason "interrupted by restart". Tasks whose ID appears in
// keepAlive (a pending device task still references them) stay untouched
// and keep waiting on the device queue.
func (s *Store) RecoverInterrupted(ctx context.Context, keepAlive map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, t := range s.tasks {
		if t.Status != core.TaskRunning && t.Status != core.TaskPending {
			continue
		}
		if keepAlive[t.ID] {
			logger.Info(ctx, "Task kept alive by pending device task", tag.TaskID(t.ID))
			continue
		}
		now := time.Now().UTC()
		t.Status = core.TaskFailed
		t.Reason = "interrupted by restart"
		t.CompletedAt = &now
		changed = true
		logger.Warn(ctx, "Task interrupted by restart", tag.TaskID(t.ID))
	}
	if changed {
		s.saveLocked(ctx)
	}
}

// Create inserts the task and persists. The store keeps its own copy so
// the caller's record never aliases the live one.
func (s *Store) Create(ctx context.Context, t *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return core.Conflict("task already exists: %s", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return s.saveLocked(ctx)
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}

// List returns all tasks, newest first, optionally filtered by owner.
func (s *Store) List(owner string) []*core.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if owner != "" && t.Owner != owner {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies fn to the stored task under the writer lock and persists
// the result. fn sees and mutates the live record; partial updates merge
// by assigning only the fields they change.
func (s *Store) Update(ctx context.Context, id string, fn func(*core.Task)) (*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.NotFound("task", id)
	}
	fn(t)
	if err := s.saveLocked(ctx); err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

// AppendOutput appends a captured output line without rewriting callers'
// snapshots.
func (s *Store) AppendOutput(ctx context.Context, id string, line core.OutputLine) error {
	_, err := s.Update(ctx, id, func(t *core.Task) {
		t.Output = append(t.Output, line)
	})
	return err
}

// Delete removes the task.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return core.NotFound("task", id)
	}
	delete(s.tasks, id)
	return s.saveLocked(ctx)
}

// DeleteAll removes every task.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*core.Task)
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	records := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		records = append(records, t)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	if err := fileutil.WriteJSONAtomic(s.path, records); err != nil {
		logger.Error(ctx, "Task store write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist tasks")
	}
	return nil
}

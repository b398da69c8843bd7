// Package filedag persists DAG records (nodes and edges inline) as a
// single JSON document.
package filedag

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

// Store is the durable collection of DAG records.
type Store struct {
	mu   sync.Mutex
	path string
	dags map[string]*core.DAG
}

// New loads the store from path. Running DAGs found on load have their
// running nodes rewritten to failed ("interrupted by restart"); the DAG
// status is recomputed by the executor when it attaches.
func New(ctx context.Context, path string) *Store {
	s := &Store{path: path, dags: make(map[string]*core.DAG)}
	var records []*core.DAG
	if err := fileutil.ReadJSON(path, &records); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "DAG store load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	for _, d := range records {
		s.dags[d.ID] = d
	}
	return s
}

// RecoverInterrupted rewrites running nodes of running DAGs to failed.
func (s *Store) RecoverInterrupted(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, d := range s.dags {
		if d.Status != core.DAGRunning {
			continue
		}
		for _, n := range d.Nodes {
			if n.Status == core.NodeRunning {
				n.Status = core.NodeFailed
				n.Reason = "interrupted by restart"
				changed = true
				logger.Warn(ctx, "DAG node interrupted by restart", tag.DAGID(d.ID), tag.NodeID(n.ID))
			}
		}
	}
	if changed {
		s.saveLocked(ctx)
	}
}

// Create inserts the DAG and persists. The store keeps its own copy so
// the caller's record never aliases the live one.
func (s *Store) Create(ctx context.Context, d *core.DAG) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dags[d.ID]; ok {
		return core.Conflict("dag already exists: %s", d.ID)
	}
	s.dags[d.ID] = d.Clone()
	return s.saveLocked(ctx)
}

// Get returns a snapshot of the record. Writes go through Mutate.
func (s *Store) Get(id string) (*core.DAG, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dags[id]
	if !ok {
		return nil, core.NotFound("dag", id)
	}
	return d.Clone(), nil
}

// List returns snapshots of all DAGs, newest first.
func (s *Store) List() []*core.DAG {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.DAG, 0, len(s.dags))
	for _, d := range s.dags {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Running returns the IDs of DAGs in the running state.
func (s *Store) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, d := range s.dags {
		if d.Status == core.DAGRunning {
			ids = append(ids, d.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Mutate applies fn to the DAG under the writer lock and persists.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*core.DAG) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dags[id]
	if !ok {
		return core.NotFound("dag", id)
	}
	if err := fn(d); err != nil {
		return err
	}
	return s.saveLocked(ctx)
}

// Delete removes the DAG. Deleting a running DAG is forbidden.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dags[id]
	if !ok {
		return core.NotFound("dag", id)
	}
	if d.Status == core.DAGRunning {
		return core.Conflict("cannot delete a running dag: %s", id)
	}
	delete(s.dags, id)
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	records := make([]*core.DAG, 0, len(s.dags))
	for _, d := range s.dags {
		records = append(records, d)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	if err := fileutil.WriteJSONAtomic(s.path, records); err != nil {
		logger.Error(ctx, "DAG store write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist dags")
	}
	return nil
}

// Touch marks completion time on terminal transitions; helper shared by
// the executor.
func Touch(d *core.DAG) {
	now := time.Now().UTC()
	d.CompletedAt = &now
}

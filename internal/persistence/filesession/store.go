// Package filesession persists hypergraph retrieval sessions together
// with their graph data.
package filesession

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

// Record pairs a session with its persisted hypergraph.
type Record struct {
	Session   *core.Session  `json:"session"`
	GraphData core.GraphData `json:"graphData"`
}

// Store is the durable collection of session records.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record
}

// New loads the store from path.
func New(ctx context.Context, path string) *Store {
	s := &Store{path: path, records: make(map[string]*Record)}
	var records []*Record
	if err := fileutil.ReadJSON(path, &records); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "Session store load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	for _, r := range records {
		s.records[r.Session.ID] = r
	}
	return s
}

// Put inserts or replaces the record for the session.
func (s *Store) Put(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Session.ID] = r
	return s.saveLocked(ctx)
}

// Get returns the record for the session ID.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, core.NotFound("session", id)
	}
	return r, nil
}

// List returns all records, newest session first.
func (s *Store) List() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Session.CreatedAt.After(out[j].Session.CreatedAt)
	})
	return out
}

func (s *Store) saveLocked(ctx context.Context) error {
	records := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Session.CreatedAt.Before(records[j].Session.CreatedAt)
	})
	if err := fileutil.WriteJSONAtomic(s.path, records); err != nil {
		logger.Error(ctx, "Session store write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist sessions")
	}
	return nil
}

// Package filesettings persists role display settings and default model
// mappings.
package filesettings

import (
	"context"
	"os"
	"sync"

	"github.com/overseer-dev/overseer/internal/cmn/fileutil"
	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
)

// RoleSettings overrides display and model defaults for a role.
type RoleSettings struct {
	DisplayName   string `json:"displayName,omitempty"`
	DefaultModel  string `json:"defaultModel,omitempty"`
	DefaultDevice string `json:"defaultDevice,omitempty"`
}

// Settings is the persisted document.
type Settings struct {
	Roles map[string]RoleSettings `json:"roles"`
}

// Store is the durable settings document.
type Store struct {
	mu       sync.Mutex
	path     string
	settings Settings
}

// New loads the store from path.
func New(ctx context.Context, path string) *Store {
	s := &Store{path: path, settings: Settings{Roles: make(map[string]RoleSettings)}}
	var data Settings
	if err := fileutil.ReadJSON(path, &data); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "Settings load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	if data.Roles != nil {
		s.settings = data
	}
	return s
}

// Get returns a copy of the settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Settings{Roles: make(map[string]RoleSettings, len(s.settings.Roles))}
	for k, v := range s.settings.Roles {
		out.Roles[k] = v
	}
	return out
}

// SetRole updates one role's settings and persists.
func (s *Store) SetRole(ctx context.Context, roleID string, rs RoleSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Roles[roleID] = rs
	if err := fileutil.WriteJSONAtomic(s.path, s.settings); err != nil {
		logger.Error(ctx, "Settings write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist settings")
	}
	return nil
}

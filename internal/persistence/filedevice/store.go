// Package filedevice persists device records and their onboarding tokens
// as a single {devices, tokens} JSON document.
package filedevice

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

type fileData struct {
	Devices []*core.Device      `json:"devices"`
	Tokens  []*core.DeviceToken `json:"tokens"`
}

// Store is the durable collection of devices and tokens.
type Store struct {
	mu      sync.Mutex
	path    string
	devices map[string]*core.Device
	tokens  map[string]*core.DeviceToken // keyed by token hash
}

// New loads the store from path.
func New(ctx context.Context, path string) *Store {
	s := &Store{
		path:    path,
		devices: make(map[string]*core.Device),
		tokens:  make(map[string]*core.DeviceToken),
	}
	var data fileData
	if err := fileutil.ReadJSON(path, &data); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "Device store load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	for _, d := range data.Devices {
		s.devices[d.ID] = d
	}
	for _, t := range data.Tokens {
		s.tokens[t.Hash] = t
	}
	return s
}

// CreateDevice inserts the device and its onboarding token.
func (s *Store) CreateDevice(ctx context.Context, d *core.Device, t *core.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.ID]; ok {
		return core.Conflict("device already exists: %s", d.ID)
	}
	s.devices[d.ID] = d
	s.tokens[t.Hash] = t
	return s.saveLocked(ctx)
}

// GetDevice returns a copy of the device.
func (s *Store) GetDevice(id string) (*core.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, core.NotFound("device", id)
	}
	cp := *d
	return &cp, nil
}

// ListDevices returns all devices sorted by creation time.
func (s *Store) ListDevices() []*core.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Device, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateDevice applies fn to the device under the writer lock and persists.
func (s *Store) UpdateDevice(ctx context.Context, id string, fn func(*core.Device)) (*core.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, core.NotFound("device", id)
	}
	fn(d)
	if err := s.saveLocked(ctx); err != nil {
		return nil, err
	}
	cp := *d
	return &cp, nil
}

// TokenByHash returns the live token record for the given hash.
func (s *Store) TokenByHash(hash string) (*core.DeviceToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	return t, ok
}

// MarkTokenUsed sets the first-use timestamp; the change is irrevocable.
func (s *Store) MarkTokenUsed(ctx context.Context, hash string, fn func(*core.DeviceToken)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return core.NotFound("token", hash)
	}
	fn(t)
	return s.saveLocked(ctx)
}

// DeleteDevice removes the device and all tokens owned by it.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return core.NotFound("device", id)
	}
	delete(s.devices, id)
	for hash, t := range s.tokens {
		if t.DeviceID == id {
			delete(s.tokens, hash)
		}
	}
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	data := fileData{
		Devices: make([]*core.Device, 0, len(s.devices)),
		Tokens:  make([]*core.DeviceToken, 0, len(s.tokens)),
	}
	for _, d := range s.devices {
		data.Devices = append(data.Devices, d)
	}
	for _, t := range s.tokens {
		data.Tokens = append(data.Tokens, t)
	}
	sort.Slice(data.Devices, func(i, j int) bool {
		return data.Devices[i].CreatedAt.Before(data.Devices[j].CreatedAt)
	})
	sort.Slice(data.Tokens, func(i, j int) bool {
		return data.Tokens[i].Hash < data.Tokens[j].Hash
	})
	if err := fileutil.WriteJSONAtomic(s.path, data); err != nil {
		logger.Error(ctx, "Device store write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist devices")
	}
	return nil
}

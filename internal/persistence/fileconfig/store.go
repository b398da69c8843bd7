// Package fileconfig persists encrypted configuration entries. Values are
// encrypted at rest with AES-256-GCM; masked entries are truncated on
// retrieval unless explicitly revealed.
package fileconfig

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/cmn/crypto"
	"github.com/overseer-dev/overseer/internal/cmn/fileutil"
	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
)

// Entry is one stored config record. Value holds the iv:authTag:ciphertext
// form on disk.
type Entry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Masked      bool      `json:"masked"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the durable collection of encrypted config entries.
type Store struct {
	mu      sync.Mutex
	path    string
	enc     *crypto.Encryptor
	entries map[string]*Entry
}

// New loads the store from path using the given encryptor.
func New(ctx context.Context, path string, enc *crypto.Encryptor) *Store {
	s := &Store{path: path, enc: enc, entries: make(map[string]*Entry)}
	var records []*Entry
	if err := fileutil.ReadJSON(path, &records); err != nil {
		if !os.IsNotExist(err) {
			logger.Error(ctx, "Config store load failed, starting empty", tag.Path(path), tag.Error(err))
		}
		return s
	}
	for _, e := range records {
		s.entries[e.Key] = e
	}
	return s
}

// Set encrypts and stores the value under key.
func (s *Store) Set(ctx context.Context, key, value, category, description string, masked bool) error {
	encrypted, err := s.enc.Encrypt(value)
	if err != nil {
		return core.WrapError(core.CodeInternal, err, "failed to encrypt config value")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &Entry{
		Key:         key,
		Value:       encrypted,
		Category:    category,
		Description: description,
		Masked:      masked,
		UpdatedAt:   time.Now().UTC(),
	}
	return s.saveLocked(ctx)
}

// Get returns the decrypted value for key.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return "", core.NotFound("config entry", key)
	}
	value, err := s.enc.Decrypt(e.Value)
	if err != nil {
		return "", core.WrapError(core.CodeInternal, err, "failed to decrypt config value %s", key)
	}
	return value, nil
}

// View is the caller-facing form of an entry; masked values are truncated
// to first-2 + asterisks + last-2.
type View struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Masked      bool      `json:"masked"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// List returns all entries with masked values truncated.
func (s *Store) List() ([]View, error) {
	s.mu.Lock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	out := make([]View, 0, len(entries))
	for _, e := range entries {
		value, err := s.enc.Decrypt(e.Value)
		if err != nil {
			return nil, core.WrapError(core.CodeInternal, err, "failed to decrypt config value %s", e.Key)
		}
		if e.Masked {
			value = crypto.Mask(value)
		}
		out = append(out, View{
			Key:         e.Key,
			Value:       value,
			Category:    e.Category,
			Description: e.Description,
			Masked:      e.Masked,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	return out, nil
}

// Delete removes the entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return core.NotFound("config entry", key)
	}
	delete(s.entries, key)
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	records := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		records = append(records, e)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	if err := fileutil.WriteJSONAtomic(s.path, records); err != nil {
		logger.Error(ctx, "Config store write failed", tag.Path(s.path), tag.Error(err))
		return core.WrapError(core.CodeInternal, err, "failed to persist config entries")
	}
	return nil
}

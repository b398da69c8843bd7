// Package device manages remote workers: onboarding with one-time
// tokens, heartbeat tracking, and the per-device task inbox that devices
// drain over a polling protocol.
package device

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/persistence/filedevice"
)

const (
	// tokenPrefix makes connection tokens recognizable in logs and chat.
	tokenPrefix = "ovsr_"

	// TokenTTL is how long an unredeemed onboarding token stays valid.
	TokenTTL = 24 * time.Hour

	// HeartbeatTimeout is the silence threshold after which an online
	// device is flipped to offline.
	HeartbeatTimeout = 5 * time.Minute

	// sweepInterval is the cadence of the offline sweep.
	sweepInterval = time.Minute
)

// Registry owns device lifecycle and token redemption.
type Registry struct {
	store       *filedevice.Store
	queue       *Queue
	broadcaster *events.Broadcaster
}

// NewRegistry creates a registry over the given store. The queue is used
// to fail in-flight work when a device is deleted.
func NewRegistry(store *filedevice.Store, queue *Queue, broadcaster *events.Broadcaster) *Registry {
	return &Registry{store: store, queue: queue, broadcaster: broadcaster}
}

// Created pairs a new device with its plaintext connection token. The
// token is returned exactly once and only its hash is stored.
type Created struct {
	Device *core.Device `json:"device"`
	Token  string       `json:"token"`
}

// Create registers a device in the pending state and mints its one-time
// connection token.
func (r *Registry) Create(ctx context.Context, name, deviceType string, tags []string) (*Created, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, core.WrapError(core.CodeInternal, err, "failed to generate token")
	}
	token := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	device := &core.Device{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      deviceType,
		Tags:      tags,
		Status:    core.DevicePending,
		CreatedAt: time.Now().UTC(),
	}
	tokenRec := &core.DeviceToken{
		Hash:      hashToken(token),
		DeviceID:  device.ID,
		ExpiresAt: time.Now().UTC().Add(TokenTTL),
	}
	if err := r.store.CreateDevice(ctx, device, tokenRec); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Device created", tag.DeviceID(device.ID))
	r.broadcaster.Broadcast(core.NewEvent(core.EventDeviceCreated, map[string]any{
		"deviceId": device.ID,
		"name":     device.Name,
	}))
	return &Created{Device: device, Token: token}, nil
}

// ConnectRequest carries the redemption payload from a device.
type ConnectRequest struct {
	Token        string            `json:"token"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	Hostname     string            `json:"hostname,omitempty"`
	Tunnel       *core.Tunnel      `json:"tunnel,omitempty"`
}

// Connect redeems a one-time token. Expired and already-used tokens are
// rejected; a second redemption never promotes a device.
func (r *Registry) Connect(ctx context.Context, req ConnectRequest) (*core.Device, error) {
	tokenRec, ok := r.store.TokenByHash(hashToken(req.Token))
	if !ok {
		return nil, core.Unauthorized("unknown device token")
	}
	if tokenRec.UsedAt != nil {
		logger.Warn(ctx, "Rejected reused device token", tag.DeviceID(tokenRec.DeviceID))
		return nil, core.Unauthorized("device token already used")
	}
	if time.Now().After(tokenRec.ExpiresAt) {
		logger.Warn(ctx, "Rejected expired device token", tag.DeviceID(tokenRec.DeviceID))
		return nil, core.Unauthorized("device token expired")
	}

	now := time.Now().UTC()
	if err := r.store.MarkTokenUsed(ctx, tokenRec.Hash, func(t *core.DeviceToken) {
		t.UsedAt = &now
	}); err != nil {
		return nil, err
	}

	device, err := r.store.UpdateDevice(ctx, tokenRec.DeviceID, func(d *core.Device) {
		d.Status = core.DeviceOnline
		d.Hostname = req.Hostname
		d.LastSeen = &now
		if req.Tunnel != nil {
			d.Tunnel = req.Tunnel
		}
		if len(req.Capabilities) > 0 {
			if d.Capabilities == nil {
				d.Capabilities = make(map[string]string)
			}
			for k, v := range req.Capabilities {
				d.Capabilities[k] = v
			}
		}
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Device connected", tag.DeviceID(device.ID))
	r.broadcaster.Broadcast(core.NewEvent(core.EventDeviceConnected, map[string]any{
		"deviceId": device.ID,
		"name":     device.Name,
	}))
	return device, nil
}

// Heartbeat refreshes last-seen and merges capability updates. An offline
// device flips back to online.
func (r *Registry) Heartbeat(ctx context.Context, id string, capabilities map[string]string) (*core.Device, error) {
	now := time.Now().UTC()
	var cameOnline bool
	device, err := r.store.UpdateDevice(ctx, id, func(d *core.Device) {
		d.LastSeen = &now
		if d.Status == core.DeviceOffline {
			d.Status = core.DeviceOnline
			cameOnline = true
		}
		if len(capabilities) > 0 {
			if d.Capabilities == nil {
				d.Capabilities = make(map[string]string)
			}
			for k, v := range capabilities {
				d.Capabilities[k] = v
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if cameOnline {
		r.broadcaster.Broadcast(core.NewEvent(core.EventDeviceOnline, map[string]any{
			"deviceId": device.ID,
		}))
	}
	return device, nil
}

// Get returns one device.
func (r *Registry) Get(id string) (*core.Device, error) {
	return r.store.GetDevice(id)
}

// List returns all devices.
func (r *Registry) List() []*core.Device {
	return r.store.ListDevices()
}

// Delete removes the device and its tokens, and fails any in-flight work
// queued for it so waiting tasks resolve with "device gone".
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	if r.queue != nil {
		r.queue.FailAllForDevice(ctx, id, "device gone")
	}
	logger.Info(ctx, "Device deleted", tag.DeviceID(id))
	r.broadcaster.Broadcast(core.NewEvent(core.EventDeviceDeleted, map[string]any{
		"deviceId": id,
	}))
	return nil
}

// RunHealthSweep periodically flips silent devices to offline. It blocks
// until the context is cancelled.
func (r *Registry) RunHealthSweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-HeartbeatTimeout)
	for _, d := range r.store.ListDevices() {
		if d.Status != core.DeviceOnline {
			continue
		}
		if d.LastSeen != nil && d.LastSeen.After(cutoff) {
			continue
		}
		if _, err := r.store.UpdateDevice(ctx, d.ID, func(dev *core.Device) {
			dev.Status = core.DeviceOffline
		}); err != nil {
			logger.Error(ctx, "Health sweep update failed", tag.DeviceID(d.ID), tag.Error(err))
			continue
		}
		logger.Warn(ctx, "Device went offline", tag.DeviceID(d.ID))
		r.broadcaster.Broadcast(core.NewEvent(core.EventDeviceOffline, map[string]any{
			"deviceId": d.ID,
		}))
	}
}

// SweepNow runs one sweep pass immediately; used by tests and the serve
// startup path.
func (r *Registry) SweepNow(ctx context.Context) {
	r.sweep(ctx)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

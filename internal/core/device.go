package core

import "time"

// DeviceStatus is the lifecycle state of a remote worker.
type DeviceStatus string

const (
	DevicePending DeviceStatus = "pending"
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceError   DeviceStatus = "error"
)

// Tunnel holds optional reverse-tunnel metadata advertised by a device.
type Tunnel struct {
	ID         string `json:"id,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Device is a long-lived remote worker that pulls work from its inbox.
type Device struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Status       DeviceStatus      `json:"status"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	Hostname     string            `json:"hostname,omitempty"`
	Tunnel       *Tunnel           `json:"tunnel,omitempty"`
	LastSeen     *time.Time        `json:"lastSeen,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// DeviceToken is a single-use onboarding credential. Only the hash of the
// plaintext token is stored.
type DeviceToken struct {
	Hash      string     `json:"hash"`
	DeviceID  string     `json:"deviceId"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// DeviceTaskStatus is the forward-only state machine of a queued unit of
// work.
type DeviceTaskStatus string

const (
	DeviceTaskPending   DeviceTaskStatus = "pending"
	DeviceTaskRunning   DeviceTaskStatus = "running"
	DeviceTaskCompleted DeviceTaskStatus = "completed"
	DeviceTaskFailed    DeviceTaskStatus = "failed"
)

// IsTerminal reports whether the device task reached a final state.
func (s DeviceTaskStatus) IsTerminal() bool {
	return s == DeviceTaskCompleted || s == DeviceTaskFailed
}

// DeviceTask is one unit of work queued for a specific device, paired
// one-to-one with a parent Task.
type DeviceTask struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"taskId"`
	DeviceID    string           `json:"deviceId"`
	Model       string           `json:"model,omitempty"`
	Prompt      string           `json:"prompt"`
	Status      DeviceTaskStatus `json:"status"`
	Output      string           `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	PickedAt    *time.Time       `json:"pickedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

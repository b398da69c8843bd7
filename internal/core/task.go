package core

import (
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskRejected  TaskStatus = "rejected"
	TaskReviewing TaskStatus = "reviewing"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskRejected:
		return true
	}
	return false
}

// DAGOwnerPrefix marks tasks dispatched by the DAG executor. The
// executor consumes their terminal events itself, so they complete
// directly instead of parking in reviewing.
const DAGOwnerPrefix = "dag:"

// DAGOwned reports whether the task was dispatched by a DAG node.
func (t *Task) DAGOwned() bool {
	return strings.HasPrefix(t.Owner, DAGOwnerPrefix)
}

// AgentKind selects how a task is executed.
type AgentKind string

const (
	AgentLocalClaude  AgentKind = "local-claude"
	AgentLocalAugment AgentKind = "local-augment"
	AgentRemoteDevice AgentKind = "remote-device"
)

// OutputLine is one captured line of agent output, tagged with the stream
// it arrived on.
type OutputLine struct {
	Stream string    `json:"stream"` // stdout, stderr or system
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// Task is a single agent invocation.
type Task struct {
	ID       string     `json:"id"`
	Owner    string     `json:"owner,omitempty"`
	Project  string     `json:"project,omitempty"`
	Title    string     `json:"title"`
	Briefing string     `json:"briefing,omitempty"`
	Role     string     `json:"role,omitempty"`
	Model    string     `json:"model,omitempty"`
	Agent    AgentKind  `json:"agent"`
	DeviceID string     `json:"deviceId,omitempty"`
	Allow    []string   `json:"allow,omitempty"`
	Deny     []string   `json:"deny,omitempty"`
	Status   TaskStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`

	Output []OutputLine `json:"output,omitempty"`
	Diff   string       `json:"diff,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// OutputText joins the captured stdout/system lines into one blob, used
// for artifact extraction and diff capture.
func (t *Task) OutputText() string {
	var b []byte
	for _, line := range t.Output {
		b = append(b, line.Text...)
		b = append(b, '\n')
	}
	return string(b)
}

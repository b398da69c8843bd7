package core

import "time"

// DAGStatus is the lifecycle state of a plan.
type DAGStatus string

const (
	DAGCreated   DAGStatus = "created"
	DAGRunning   DAGStatus = "running"
	DAGCompleted DAGStatus = "completed"
	DAGFailed    DAGStatus = "failed"
	DAGPaused    DAGStatus = "paused"
)

// NodeStatus is the lifecycle state of a node within a DAG.
type NodeStatus string

const (
	NodePending         NodeStatus = "pending"
	NodeRunning         NodeStatus = "running"
	NodeCompleted       NodeStatus = "completed"
	NodeFailed          NodeStatus = "failed"
	NodeSkipped         NodeStatus = "skipped"
	NodeWaitingApproval NodeStatus = "waiting_approval"
)

// IsTerminal reports whether a node can no longer transition.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped:
		return true
	}
	return false
}

// Satisfied reports whether the node unblocks its successors.
func (s NodeStatus) Satisfied() bool {
	return s == NodeCompleted || s == NodeSkipped
}

// NodeKind distinguishes executable task nodes from control nodes.
type NodeKind string

const (
	NodeKindTask   NodeKind = "task"
	NodeKindGate   NodeKind = "gate"
	NodeKindFanOut NodeKind = "fan_out"
	NodeKindFanIn  NodeKind = "fan_in"
)

// GateCondition is the policy a gate node applies over its predecessors.
type GateCondition string

const (
	GateAllPass GateCondition = "all_pass"
	GateAnyPass GateCondition = "any_pass"
	GateManual  GateCondition = "manual"
)

// ApprovalMode is advisory metadata on the DAG; gate nodes implement the
// actual policy.
type ApprovalMode string

const (
	ApprovalPerTask        ApprovalMode = "per_task"
	ApprovalEndOnly        ApprovalMode = "end_only"
	ApprovalGateConfigured ApprovalMode = "gate_configured"
)

// Node is a unit of execution within a DAG.
type Node struct {
	ID       string        `json:"id"`
	Kind     NodeKind      `json:"kind"`
	Title    string        `json:"title,omitempty"`
	Briefing string        `json:"briefing,omitempty"`
	Role     string        `json:"role,omitempty"`
	Agent    AgentKind     `json:"agent,omitempty"`
	DeviceID string        `json:"deviceId,omitempty"`
	Allow    []string      `json:"allow,omitempty"`
	Deny     []string      `json:"deny,omitempty"`
	Gate     GateCondition `json:"gate,omitempty"`

	Status NodeStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
	TaskID string     `json:"taskId,omitempty"`
	Output string     `json:"output,omitempty"`

	// Artifacts are immutable once the node is terminal.
	Artifacts map[string]ArtifactValue `json:"artifacts,omitempty"`
}

// Edge is a dependency from From to To; both must exist in the same DAG.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DAG is a plan: an acyclic graph of nodes.
type DAG struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Project     string       `json:"project,omitempty"`
	CreatedBy   string       `json:"createdBy"` // planner or manual
	Approval    ApprovalMode `json:"approval,omitempty"`
	Status      DAGStatus    `json:"status"`
	Nodes       []*Node      `json:"nodes"`
	Edges       []Edge       `json:"edges"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Clone returns a deep copy. Stores hand clones to readers so JSON
// marshalling never races with an executor mutating the original.
func (d *DAG) Clone() *DAG {
	cp := *d
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Nodes = make([]*Node, len(d.Nodes))
	for i, n := range d.Nodes {
		nc := *n
		nc.Allow = append([]string(nil), n.Allow...)
		nc.Deny = append([]string(nil), n.Deny...)
		if n.Artifacts != nil {
			nc.Artifacts = make(map[string]ArtifactValue, len(n.Artifacts))
			for k, v := range n.Artifacts {
				nc.Artifacts[k] = v
			}
		}
		cp.Nodes[i] = &nc
	}
	cp.Edges = append([]Edge(nil), d.Edges...)
	return &cp
}

// NodeByID returns the node with the given ID, or nil.
func (d *DAG) NodeByID(id string) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Predecessors returns the IDs of nodes with an edge into nodeID.
func (d *DAG) Predecessors(nodeID string) []string {
	var ids []string
	for _, e := range d.Edges {
		if e.To == nodeID {
			ids = append(ids, e.From)
		}
	}
	return ids
}

// Successors returns the IDs of nodes nodeID has an edge into.
func (d *DAG) Successors(nodeID string) []string {
	var ids []string
	for _, e := range d.Edges {
		if e.From == nodeID {
			ids = append(ids, e.To)
		}
	}
	return ids
}

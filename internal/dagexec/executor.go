// Package dagexec walks DAGs of agent tasks: it validates graphs,
// computes readiness, starts task nodes through the task runner,
// evaluates gates, propagates artifacts downstream, and recomputes the
// overall DAG status after every transition.
package dagexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/persistence/filedag"
	"github.com/overseer-dev/overseer/internal/persistence/filetask"
	"github.com/overseer-dev/overseer/internal/roles"
)

// TaskStarter launches a task in the background; terminal outcomes come
// back as task:completed / task:failed events.
type TaskStarter interface {
	Start(ctx context.Context, task *core.Task)
}

// nodeRef locates the DAG node a task was started for. The mapping table
// replaces any pointer cycle between tasks and nodes.
type nodeRef struct {
	DAGID  string
	NodeID string
}

// Executor owns DAG scheduling and the task-to-node mapping.
type Executor struct {
	store       *filedag.Store
	tasks       *filetask.Store
	runner      TaskStarter
	roles       *roles.Registry
	broadcaster *events.Broadcaster

	mu        sync.Mutex
	taskIndex map[string]nodeRef
}

// New creates an executor and subscribes it to task terminal events so
// completions route back into the owning DAG.
func New(store *filedag.Store, tasks *filetask.Store, runner TaskStarter, reg *roles.Registry, broadcaster *events.Broadcaster) *Executor {
	e := &Executor{
		store:       store,
		tasks:       tasks,
		runner:      runner,
		roles:       reg,
		broadcaster: broadcaster,
		taskIndex:   make(map[string]nodeRef),
	}
	broadcaster.SubscribeFunc("dag-executor", events.DefaultBuffer, e.onTaskEvent)
	return e
}

func (e *Executor) onTaskEvent(ev core.Event) {
	var status core.NodeStatus
	switch ev.Kind {
	case core.EventTaskCompleted:
		status = core.NodeCompleted
	case core.EventTaskFailed:
		status = core.NodeFailed
	default:
		return
	}
	taskID, _ := ev.Payload["taskId"].(string)
	reason, _ := ev.Payload["reason"].(string)
	e.routeTaskTerminal(context.Background(), taskID, status, reason)
}

// Create validates and persists a new DAG in the created state.
func (e *Executor) Create(ctx context.Context, d *core.DAG) error {
	if d.ID == "" {
		d.ID = core.NewID()
	}
	if d.Name == "" {
		return core.Validation("dag name is required")
	}
	for _, n := range d.Nodes {
		if n.Kind == "" {
			n.Kind = core.NodeKindTask
		}
		n.Status = core.NodePending
	}
	if err := validateGraph(d.Nodes, d.Edges); err != nil {
		return err
	}
	d.Status = core.DAGCreated
	d.CreatedAt = time.Now().UTC()
	if err := e.store.Create(ctx, d); err != nil {
		return err
	}
	logger.Info(ctx, "DAG created", tag.DAGID(d.ID), tag.Count(len(d.Nodes)))
	e.broadcaster.Broadcast(core.NewEvent(core.EventDAGCreated, map[string]any{
		"dagId": d.ID,
		"name":  d.Name,
	}))
	return nil
}

// Get returns one DAG.
func (e *Executor) Get(id string) (*core.DAG, error) {
	return e.store.Get(id)
}

// List returns all DAGs, newest first.
func (e *Executor) List() []*core.DAG {
	return e.store.List()
}

// Delete removes a non-running DAG and unlinks any task mappings that
// still point at it. Tasks themselves are not purged.
func (e *Executor) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	for taskID, ref := range e.taskIndex {
		if ref.DAGID == id {
			delete(e.taskIndex, taskID)
		}
	}
	e.mu.Unlock()
	return nil
}

// Execute moves a created or paused DAG into running and advances it.
func (e *Executor) Execute(ctx context.Context, id string) error {
	err := e.store.Mutate(ctx, id, func(d *core.DAG) error {
		if d.Status != core.DAGCreated && d.Status != core.DAGPaused {
			return core.Conflict("dag is not startable in state %s", d.Status)
		}
		d.Status = core.DAGRunning
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "DAG started", tag.DAGID(id))
	e.broadcaster.Broadcast(core.NewEvent(core.EventDAGStarted, map[string]any{"dagId": id}))
	e.Advance(ctx, id)
	return nil
}

// ApproveGate flips a waiting_approval gate node to completed and
// re-advances the DAG.
func (e *Executor) ApproveGate(ctx context.Context, dagID, nodeID string) error {
	err := e.store.Mutate(ctx, dagID, func(d *core.DAG) error {
		n := d.NodeByID(nodeID)
		if n == nil {
			return core.NotFound("dag node", nodeID)
		}
		if n.Status != core.NodeWaitingApproval {
			return core.Conflict("node %s is not waiting for approval", nodeID)
		}
		n.Status = core.NodeCompleted
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "Gate approved", tag.DAGID(dagID), tag.NodeID(nodeID))
	e.emitNodeTerminal(dagID, nodeID, core.NodeCompleted, "", nil)
	e.Advance(ctx, dagID)
	return nil
}

// InsertNode adds a node plus incident edges to a running DAG. The
// enlarged graph is re-validated before the insert commits.
func (e *Executor) InsertNode(ctx context.Context, dagID string, node *core.Node, edges []core.Edge) error {
	err := e.store.Mutate(ctx, dagID, func(d *core.DAG) error {
		if node.ID == "" {
			node.ID = core.NewID()
		}
		if d.NodeByID(node.ID) != nil {
			return core.Conflict("node already exists: %s", node.ID)
		}
		if node.Kind == "" {
			node.Kind = core.NodeKindTask
		}
		node.Status = core.NodePending
		candidateNodes := append(append([]*core.Node{}, d.Nodes...), node)
		candidateEdges := append(append([]core.Edge{}, d.Edges...), edges...)
		if err := validateGraph(candidateNodes, candidateEdges); err != nil {
			return err
		}
		d.Nodes = candidateNodes
		d.Edges = candidateEdges
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "DAG node inserted", tag.DAGID(dagID), tag.NodeID(node.ID))
	e.broadcaster.Broadcast(core.NewEvent(core.EventDAGNodeAdded, map[string]any{
		"dagId":  dagID,
		"nodeId": node.ID,
	}))
	e.Advance(ctx, dagID)
	return nil
}

// RecoverRunning recomputes the status of every DAG left running by a
// previous process and re-advances the survivors. Call after the store's
// RecoverInterrupted pass.
func (e *Executor) RecoverRunning(ctx context.Context) {
	for _, id := range e.store.Running() {
		e.Advance(ctx, id)
	}
}

// startSpec is a task node ready to dispatch, snapshotted under the
// store lock.
type startSpec struct {
	node     core.Node
	briefing string
	project  string
}

// Advance drives one DAG forward: starts ready task nodes, evaluates
// ready gates in place, and recomputes the overall status. Errors are
// contained per node; Advance itself never fails the caller.
func (e *Executor) Advance(ctx context.Context, dagID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked(ctx, dagID)
}

func (e *Executor) advanceLocked(ctx context.Context, dagID string) {
	var starts []startSpec
	var emit []core.Event
	var terminal core.DAGStatus

	err := e.store.Mutate(ctx, dagID, func(d *core.DAG) error {
		if d.Status != core.DAGRunning {
			return nil
		}
		// Gates completing can unblock further nodes in the same pass,
		// so iterate to a fixpoint.
		for {
			progressed := false
			for _, n := range d.Nodes {
				if n.Status != core.NodePending {
					continue
				}
				switch n.Kind {
				case core.NodeKindGate:
					if ev, ok := evaluateGate(d, n); ok {
						emit = append(emit, ev)
						progressed = true
					}
				case core.NodeKindFanOut, core.NodeKindFanIn:
					if allPredecessorsSatisfied(d, n.ID) {
						n.Status = core.NodeCompleted
						emit = append(emit, nodeTerminalEvent(d.ID, n.ID, core.NodeCompleted, "", nil))
						progressed = true
					}
				default:
					if allPredecessorsSatisfied(d, n.ID) {
						starts = append(starts, e.prepareStart(d, n))
						emit = append(emit, core.NewEvent(core.EventDAGNodeStarted, map[string]any{
							"dagId":  d.ID,
							"nodeId": n.ID,
							"taskId": n.TaskID,
						}))
					}
				}
			}
			if !progressed {
				break
			}
		}
		status := recomputeStatus(d)
		if status != d.Status {
			d.Status = status
			if status == core.DAGCompleted || status == core.DAGFailed {
				filedag.Touch(d)
				terminal = status
			}
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "DAG advance failed", tag.DAGID(dagID), tag.Error(err))
		return
	}

	for _, ev := range emit {
		e.broadcaster.Broadcast(ev)
	}
	for _, spec := range starts {
		e.dispatch(ctx, dagID, spec)
	}
	if terminal != "" {
		logger.Info(ctx, "DAG finished", tag.DAGID(dagID), tag.Status(string(terminal)))
		e.broadcaster.Broadcast(core.NewEvent(core.EventDAGCompleted, map[string]any{
			"dagId":  dagID,
			"status": string(terminal),
		}))
	}
}

// prepareStart marks the node running under the store lock and snapshots
// everything dispatch needs. The task ID is minted here so the running
// node is never without one.
func (e *Executor) prepareStart(d *core.DAG, n *core.Node) startSpec {
	n.Status = core.NodeRunning
	n.TaskID = core.NewID()
	return startSpec{
		node:     *n,
		briefing: briefingWithUpstream(n.Briefing, upstreamArtifacts(d, n.ID)),
		project:  d.Project,
	}
}

// dispatch creates the Task record for a started node, records the
// mapping, and hands the task to the runner fire-and-forget.
func (e *Executor) dispatch(ctx context.Context, dagID string, spec startSpec) {
	n := spec.node
	allow, deny := n.Allow, n.Deny
	deviceID := n.DeviceID
	if n.Role != "" {
		if role, ok := e.roles.Get(n.Role); ok {
			if len(allow) == 0 && len(deny) == 0 {
				allow, deny = role.Allow, role.Deny
			}
			if deviceID == "" {
				deviceID = role.DefaultDevice
			}
		}
	}
	agent := n.Agent
	if agent == "" {
		agent = core.AgentLocalClaude
	}
	task := &core.Task{
		ID:        n.TaskID,
		Owner:     core.DAGOwnerPrefix + dagID,
		Project:   spec.project,
		Title:     n.Title,
		Briefing:  spec.briefing,
		Role:      n.Role,
		Agent:     agent,
		DeviceID:  deviceID,
		Allow:     allow,
		Deny:      deny,
		Status:    core.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		logger.Error(ctx, "Failed to create task for node", tag.DAGID(dagID), tag.NodeID(n.ID), tag.Error(err))
		e.failNodeLocked(ctx, dagID, n.ID, fmt.Sprintf("failed to create task: %v", err))
		return
	}
	e.taskIndex[task.ID] = nodeRef{DAGID: dagID, NodeID: n.ID}
	logger.Info(ctx, "DAG node dispatched", tag.DAGID(dagID), tag.NodeID(n.ID), tag.TaskID(task.ID))
	e.runner.Start(ctx, task)
}

// failNodeLocked marks a node failed outside the normal routing path
// (task creation failures). Caller holds e.mu.
func (e *Executor) failNodeLocked(ctx context.Context, dagID, nodeID, reason string) {
	_ = e.store.Mutate(ctx, dagID, func(d *core.DAG) error {
		if n := d.NodeByID(nodeID); n != nil {
			n.Status = core.NodeFailed
			n.Reason = reason
		}
		return nil
	})
	e.emitNodeTerminal(dagID, nodeID, core.NodeFailed, reason, nil)
	e.advanceLocked(ctx, dagID)
}

// routeTaskTerminal mirrors a task's terminal status onto its DAG node,
// captures output and artifacts, and re-advances the DAG.
func (e *Executor) routeTaskTerminal(ctx context.Context, taskID string, status core.NodeStatus, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, ok := e.taskIndex[taskID]
	if !ok {
		return
	}
	delete(e.taskIndex, taskID)

	var output string
	if t, err := e.tasks.Get(taskID); err == nil {
		output = t.OutputText()
	}
	artifacts := extractArtifacts(output)

	err := e.store.Mutate(ctx, ref.DAGID, func(d *core.DAG) error {
		n := d.NodeByID(ref.NodeID)
		if n == nil {
			return core.NotFound("dag node", ref.NodeID)
		}
		if n.Status.IsTerminal() {
			return nil
		}
		n.Status = status
		n.Reason = reason
		n.Output = output
		n.Artifacts = artifacts
		return nil
	})
	if err != nil {
		logger.Error(ctx, "Failed to route task result", tag.TaskID(taskID), tag.Error(err))
		return
	}
	logger.Info(ctx, "Task result routed to node",
		tag.TaskID(taskID), tag.DAGID(ref.DAGID), tag.NodeID(ref.NodeID), tag.Status(string(status)))
	e.emitNodeTerminal(ref.DAGID, ref.NodeID, status, reason, artifacts)
	e.advanceLocked(ctx, ref.DAGID)
}

// evaluateGate resolves a pending gate whose predecessors are all
// terminal. Manual gates park in waiting_approval instead.
func evaluateGate(d *core.DAG, n *core.Node) (core.Event, bool) {
	preds := d.Predecessors(n.ID)
	for _, id := range preds {
		p := d.NodeByID(id)
		if p == nil || !p.Status.IsTerminal() {
			return core.Event{}, false
		}
	}

	completed := 0
	for _, id := range preds {
		if d.NodeByID(id).Status == core.NodeCompleted {
			completed++
		}
	}

	cond := n.Gate
	if cond == "" {
		cond = core.GateAllPass
	}
	switch cond {
	case core.GateManual:
		n.Status = core.NodeWaitingApproval
		return core.NewEvent(core.EventDAGNodeWaitingApproval, map[string]any{
			"dagId":  d.ID,
			"nodeId": n.ID,
		}), true
	case core.GateAnyPass:
		if completed > 0 {
			n.Status = core.NodeCompleted
		} else {
			n.Status = core.NodeFailed
			n.Reason = "gate condition 'any_pass' not met"
		}
	default:
		if completed == len(preds) {
			n.Status = core.NodeCompleted
		} else {
			n.Status = core.NodeFailed
			n.Reason = "gate condition 'all_pass' not met"
		}
	}
	return nodeTerminalEvent(d.ID, n.ID, n.Status, n.Reason, nil), true
}

func allPredecessorsSatisfied(d *core.DAG, nodeID string) bool {
	for _, id := range d.Predecessors(nodeID) {
		p := d.NodeByID(id)
		if p == nil || !p.Status.Satisfied() {
			return false
		}
	}
	return true
}

// recomputeStatus derives the DAG status from its node states: running
// while anything is in flight or could still start, completed when every
// node is satisfied, failed when failures leave no path forward.
func recomputeStatus(d *core.DAG) core.DAGStatus {
	allSatisfied := true
	progressPossible := false
	for _, n := range d.Nodes {
		switch n.Status {
		case core.NodeRunning, core.NodeWaitingApproval:
			return core.DAGRunning
		case core.NodePending:
			allSatisfied = false
			if !hasFailedAncestor(d, n.ID) {
				progressPossible = true
			}
		case core.NodeFailed:
			allSatisfied = false
		}
	}
	if allSatisfied {
		return core.DAGCompleted
	}
	if progressPossible {
		return core.DAGRunning
	}
	return core.DAGFailed
}

func nodeTerminalEvent(dagID, nodeID string, status core.NodeStatus, reason string, artifacts map[string]core.ArtifactValue) core.Event {
	kind := core.EventDAGNodeCompleted
	if status == core.NodeFailed {
		kind = core.EventDAGNodeFailed
	}
	payload := map[string]any{
		"dagId":  dagID,
		"nodeId": nodeID,
		"status": string(status),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if len(artifacts) > 0 {
		flat := make(map[string]any, len(artifacts))
		for k, v := range artifacts {
			flat[k] = v.ToJSON()
		}
		payload["artifacts"] = flat
	}
	return core.NewEvent(kind, payload)
}

func (e *Executor) emitNodeTerminal(dagID, nodeID string, status core.NodeStatus, reason string, artifacts map[string]core.ArtifactValue) {
	e.broadcaster.Broadcast(nodeTerminalEvent(dagID, nodeID, status, reason, artifacts))
}

package dagexec

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/persistence/filedag"
	"github.com/overseer-dev/overseer/internal/persistence/filesettings"
	"github.com/overseer-dev/overseer/internal/persistence/filetask"
	"github.com/overseer-dev/overseer/internal/roles"
)

// fakeRunner records started tasks; tests drive completion by
// broadcasting task terminal events the executor subscribes to.
type fakeRunner struct {
	mu      sync.Mutex
	started []*core.Task
}

func (f *fakeRunner) Start(_ context.Context, task *core.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, task)
}

func (f *fakeRunner) taskFor(nodeTitle string) *core.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.started {
		if t.Title == nodeTitle {
			return t
		}
	}
	return nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

type fixture struct {
	exec   *Executor
	store  *filedag.Store
	tasks  *filetask.Store
	runner *fakeRunner
	bus    *events.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	bus := events.NewBroadcaster()
	store := filedag.New(ctx, filepath.Join(dir, "dags.json"))
	tasks := filetask.New(ctx, filepath.Join(dir, "tasks.json"))
	runner := &fakeRunner{}
	return &fixture{
		exec:   New(store, tasks, runner, roles.NewRegistry(nil), bus),
		store:  store,
		tasks:  tasks,
		runner: runner,
		bus:    bus,
	}
}

// completeTask appends output and broadcasts the terminal event, then
// waits for the executor to route it.
func (f *fixture) completeTask(t *testing.T, taskID, output string) {
	t.Helper()
	ctx := context.Background()
	if output != "" {
		require.NoError(t, f.tasks.AppendOutput(ctx, taskID, core.OutputLine{Stream: "stdout", Text: output, Time: time.Now().UTC()}))
	}
	f.bus.Broadcast(core.NewEvent(core.EventTaskCompleted, map[string]any{"taskId": taskID}))
}

func (f *fixture) failTask(t *testing.T, taskID, reason string) {
	t.Helper()
	f.bus.Broadcast(core.NewEvent(core.EventTaskFailed, map[string]any{"taskId": taskID, "reason": reason}))
}

func (f *fixture) waitNodeStatus(t *testing.T, dagID, nodeID string, want core.NodeStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		d, err := f.store.Get(dagID)
		if err != nil {
			return false
		}
		n := d.NodeByID(nodeID)
		return n != nil && n.Status == want
	}, 3*time.Second, 10*time.Millisecond, "node %s never reached %s", nodeID, want)
}

func (f *fixture) waitDAGStatus(t *testing.T, dagID string, want core.DAGStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		d, err := f.store.Get(dagID)
		return err == nil && d.Status == want
	}, 3*time.Second, 10*time.Millisecond, "dag never reached %s", want)
}

func chainDAG() *core.DAG {
	return &core.DAG{
		Name:      "chain",
		CreatedBy: "manual",
		Nodes: []*core.Node{
			{ID: "A", Kind: core.NodeKindTask, Title: "node-a", Briefing: "do a"},
			{ID: "B", Kind: core.NodeKindTask, Title: "node-b", Briefing: "do b"},
			{ID: "C", Kind: core.NodeKindTask, Title: "node-c", Briefing: "do c"},
		},
		Edges: []core.Edge{{From: "A", To: "B"}, {From: "B", To: "C"}},
	}
}

func TestCreateRejectsCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := chainDAG()
	d.Edges = append(d.Edges, core.Edge{From: "C", To: "A"})
	err := f.exec.Create(context.Background(), d)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestCreateRejectsUnknownEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := chainDAG()
	d.Edges = append(d.Edges, core.Edge{From: "A", To: "ghost"})
	err := f.exec.Create(context.Background(), d)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestChainLinearization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := chainDAG()
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))

	// Only A starts; B and C wait on their predecessors.
	f.waitNodeStatus(t, d.ID, "A", core.NodeRunning)
	got, _ := f.store.Get(d.ID)
	assert.Equal(t, core.NodePending, got.NodeByID("B").Status)
	assert.Equal(t, core.NodePending, got.NodeByID("C").Status)
	assert.Equal(t, 1, f.runner.count())

	f.completeTask(t, f.runner.taskFor("node-a").ID, "a done")
	f.waitNodeStatus(t, d.ID, "B", core.NodeRunning)

	f.completeTask(t, f.runner.taskFor("node-b").ID, "b done")
	f.waitNodeStatus(t, d.ID, "C", core.NodeRunning)

	f.completeTask(t, f.runner.taskFor("node-c").ID, "c done")
	f.waitDAGStatus(t, d.ID, core.DAGCompleted)

	got, _ = f.store.Get(d.ID)
	require.NotNil(t, got.CompletedAt)
}

func TestGateAllPassFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := &core.DAG{
		Name:      "gated",
		CreatedBy: "manual",
		Nodes: []*core.Node{
			{ID: "P1", Kind: core.NodeKindTask, Title: "p1"},
			{ID: "P2", Kind: core.NodeKindTask, Title: "p2"},
			{ID: "G", Kind: core.NodeKindGate, Gate: core.GateAllPass},
			{ID: "D", Kind: core.NodeKindTask, Title: "down"},
		},
		Edges: []core.Edge{
			{From: "P1", To: "G"}, {From: "P2", To: "G"}, {From: "G", To: "D"},
		},
	}
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))

	f.waitNodeStatus(t, d.ID, "P1", core.NodeRunning)
	f.completeTask(t, f.runner.taskFor("p1").ID, "")
	f.failTask(t, f.runner.taskFor("p2").ID, "boom")

	f.waitNodeStatus(t, d.ID, "G", core.NodeFailed)
	got, _ := f.store.Get(d.ID)
	assert.Equal(t, "gate condition 'all_pass' not met", got.NodeByID("G").Reason)
	assert.Equal(t, core.NodePending, got.NodeByID("D").Status)
	f.waitDAGStatus(t, d.ID, core.DAGFailed)
}

func TestManualGateApproval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := &core.DAG{
		Name:      "manual",
		CreatedBy: "manual",
		Nodes: []*core.Node{
			{ID: "P", Kind: core.NodeKindTask, Title: "p"},
			{ID: "G", Kind: core.NodeKindGate, Gate: core.GateManual},
			{ID: "D", Kind: core.NodeKindTask, Title: "down"},
		},
		Edges: []core.Edge{{From: "P", To: "G"}, {From: "G", To: "D"}},
	}
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))

	f.waitNodeStatus(t, d.ID, "P", core.NodeRunning)
	f.completeTask(t, f.runner.taskFor("p").ID, "")
	f.waitNodeStatus(t, d.ID, "G", core.NodeWaitingApproval)

	// The DAG stays running while the gate waits.
	got, _ := f.store.Get(d.ID)
	assert.Equal(t, core.DAGRunning, got.Status)

	require.NoError(t, f.exec.ApproveGate(ctx, d.ID, "G"))
	f.waitNodeStatus(t, d.ID, "D", core.NodeRunning)
}

func TestArtifactPropagation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := &core.DAG{
		Name:      "artifacts",
		CreatedBy: "manual",
		Nodes: []*core.Node{
			{ID: "A", Kind: core.NodeKindTask, Title: "producer", Role: "implementer", Briefing: "produce"},
			{ID: "B", Kind: core.NodeKindTask, Title: "consumer", Briefing: "consume"},
		},
		Edges: []core.Edge{{From: "A", To: "B"}},
	}
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))
	f.waitNodeStatus(t, d.ID, "A", core.NodeRunning)

	f.completeTask(t, f.runner.taskFor("producer").ID, "all set\n```json\n{\"api\":\"v1\"}\n```\ndone")
	f.waitNodeStatus(t, d.ID, "B", core.NodeRunning)

	got, _ := f.store.Get(d.ID)
	a := got.NodeByID("A")
	require.Contains(t, a.Artifacts, "structured")
	assert.Equal(t, map[string]any{"api": "v1"}, a.Artifacts["structured"].ToJSON())
	require.Contains(t, a.Artifacts, "output_summary")

	consumer := f.runner.taskFor("consumer")
	require.NotNil(t, consumer)
	assert.Contains(t, consumer.Briefing, "## Upstream Artifacts")
	assert.Contains(t, consumer.Briefing, `"A"`)
	assert.Contains(t, consumer.Briefing, `"title": "producer"`)
	assert.Contains(t, consumer.Briefing, `"role": "implementer"`)
	assert.Contains(t, consumer.Briefing, `"api"`)
}

func TestDynamicInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := &core.DAG{
		Name:      "dynamic",
		CreatedBy: "manual",
		Nodes:     []*core.Node{{ID: "A", Kind: core.NodeKindTask, Title: "a"}},
	}
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))
	f.waitNodeStatus(t, d.ID, "A", core.NodeRunning)

	// Inserting a cycle-forming edge is rejected.
	err := f.exec.InsertNode(ctx, d.ID, &core.Node{ID: "A2", Kind: core.NodeKindTask},
		[]core.Edge{{From: "A", To: "A2"}, {From: "A2", To: "A"}})
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	require.NoError(t, f.exec.InsertNode(ctx, d.ID, &core.Node{ID: "B", Kind: core.NodeKindTask, Title: "b"},
		[]core.Edge{{From: "A", To: "B"}}))

	f.completeTask(t, f.runner.taskFor("a").ID, "")
	f.waitNodeStatus(t, d.ID, "B", core.NodeRunning)
}

func TestRoleScopeFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := &core.DAG{
		Name:      "scoped",
		CreatedBy: "manual",
		Nodes:     []*core.Node{{ID: "A", Kind: core.NodeKindTask, Title: "a", Role: "reviewer"}},
	}
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))
	f.waitNodeStatus(t, d.ID, "A", core.NodeRunning)

	task := f.runner.taskFor("a")
	require.NotNil(t, task)
	assert.Equal(t, []string{"docs/review/**"}, task.Allow)
	assert.Contains(t, task.Deny, "src/**")
}

func TestRoleDeviceFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	settings := filesettings.New(ctx, filepath.Join(dir, "settings.json"))
	require.NoError(t, settings.SetRole(ctx, "implementer", filesettings.RoleSettings{DefaultDevice: "mac-studio"}))
	runner := &fakeRunner{}
	exec := New(
		filedag.New(ctx, filepath.Join(dir, "dags.json")),
		filetask.New(ctx, filepath.Join(dir, "tasks.json")),
		runner,
		roles.NewRegistry(settings),
		events.NewBroadcaster(),
	)

	d := &core.DAG{
		Name:      "routed",
		CreatedBy: "manual",
		Nodes: []*core.Node{{
			ID: "A", Kind: core.NodeKindTask, Title: "a",
			Role: "implementer", Agent: core.AgentRemoteDevice,
		}},
	}
	require.NoError(t, exec.Create(ctx, d))
	require.NoError(t, exec.Execute(ctx, d.ID))

	require.Eventually(t, func() bool { return runner.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	task := runner.taskFor("a")
	require.NotNil(t, task)
	assert.Equal(t, "mac-studio", task.DeviceID)
}

func TestDeleteRunningForbidden(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := chainDAG()
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))

	err := f.exec.Delete(ctx, d.ID)
	assert.Equal(t, core.CodeConflict, core.CodeOf(err))
}

func TestZeroEdgeDAGStartsAllNodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	d := &core.DAG{
		Name:      "parallel",
		CreatedBy: "manual",
		Nodes: []*core.Node{
			{ID: "A", Kind: core.NodeKindTask, Title: "a"},
			{ID: "B", Kind: core.NodeKindTask, Title: "b"},
			{ID: "C", Kind: core.NodeKindTask, Title: "c"},
		},
	}
	require.NoError(t, f.exec.Create(ctx, d))
	require.NoError(t, f.exec.Execute(ctx, d.ID))

	require.Eventually(t, func() bool { return f.runner.count() == 3 },
		2*time.Second, 10*time.Millisecond)
}

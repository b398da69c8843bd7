package filedag

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
)

func seedDAG(t *testing.T, store *Store) *core.DAG {
	t.Helper()
	d := &core.DAG{
		ID:        core.NewID(),
		Name:      "seed",
		CreatedBy: "manual",
		Status:    core.DAGCreated,
		Nodes: []*core.Node{
			{ID: "A", Kind: core.NodeKindTask, Title: "a", Status: core.NodePending},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), d))
	return d
}

func TestGetReturnsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New(ctx, filepath.Join(t.TempDir(), "dags.json"))
	d := seedDAG(t, store)

	snap, err := store.Get(d.ID)
	require.NoError(t, err)

	require.NoError(t, store.Mutate(ctx, d.ID, func(m *core.DAG) error {
		m.Status = core.DAGRunning
		m.NodeByID("A").Status = core.NodeRunning
		return nil
	}))

	// The earlier snapshot is unaffected by the mutation.
	assert.Equal(t, core.DAGCreated, snap.Status)
	assert.Equal(t, core.NodePending, snap.NodeByID("A").Status)

	// Writing through a snapshot never reaches the stored record.
	snap.NodeByID("A").Status = core.NodeFailed
	cur, err := store.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NodeRunning, cur.NodeByID("A").Status)
}

func TestListReturnsSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New(ctx, filepath.Join(t.TempDir(), "dags.json"))
	d := seedDAG(t, store)

	listed := store.List()
	require.Len(t, listed, 1)
	listed[0].Name = "scribbled"

	cur, err := store.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "seed", cur.Name)
}

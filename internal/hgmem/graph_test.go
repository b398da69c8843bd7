package hgmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
)

func TestEnsureVertexCaseFoldedDedup(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	a := g.EnsureVertex("Alice")
	b := g.EnsureVertex("alice")
	c := g.EnsureVertex("  ALICE ")
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ID, c.ID)
	assert.Len(t, g.Data().Vertices, 1)
}

func TestAddHyperedgeOrderInvariant(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	a := g.EnsureVertex("Alice")

	_, err := g.AddHyperedge("solo", []string{a.ID}, 0)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	// Duplicated IDs collapse before the order check.
	_, err = g.AddHyperedge("dup", []string{a.ID, a.ID}, 0)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	b := g.EnsureVertex("Bob")
	h, err := g.AddHyperedge("pair", []string{a.ID, b.ID}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Order)
	assert.Equal(t, core.OriginInsertion, h.Origin)
	assert.Equal(t, 1, h.CreatedStep)
}

func TestAddHyperedgeUnknownVertex(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	a := g.EnsureVertex("Alice")
	_, err := g.AddHyperedge("bad", []string{a.ID, "ghost"}, 0)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestMergeUnionInvariant(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	v1 := g.EnsureVertex("Alice")
	v2 := g.EnsureVertex("Bob")
	v3 := g.EnsureVertex("Carol")
	h1, err := g.AddHyperedge("works with", []string{v1.ID, v2.ID}, 0)
	require.NoError(t, err)
	h2, err := g.AddHyperedge("reports to", []string{v2.ID, v3.ID}, 0)
	require.NoError(t, err)

	merged, err := g.Merge(h1.ID, h2.ID, "Alice-Bob-Carol reporting chain", 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{v1.ID, v2.ID, v3.ID}, merged.VertexIDs)
	assert.Equal(t, 3, merged.Order)
	assert.Equal(t, core.OriginMerge, merged.Origin)
	assert.ElementsMatch(t, []string{h1.ID, h2.ID}, merged.MergedFrom)

	_, ok := g.Hyperedge(h1.ID)
	assert.False(t, ok)
	_, ok = g.Hyperedge(h2.ID)
	assert.False(t, ok)
	assert.Len(t, g.Hyperedges(), 1)
}

func TestMergeSelfRejected(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	a := g.EnsureVertex("Alice")
	b := g.EnsureVertex("Bob")
	h, err := g.AddHyperedge("pair", []string{a.ID, b.ID}, 0)
	require.NoError(t, err)
	_, err = g.Merge(h.ID, h.ID, "self", 1)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestUpdateDescriptionKeepsVertexSet(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	a := g.EnsureVertex("Alice")
	b := g.EnsureVertex("Bob")
	h, err := g.AddHyperedge("old", []string{a.ID, b.ID}, 0)
	require.NoError(t, err)

	require.NoError(t, g.UpdateDescription(h.ID, "new", 3))
	got, _ := g.Hyperedge(h.ID)
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, 3, got.UpdatedStep)
	assert.Equal(t, 0, got.CreatedStep)
	assert.Len(t, got.VertexIDs, 2)

	err = g.UpdateDescription("ghost", "x", 0)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	a := g.EnsureVertex("Alice", "passage one")
	b := g.EnsureVertex("Bob")
	_, err := g.AddHyperedge("pair", []string{a.ID, b.ID}, 0)
	require.NoError(t, err)

	rebuilt := FromData(g.Data())
	assert.Equal(t, g.Data(), rebuilt.Data())

	v, ok := rebuilt.ResolveVertex("ALICE")
	require.True(t, ok)
	assert.Equal(t, []string{"passage one"}, v.Sources)
}

// Package hgmem implements hypergraph working memory: an iterative
// retrieval engine that grows a graph of entities and memory points over
// multiple LLM-guided steps, then synthesizes an answer from it.
package hgmem

import (
	"sort"
	"strings"

	"github.com/overseer-dev/overseer/internal/core"
)

// Graph is the mutable working memory of one session. Not safe for
// concurrent use; each session owns its graph exclusively.
type Graph struct {
	vertices   map[string]*core.Vertex
	byName     map[string]string // case-folded name -> vertex ID
	hyperedges map[string]*core.Hyperedge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		vertices:   make(map[string]*core.Vertex),
		byName:     make(map[string]string),
		hyperedges: make(map[string]*core.Hyperedge),
	}
}

// FromData rebuilds a graph from its persisted form.
func FromData(data core.GraphData) *Graph {
	g := NewGraph()
	for _, v := range data.Vertices {
		g.vertices[v.ID] = v
		g.byName[foldName(v.Name)] = v.ID
	}
	for _, h := range data.Hyperedges {
		g.hyperedges[h.ID] = h
	}
	return g
}

// Data renders the graph in its persisted form, deterministically
// ordered. The result shares nothing with the live graph.
func (g *Graph) Data() core.GraphData {
	data := core.GraphData{
		Vertices:   make([]*core.Vertex, 0, len(g.vertices)),
		Hyperedges: make([]*core.Hyperedge, 0, len(g.hyperedges)),
	}
	for _, v := range g.vertices {
		data.Vertices = append(data.Vertices, v)
	}
	for _, h := range g.hyperedges {
		data.Hyperedges = append(data.Hyperedges, h)
	}
	sort.Slice(data.Vertices, func(i, j int) bool { return data.Vertices[i].ID < data.Vertices[j].ID })
	sort.Slice(data.Hyperedges, func(i, j int) bool { return data.Hyperedges[i].ID < data.Hyperedges[j].ID })
	return data.Clone()
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ResolveVertex finds a vertex by case-folded name.
func (g *Graph) ResolveVertex(name string) (*core.Vertex, bool) {
	id, ok := g.byName[foldName(name)]
	if !ok {
		return nil, false
	}
	return g.vertices[id], true
}

// EnsureVertex resolves by case-folded name or creates a new vertex.
// Sources accumulate across calls.
func (g *Graph) EnsureVertex(name string, sources ...string) *core.Vertex {
	if v, ok := g.ResolveVertex(name); ok {
		v.Sources = append(v.Sources, sources...)
		return v
	}
	v := &core.Vertex{
		ID:      core.NewID(),
		Name:    strings.TrimSpace(name),
		Sources: sources,
	}
	g.vertices[v.ID] = v
	g.byName[foldName(name)] = v.ID
	return v
}

// VertexByID returns a vertex by its ID.
func (g *Graph) VertexByID(id string) (*core.Vertex, bool) {
	v, ok := g.vertices[id]
	return v, ok
}

// Hyperedge returns a hyperedge by its ID.
func (g *Graph) Hyperedge(id string) (*core.Hyperedge, bool) {
	h, ok := g.hyperedges[id]
	return h, ok
}

// Hyperedges returns all hyperedges ordered by ID.
func (g *Graph) Hyperedges() []*core.Hyperedge {
	out := make([]*core.Hyperedge, 0, len(g.hyperedges))
	for _, h := range g.hyperedges {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddHyperedge installs a new memory point over the given vertex IDs.
// Order must be at least 2 and every vertex must exist.
func (g *Graph) AddHyperedge(description string, vertexIDs []string, step int) (*core.Hyperedge, error) {
	unique := dedupe(vertexIDs)
	if len(unique) < 2 {
		return nil, core.Validation("hyperedge needs at least 2 distinct vertices")
	}
	for _, id := range unique {
		if _, ok := g.vertices[id]; !ok {
			return nil, core.Validation("hyperedge references unknown vertex: %s", id)
		}
	}
	h := &core.Hyperedge{
		ID:          core.NewID(),
		Description: description,
		VertexIDs:   unique,
		Order:       len(unique),
		Origin:      core.OriginInsertion,
		CreatedStep: step,
		UpdatedStep: step,
	}
	g.hyperedges[h.ID] = h
	return h, nil
}

// UpdateDescription rewrites a hyperedge's description, leaving its
// vertex set untouched.
func (g *Graph) UpdateDescription(id, description string, step int) error {
	h, ok := g.hyperedges[id]
	if !ok {
		return core.NotFound("hyperedge", id)
	}
	h.Description = description
	h.UpdatedStep = step
	return nil
}

// Merge removes two hyperedges and installs one whose vertex set is
// their union, with order recomputed and ancestry recorded.
func (g *Graph) Merge(id1, id2, description string, step int) (*core.Hyperedge, error) {
	if id1 == id2 {
		return nil, core.Validation("cannot merge a hyperedge with itself")
	}
	h1, ok := g.hyperedges[id1]
	if !ok {
		return nil, core.NotFound("hyperedge", id1)
	}
	h2, ok := g.hyperedges[id2]
	if !ok {
		return nil, core.NotFound("hyperedge", id2)
	}
	union := dedupe(append(append([]string{}, h1.VertexIDs...), h2.VertexIDs...))
	merged := &core.Hyperedge{
		ID:          core.NewID(),
		Description: description,
		VertexIDs:   union,
		Order:       len(union),
		Origin:      core.OriginMerge,
		CreatedStep: step,
		UpdatedStep: step,
		MergedFrom:  []string{id1, id2},
	}
	delete(g.hyperedges, id1)
	delete(g.hyperedges, id2)
	g.hyperedges[merged.ID] = merged
	return merged, nil
}

// VertexNames maps the hyperedge's vertex IDs to display names.
func (g *Graph) VertexNames(h *core.Hyperedge) []string {
	names := make([]string, 0, len(h.VertexIDs))
	for _, id := range h.VertexIDs {
		if v, ok := g.vertices[id]; ok {
			names = append(names, v.Name)
		}
	}
	return names
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

package core

import "time"

// Vertex is an identified entity in the hypergraph working memory.
// Names are unique under case-folded comparison.
type Vertex struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Sources     []string `json:"sources,omitempty"` // source passages
}

// HyperedgeOrigin records how a hyperedge came to exist.
type HyperedgeOrigin string

const (
	OriginInsertion HyperedgeOrigin = "insertion"
	OriginMerge     HyperedgeOrigin = "merge"
)

// Hyperedge (a "memory point") is a description connecting two or more
// vertices.
type Hyperedge struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	VertexIDs   []string        `json:"vertexIds"`
	Order       int             `json:"order"` // |vertex set|
	Origin      HyperedgeOrigin `json:"origin"`
	CreatedStep int             `json:"createdStep"`
	UpdatedStep int             `json:"updatedStep"`
	MergedFrom  []string        `json:"mergedFrom,omitempty"`
}

// SessionStatus is the lifecycle state of a retrieval session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Subquery is one retrieval probe issued during a step.
type Subquery struct {
	Query       string `json:"query"`
	Strategy    string `json:"strategy"` // local or global
	HyperedgeID string `json:"hyperedgeId,omitempty"`
}

// Session is one end-to-end hypergraph retrieval run over a target query.
type Session struct {
	ID         string        `json:"id"`
	Query      string        `json:"query"`
	Project    string        `json:"project,omitempty"`
	Step       int           `json:"step"`
	MaxSteps   int           `json:"maxSteps"`
	Status     SessionStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Subqueries [][]Subquery  `json:"subqueries,omitempty"` // per step
	Response   string        `json:"response,omitempty"`
	TokensIn   int           `json:"tokensIn"`
	TokensOut  int           `json:"tokensOut"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Clone returns a copy safe to read outside the engine lock.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Subqueries = make([][]Subquery, len(s.Subqueries))
	for i, sq := range s.Subqueries {
		cp.Subqueries[i] = append([]Subquery(nil), sq...)
	}
	return &cp
}

// GraphData is the persisted form of a session's hypergraph.
type GraphData struct {
	Vertices   []*Vertex    `json:"vertices"`
	Hyperedges []*Hyperedge `json:"hyperedges"`
}

// Clone returns a deep copy sharing nothing with the original.
func (d GraphData) Clone() GraphData {
	cp := GraphData{
		Vertices:   make([]*Vertex, len(d.Vertices)),
		Hyperedges: make([]*Hyperedge, len(d.Hyperedges)),
	}
	for i, v := range d.Vertices {
		vc := *v
		vc.Sources = append([]string(nil), v.Sources...)
		cp.Vertices[i] = &vc
	}
	for i, h := range d.Hyperedges {
		hc := *h
		hc.VertexIDs = append([]string(nil), h.VertexIDs...)
		hc.MergedFrom = append([]string(nil), h.MergedFrom...)
		cp.Hyperedges[i] = &hc
	}
	return cp
}

package hgmem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/knowledge"
	"github.com/overseer-dev/overseer/internal/llm"
	"github.com/overseer-dev/overseer/internal/persistence/filesession"
)

const (
	// DefaultMaxSteps bounds a session when the caller passes zero.
	DefaultMaxSteps = 6

	retrieveLimit       = 5
	retrieveThreshold   = 0.4
	maxTranscriptChunks = 20
	stepTemperature     = 0.2
)

// Engine drives hypergraph retrieval sessions.
type Engine struct {
	store       *filesession.Store
	adapter     knowledge.Adapter
	client      llm.Client
	model       string
	broadcaster *events.Broadcaster

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is the in-memory state of one session. Sessions share no
// mutable state with each other; each is serialized by its own lock.
type liveSession struct {
	mu      sync.Mutex
	session *core.Session
	graph   *Graph
}

// New creates an engine over the given store and providers.
func New(store *filesession.Store, adapter knowledge.Adapter, client llm.Client, model string, broadcaster *events.Broadcaster) *Engine {
	return &Engine{
		store:       store,
		adapter:     adapter,
		client:      client,
		model:       model,
		broadcaster: broadcaster,
		live:        make(map[string]*liveSession),
	}
}

// CreateSession starts a new retrieval session over the target query.
func (e *Engine) CreateSession(ctx context.Context, query, project string, maxSteps int) (*core.Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.Validation("query is required")
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	now := time.Now().UTC()
	s := &core.Session{
		ID:        core.NewID(),
		Query:     query,
		Project:   project,
		MaxSteps:  maxSteps,
		Status:    core.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ls := &liveSession{session: s, graph: NewGraph()}
	e.mu.Lock()
	e.live[s.ID] = ls
	e.mu.Unlock()
	if err := e.persist(ctx, ls); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Retrieval session created", tag.SessionID(s.ID))
	e.broadcaster.Broadcast(core.NewEvent(core.EventSessionCreated, map[string]any{
		"sessionId": s.ID,
		"query":     query,
	}))
	return s.Clone(), nil
}

// Get returns a snapshot of the session record.
func (e *Engine) Get(id string) (*core.Session, error) {
	ls, err := e.load(id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.session.Clone(), nil
}

// List returns session snapshots, newest first.
func (e *Engine) List() []*core.Session {
	records := e.store.List()
	out := make([]*core.Session, 0, len(records))
	for _, r := range records {
		out = append(out, r.Session.Clone())
	}
	return out
}

// Memory returns the session's hypergraph in persisted form.
func (e *Engine) Memory(id string) (core.GraphData, error) {
	ls, err := e.load(id)
	if err != nil {
		return core.GraphData{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.graph.Data(), nil
}

// Stats summarizes a session's progress.
type Stats struct {
	Step       int                `json:"step"`
	MaxSteps   int                `json:"maxSteps"`
	Status     core.SessionStatus `json:"status"`
	Vertices   int                `json:"vertices"`
	Hyperedges int                `json:"hyperedges"`
	TokensIn   int                `json:"tokensIn"`
	TokensOut  int                `json:"tokensOut"`
}

// SessionStats returns progress counters for the session.
func (e *Engine) SessionStats(id string) (*Stats, error) {
	ls, err := e.load(id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	data := ls.graph.Data()
	return &Stats{
		Step:       ls.session.Step,
		MaxSteps:   ls.session.MaxSteps,
		Status:     ls.session.Status,
		Vertices:   len(data.Vertices),
		Hyperedges: len(data.Hyperedges),
		TokensIn:   ls.session.TokensIn,
		TokensOut:  ls.session.TokensOut,
	}, nil
}

// Step advances the session by one retrieval iteration. It returns true
// when the session has reached a terminal state.
func (e *Engine) Step(ctx context.Context, id string) (bool, error) {
	ls, err := e.load(id)
	if err != nil {
		return false, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	s := ls.session
	if s.Status != core.SessionActive {
		return true, nil
	}

	if s.Step > 0 && e.memorySufficient(ctx, ls) {
		return true, e.synthesize(ctx, ls)
	}
	if s.Step >= s.MaxSteps {
		logger.Info(ctx, "Session hit max steps, synthesizing", tag.SessionID(s.ID), tag.Step(s.Step))
		return true, e.synthesize(ctx, ls)
	}

	e.broadcaster.Broadcast(core.NewEvent(core.EventStepStart, map[string]any{
		"sessionId": s.ID,
		"step":      s.Step,
	}))

	subqueries := e.subqueries(ctx, ls)
	s.Subqueries = append(s.Subqueries, subqueries)

	evidence := e.retrieve(ctx, subqueries)
	e.evolve(ctx, ls, evidence)
	e.mergeMemory(ctx, ls)

	s.Step++
	s.UpdatedAt = time.Now().UTC()
	if err := e.persist(ctx, ls); err != nil {
		return false, err
	}
	e.broadcaster.Broadcast(core.NewEvent(core.EventStepEnd, map[string]any{
		"sessionId": s.ID,
		"step":      s.Step - 1,
	}))
	return false, nil
}

// Run steps the session until it terminates and returns the final
// session record with its synthesized response.
func (e *Engine) Run(ctx context.Context, id string) (*core.Session, error) {
	for {
		done, err := e.Step(ctx, id)
		if err != nil {
			return nil, err
		}
		if done {
			return e.Get(id)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) load(id string) (*liveSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ls, ok := e.live[id]; ok {
		return ls, nil
	}
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	// Clone so stepping the live session never mutates the stored record.
	ls := &liveSession{session: rec.Session.Clone(), graph: FromData(rec.GraphData.Clone())}
	e.live[id] = ls
	return ls, nil
}

func (e *Engine) persist(ctx context.Context, ls *liveSession) error {
	return e.store.Put(ctx, &filesession.Record{
		Session:   ls.session.Clone(),
		GraphData: ls.graph.Data(),
	})
}

// completeJSON issues one constrained-JSON LLM call and decodes the
// result, repairing truncated output before giving up.
func (e *Engine) completeJSON(ctx context.Context, s *core.Session, system, user string, out any) error {
	resp, err := e.client.Complete(ctx, llm.Request{
		Model:       e.model,
		System:      system,
		Messages:    []llm.Message{{Role: "user", Content: user}},
		Temperature: stepTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return err
	}
	s.TokensIn += resp.TokensIn
	s.TokensOut += resp.TokensOut
	doc := llm.ExtractJSON(resp.Content)
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		if resp.Truncated() {
			if repaired, rErr := jsonrepair.JSONRepair(doc); rErr == nil {
				if json.Unmarshal([]byte(repaired), out) == nil {
					return nil
				}
			}
		}
		return err
	}
	return nil
}

func (e *Engine) memorySufficient(ctx context.Context, ls *liveSession) bool {
	var verdict struct {
		Sufficient bool `json:"sufficient"`
	}
	err := e.completeJSON(ctx, ls.session,
		`Judge whether the accumulated memory answers the target question. Respond with JSON: {"sufficient": true|false}.`,
		fmt.Sprintf("Question: %s\n\nMemory:\n%s", ls.session.Query, renderTranscript(ls.graph)),
		&verdict)
	if err != nil {
		logger.Warn(ctx, "Sufficiency check failed, continuing", tag.SessionID(ls.session.ID), tag.Error(err))
		return false
	}
	return verdict.Sufficient
}

// subqueries produces this step's retrieval probes. Step 0 always probes
// the target query globally; later steps run the two-stage
// concerns-then-subqueries pass, degrading to the global probe when the
// model output cannot be parsed.
func (e *Engine) subqueries(ctx context.Context, ls *liveSession) []core.Subquery {
	s := ls.session
	fallback := []core.Subquery{{Query: s.Query, Strategy: "global"}}
	if s.Step == 0 {
		return fallback
	}

	transcript := renderTranscript(ls.graph)
	var concerns []struct {
		Type              string `json:"type"`
		Concern           string `json:"concern"`
		TargetHyperedgeID string `json:"target_hyperedge_id,omitempty"`
	}
	err := e.completeJSON(ctx, s,
		`Identify gaps in the memory relative to the question. Respond with a JSON array of {"type": "local"|"global", "concern": "...", "target_hyperedge_id": "..."} objects. "local" concerns refine one memory point; "global" concerns open new ground.`,
		fmt.Sprintf("Question: %s\n\nMemory:\n%s", s.Query, transcript),
		&concerns)
	if err != nil || len(concerns) == 0 {
		logger.Warn(ctx, "Concern generation failed, using global probe", tag.SessionID(s.ID), tag.Error(err))
		return fallback
	}

	concernsJSON, _ := json.Marshal(concerns)
	var subs []core.Subquery
	err = e.completeJSON(ctx, s,
		`Turn each concern into a retrieval query. Respond with a JSON array of {"query": "...", "strategy": "local"|"global", "hyperedgeId": "..."} objects.`,
		fmt.Sprintf("Question: %s\n\nConcerns:\n%s", s.Query, concernsJSON),
		&subs)
	if err != nil || len(subs) == 0 {
		logger.Warn(ctx, "Subquery generation failed, using global probe", tag.SessionID(s.ID), tag.Error(err))
		return fallback
	}
	return subs
}

// evidenceItem is one retrieved snippet tagged with the probe that
// produced it.
type evidenceItem struct {
	Query   string
	Snippet knowledge.Snippet
}

// retrieve fans the subqueries out to the knowledge adapter in parallel.
// Evidence is ordered by subquery so the evolution prompt is stable.
func (e *Engine) retrieve(ctx context.Context, subqueries []core.Subquery) []evidenceItem {
	results := make([][]knowledge.Snippet, len(subqueries))
	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subqueries {
		i, sub := i, sub
		g.Go(func() error {
			results[i] = e.adapter.Search(ctx, sub.Query, knowledge.Options{
				Limit:     retrieveLimit,
				Threshold: retrieveThreshold,
			})
			return nil
		})
	}
	_ = g.Wait()

	var evidence []evidenceItem
	for i, sub := range subqueries {
		for _, sn := range results[i] {
			evidence = append(evidence, evidenceItem{Query: sub.Query, Snippet: sn})
		}
	}
	return evidence
}

// evolve asks the LLM to grow the memory from this step's evidence and
// applies the result. Parse failures are a no-op for the step.
func (e *Engine) evolve(ctx context.Context, ls *liveSession, evidence []evidenceItem) {
	if len(evidence) == 0 {
		return
	}
	s := ls.session

	var body strings.Builder
	for _, item := range evidence {
		fmt.Fprintf(&body, "[query: %s] %s\n%s\n\n", item.Query, item.Snippet.Title, item.Snippet.Content)
	}

	var evolution struct {
		Updates []struct {
			HyperedgeID    string `json:"hyperedge_id"`
			NewDescription string `json:"new_description"`
		} `json:"updates"`
		Insertions []struct {
			Description string   `json:"description"`
			EntityNames []string `json:"entity_names"`
		} `json:"insertions"`
	}
	err := e.completeJSON(ctx, s,
		`Evolve the working memory from the evidence. Respond with JSON: {"updates": [{"hyperedge_id": "...", "new_description": "..."}], "insertions": [{"description": "...", "entity_names": ["...", "..."]}]}. Each insertion must name at least two entities.`,
		fmt.Sprintf("Question: %s\n\nCurrent memory:\n%s\n\nEvidence:\n%s", s.Query, renderTranscript(ls.graph), body.String()),
		&evolution)
	if err != nil {
		logger.Warn(ctx, "Memory evolution unparseable, skipping step", tag.SessionID(s.ID), tag.Error(err))
		return
	}

	for _, u := range evolution.Updates {
		if err := ls.graph.UpdateDescription(u.HyperedgeID, u.NewDescription, s.Step); err != nil {
			logger.Warn(ctx, "Skipping update of unknown hyperedge", tag.SessionID(s.ID), tag.Error(err))
		}
	}
	for _, ins := range evolution.Insertions {
		var ids []string
		for _, name := range ins.EntityNames {
			if strings.TrimSpace(name) == "" {
				continue
			}
			v := ls.graph.EnsureVertex(name, sourcesFor(name, evidence)...)
			ids = append(ids, v.ID)
		}
		if _, err := ls.graph.AddHyperedge(ins.Description, ids, s.Step); err != nil {
			logger.Warn(ctx, "Skipping invalid insertion", tag.SessionID(s.ID), tag.Error(err))
		}
	}
}

// sourcesFor attaches a little provenance to a newly created vertex:
// evidence chunks that mention the entity by name.
func sourcesFor(name string, evidence []evidenceItem) []string {
	var sources []string
	folded := foldName(name)
	for _, item := range evidence {
		if strings.Contains(strings.ToLower(item.Snippet.Content), folded) {
			sources = append(sources, item.Snippet.Content)
			if len(sources) == 2 {
				break
			}
		}
	}
	return sources
}

// mergeMemory asks the LLM for pairwise merges and applies them. With
// fewer than two hyperedges this is a no-op.
func (e *Engine) mergeMemory(ctx context.Context, ls *liveSession) {
	if len(ls.graph.Hyperedges()) < 2 {
		return
	}
	s := ls.session

	var result struct {
		Merges []struct {
			HyperedgeID1      string `json:"hyperedge_id_1"`
			HyperedgeID2      string `json:"hyperedge_id_2"`
			MergedDescription string `json:"merged_description"`
		} `json:"merges"`
	}
	err := e.completeJSON(ctx, s,
		`Find pairs of memory points describing the same relationship and merge them. Respond with JSON: {"merges": [{"hyperedge_id_1": "...", "hyperedge_id_2": "...", "merged_description": "..."}]}. Return {"merges": []} when nothing should merge.`,
		fmt.Sprintf("Memory:\n%s", renderTranscript(ls.graph)),
		&result)
	if err != nil {
		logger.Warn(ctx, "Merge pass unparseable, skipping", tag.SessionID(s.ID), tag.Error(err))
		return
	}
	for _, m := range result.Merges {
		if _, err := ls.graph.Merge(m.HyperedgeID1, m.HyperedgeID2, m.MergedDescription, s.Step); err != nil {
			logger.Warn(ctx, "Skipping invalid merge", tag.SessionID(s.ID), tag.Error(err))
		}
	}
}

// synthesize renders the memory and issues the final answer call,
// completing the session.
func (e *Engine) synthesize(ctx context.Context, ls *liveSession) error {
	s := ls.session
	transcript := renderTranscript(ls.graph)
	chunks := collectChunks(ls.graph, maxTranscriptChunks)

	resp, err := e.client.Complete(ctx, llm.Request{
		Model:  e.model,
		System: "Answer the question from the working memory and source passages. Be direct and cite entities by name.",
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Question: %s\n\nMemory:\n%s\n\nSource passages:\n%s", s.Query, transcript, strings.Join(chunks, "\n---\n")),
		}},
	})
	now := time.Now().UTC()
	s.UpdatedAt = now
	if err != nil {
		s.Status = core.SessionFailed
		s.Reason = fmt.Sprintf("synthesis failed: %v", err)
		logger.Error(ctx, "Session synthesis failed", tag.SessionID(s.ID), tag.Error(err))
	} else {
		s.TokensIn += resp.TokensIn
		s.TokensOut += resp.TokensOut
		s.Response = resp.Content
		s.Status = core.SessionCompleted
		logger.Info(ctx, "Session completed", tag.SessionID(s.ID), tag.Step(s.Step))
	}
	if perr := e.persist(ctx, ls); perr != nil && err == nil {
		return perr
	}
	e.broadcaster.Broadcast(core.NewEvent(core.EventSessionCompleted, map[string]any{
		"sessionId": s.ID,
		"status":    string(s.Status),
	}))
	return err
}

// renderTranscript renders the memory as prose, one block per
// hyperedge.
func renderTranscript(g *Graph) string {
	edges := g.Hyperedges()
	if len(edges) == 0 {
		return "(memory is empty)"
	}
	var b strings.Builder
	for _, h := range edges {
		fmt.Fprintf(&b, "[%s] entities: %s\n", h.ID, strings.Join(g.VertexNames(h), ", "))
		fmt.Fprintf(&b, "  %s (order %d, created step %d", h.Description, h.Order, h.CreatedStep)
		if h.Origin == core.OriginMerge {
			fmt.Fprintf(&b, ", merged from %s", strings.Join(h.MergedFrom, "+"))
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// collectChunks gathers up to max source passages across vertices.
func collectChunks(g *Graph, max int) []string {
	var chunks []string
	seen := make(map[string]bool)
	for _, v := range g.Data().Vertices {
		for _, src := range v.Sources {
			if seen[src] {
				continue
			}
			seen[src] = true
			chunks = append(chunks, src)
			if len(chunks) >= max {
				return chunks
			}
		}
	}
	return chunks
}

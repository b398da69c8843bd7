// Package planner expands a high-level project brief into a DAG of agent
// tasks by prompting an external LLM with a strict JSON schema, then
// validating and repairing the output.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/llm"
	"github.com/overseer-dev/overseer/internal/roles"
)

const planTemperature = 0.3

// Input is a planning request.
type Input struct {
	Project string `json:"project"`
	Brief   string `json:"brief"`
	Context string `json:"context,omitempty"`
}

// NodeSpec is one planned node.
type NodeSpec struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Title    string   `json:"title"`
	Briefing string   `json:"briefing"`
	Role     string   `json:"role,omitempty"`
	Allow    []string `json:"allow,omitempty"`
	Deny     []string `json:"deny,omitempty"`
	Gate     string   `json:"gate,omitempty"`
}

// Output is the validated planner result.
type Output struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Approval    string      `json:"approval,omitempty"`
	Nodes       []NodeSpec  `json:"nodes"`
	Edges       []core.Edge `json:"edges"`
}

// ToDAG converts the plan into an executable DAG for the given project.
func (o *Output) ToDAG(project string) *core.DAG {
	d := &core.DAG{
		Name:      o.Name,
		Project:   project,
		CreatedBy: "planner",
		Approval:  core.ApprovalMode(o.Approval),
		Edges:     o.Edges,
	}
	for _, spec := range o.Nodes {
		d.Nodes = append(d.Nodes, &core.Node{
			ID:       spec.ID,
			Kind:     core.NodeKind(spec.Kind),
			Title:    spec.Title,
			Briefing: spec.Briefing,
			Role:     spec.Role,
			Allow:    spec.Allow,
			Deny:     spec.Deny,
			Gate:     core.GateCondition(spec.Gate),
		})
	}
	return d
}

// Planner turns briefs into plans.
type Planner struct {
	client llm.Client
	roles  *roles.Registry
	model  string
}

// New creates a planner bound to one model.
func New(client llm.Client, reg *roles.Registry, model string) *Planner {
	return &Planner{client: client, roles: reg, model: model}
}

// PlanBrief asks the LLM for a plan and validates it. Truncated output
// is run through JSON repair before validation; validation failures
// surface to the caller, never a canned fallback.
func (p *Planner) PlanBrief(ctx context.Context, in Input) (*Output, error) {
	if strings.TrimSpace(in.Brief) == "" {
		return nil, core.Validation("brief is required")
	}

	user := fmt.Sprintf("Project: %s\n\nBrief:\n%s", in.Project, in.Brief)
	if in.Context != "" {
		user += "\n\nAdditional context:\n" + in.Context
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		Model:       p.model,
		System:      p.systemPrompt(),
		Messages:    []llm.Message{{Role: "user", Content: user}},
		Temperature: planTemperature,
	})
	if err != nil {
		return nil, core.WrapError(core.CodeExternal, err, "planner call failed")
	}

	doc := llm.ExtractJSON(resp.Content)
	var out Output
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		if !resp.Truncated() {
			return nil, core.WrapError(core.CodeExternal, err, "planner returned unparseable JSON")
		}
		logger.Warn(ctx, "Planner output truncated, attempting repair", tag.Model(p.model))
		repaired, repairErr := jsonrepair.JSONRepair(doc)
		if repairErr != nil {
			return nil, core.WrapError(core.CodeExternal, repairErr, "planner JSON repair failed")
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return nil, core.WrapError(core.CodeExternal, err, "planner JSON unparseable after repair")
		}
	}

	if err := p.validate(ctx, &out); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Plan generated", tag.Count(len(out.Nodes)), tag.Model(p.model))
	return &out, nil
}

// validate enforces structural rules. Acyclicity is deliberately not
// checked here; the DAG executor re-validates on create.
func (p *Planner) validate(ctx context.Context, out *Output) error {
	if out.Name == "" {
		out.Name = "untitled plan"
	}
	if len(out.Nodes) == 0 {
		return core.Validation("plan has no nodes")
	}
	seen := make(map[string]bool, len(out.Nodes))
	for i := range out.Nodes {
		n := &out.Nodes[i]
		if n.ID == "" {
			return core.Validation("plan node %d has an empty id", i)
		}
		if seen[n.ID] {
			return core.Validation("duplicate plan node id: %s", n.ID)
		}
		seen[n.ID] = true
		if n.Kind == "" {
			n.Kind = string(core.NodeKindTask)
		}
		if n.Kind == string(core.NodeKindTask) && n.Role != "" {
			if _, ok := p.roles.Get(n.Role); !ok {
				logger.Warn(ctx, "Plan references unknown role, coercing",
					tag.Role(n.Role), tag.NodeID(n.ID))
				n.Role = roles.DefaultRole
			}
		}
	}
	for _, e := range out.Edges {
		if !seen[e.From] {
			return core.Validation("plan edge references unknown node: %s", e.From)
		}
		if !seen[e.To] {
			return core.Validation("plan edge references unknown node: %s", e.To)
		}
	}
	return nil
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are a planning assistant for a software agent orchestrator. Decompose the user's brief into a DAG of agent tasks.

Available roles:
`)
	for _, r := range p.roles.List() {
		fmt.Fprintf(&b, "- %s: %s (capabilities: %s)\n", r.ID, r.Description, strings.Join(r.Capabilities, ", "))
	}
	b.WriteString(`
Respond with ONLY a JSON object, no prose, matching this schema:
{
  "name": "short plan name",
  "description": "one-line summary",
  "approval": "per_task" | "end_only" | "gate_configured",
  "nodes": [
    {
      "id": "unique-id",
      "kind": "task" | "gate",
      "title": "short title",
      "briefing": "detailed instructions for the agent",
      "role": "one of the role ids above",
      "allow": ["optional glob"],
      "deny": ["optional glob"],
      "gate": "all_pass" | "any_pass" | "manual"
    }
  ],
  "edges": [{"from": "node-id", "to": "node-id"}]
}

Rules: every edge endpoint must name a node; the graph must be acyclic; gate nodes carry a gate condition and no briefing; keep plans small and focused.`)
	return b.String()
}

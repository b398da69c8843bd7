package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/knowledge"
	"github.com/overseer-dev/overseer/internal/roles"
)

const knowledgeSnippets = 5

// buildPrompt assembles the agent prompt for a task: role system section,
// retrieved project knowledge, the briefing body, and the file-scope
// contract the agent must honor.
func buildPrompt(ctx context.Context, task *core.Task, registry *roles.Registry, adapter knowledge.Adapter) string {
	var b strings.Builder

	if task.Role != "" {
		if role, ok := registry.Get(task.Role); ok && role.SystemPrompt != "" {
			b.WriteString("## Role\n\n")
			b.WriteString(role.SystemPrompt)
			b.WriteString("\n\n")
		}
	}

	if adapter != nil {
		snippets := adapter.Search(ctx, task.Briefing, knowledge.Options{Limit: knowledgeSnippets})
		if len(snippets) > 0 {
			b.WriteString("## Project Knowledge\n\n")
			for _, sn := range snippets {
				fmt.Fprintf(&b, "### %s\n%s\n\n", sn.Title, sn.Content)
			}
		}
	}

	b.WriteString("## Task\n\n")
	b.WriteString(task.Briefing)
	b.WriteString("\n")

	if len(task.Allow) > 0 || len(task.Deny) > 0 {
		b.WriteString("\n## File Scope\n\n")
		if len(task.Allow) > 0 {
			b.WriteString("You may only modify files matching:\n")
			for _, g := range task.Allow {
				fmt.Fprintf(&b, "- %s\n", g)
			}
		}
		if len(task.Deny) > 0 {
			b.WriteString("You must never touch files matching:\n")
			for _, g := range task.Deny {
				fmt.Fprintf(&b, "- %s\n", g)
			}
		}
	}

	return b.String()
}

// Package roles holds the registry of agent personas. A role bundles a
// system prompt, default file scopes and a default model hint; tasks and
// DAG nodes reference roles by ID.
package roles

import (
	"sort"

	"github.com/overseer-dev/overseer/internal/persistence/filesettings"
)

// DefaultRole is assigned when a planner references an unknown role.
const DefaultRole = "implementer"

// Role is a named persona.
type Role struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
	SystemPrompt string   `json:"-"`
	DefaultModel string   `json:"defaultModel,omitempty"`
	// DefaultDevice routes remote-device tasks for this role when the
	// task or node does not name a device itself.
	DefaultDevice string   `json:"defaultDevice,omitempty"`
	Allow         []string `json:"allow,omitempty"`
	Deny          []string `json:"deny,omitempty"`
}

// Registry resolves role IDs to personas, applying settings overrides.
type Registry struct {
	roles    map[string]Role
	settings *filesettings.Store
}

// NewRegistry seeds the built-in roles and layers settings on top.
func NewRegistry(settings *filesettings.Store) *Registry {
	r := &Registry{roles: make(map[string]Role), settings: settings}
	for _, role := range builtinRoles {
		r.roles[role.ID] = role
	}
	return r
}

// Get resolves a role ID. The second return is false for unknown roles.
func (r *Registry) Get(id string) (Role, bool) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, false
	}
	if r.settings != nil {
		if override, ok := r.settings.Get().Roles[id]; ok {
			if override.DisplayName != "" {
				role.DisplayName = override.DisplayName
			}
			if override.DefaultModel != "" {
				role.DefaultModel = override.DefaultModel
			}
			if override.DefaultDevice != "" {
				role.DefaultDevice = override.DefaultDevice
			}
		}
	}
	return role, true
}

// List returns all roles sorted by ID.
func (r *Registry) List() []Role {
	out := make([]Role, 0, len(r.roles))
	for id := range r.roles {
		role, _ := r.Get(id)
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var builtinRoles = []Role{
	{
		ID:           "implementer",
		DisplayName:  "Implementer",
		Description:  "Writes application code to satisfy a briefing",
		Capabilities: []string{"code", "test"},
		SystemPrompt: "You are a senior software engineer. Implement exactly what the briefing asks for, respect the file scope, and keep changes minimal.",
		Allow:        []string{"src/**", "internal/**", "lib/**", "pkg/**"},
		Deny:         []string{"**/.env", "**/secrets/**"},
	},
	{
		ID:           "reviewer",
		DisplayName:  "Reviewer",
		Description:  "Reviews diffs for correctness and style",
		Capabilities: []string{"review"},
		SystemPrompt: "You are a meticulous code reviewer. Inspect the upstream artifacts and report defects; do not modify files outside the review notes.",
		Allow:        []string{"docs/review/**"},
		Deny:         []string{"src/**", "internal/**"},
	},
	{
		ID:           "tester",
		DisplayName:  "Tester",
		Description:  "Writes and runs tests for the changes under review",
		Capabilities: []string{"test"},
		SystemPrompt: "You are a test engineer. Add coverage for the behavior described in the briefing and report failures truthfully.",
		Allow:        []string{"**/*_test.go", "tests/**", "spec/**"},
		Deny:         []string{"**/.env", "**/secrets/**"},
	},
	{
		ID:           "researcher",
		DisplayName:  "Researcher",
		Description:  "Gathers evidence from the project knowledge base",
		Capabilities: []string{"search"},
		SystemPrompt: "You are a research assistant. Collect and synthesize relevant context; produce notes, never code.",
		Allow:        []string{"docs/**"},
		Deny:         []string{"src/**"},
	},
}

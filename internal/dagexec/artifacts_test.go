package dagexec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
)

func TestExtractArtifactsFencedJSON(t *testing.T) {
	t.Parallel()
	out := "preamble\n```json\n{\"api\": \"v1\", \"count\": 2}\n```\ntrailer"
	artifacts := extractArtifacts(out)
	require.Contains(t, artifacts, "structured")
	assert.Equal(t, map[string]any{"api": "v1", "count": "2"}, artifacts["structured"].ToJSON())
	assert.Equal(t, out, artifacts["output_summary"].ToJSON())
}

func TestExtractArtifactsSkipsBrokenBlock(t *testing.T) {
	t.Parallel()
	out := "```json\n{not valid\n```\nthen\n```json\n[1,2]\n```"
	artifacts := extractArtifacts(out)
	require.Contains(t, artifacts, "structured")
	assert.Equal(t, []any{"1", "2"}, artifacts["structured"].ToJSON())
}

func TestExtractArtifactsSummaryTruncated(t *testing.T) {
	t.Parallel()
	out := strings.Repeat("x", 10*1024)
	artifacts := extractArtifacts(out)
	assert.NotContains(t, artifacts, "structured")
	summary, _ := artifacts["output_summary"].ToJSON().(string)
	assert.LessOrEqual(t, len(summary), outputSummaryLimit+len("..."))
}

func TestExtractArtifactsEmptyOutput(t *testing.T) {
	t.Parallel()
	assert.Nil(t, extractArtifacts(""))
}

func TestBriefingWithUpstream(t *testing.T) {
	t.Parallel()
	up := map[string]any{
		"A": map[string]any{"title": "producer", "role": "implementer", "structured": map[string]any{"api": "v1"}},
	}
	got := briefingWithUpstream("do the thing", up)
	assert.Contains(t, got, "do the thing")
	assert.Contains(t, got, "## Upstream Artifacts")
	assert.Contains(t, got, "\"api\": \"v1\"")

	assert.Equal(t, "plain", briefingWithUpstream("plain", nil))
}

func TestHasFailedAncestorTransitive(t *testing.T) {
	t.Parallel()
	d := &core.DAG{
		Nodes: []*core.Node{
			{ID: "A", Status: core.NodeFailed},
			{ID: "B", Status: core.NodeCompleted},
			{ID: "C", Status: core.NodePending},
			{ID: "D", Status: core.NodePending},
		},
		Edges: []core.Edge{{From: "A", To: "C"}, {From: "C", To: "D"}, {From: "B", To: "D"}},
	}
	assert.True(t, hasFailedAncestor(d, "C"))
	assert.True(t, hasFailedAncestor(d, "D"))
	assert.False(t, hasFailedAncestor(d, "B"))
}

package dagexec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/overseer-dev/overseer/internal/cmn/stringutil"
	"github.com/overseer-dev/overseer/internal/core"
)

// outputSummaryLimit caps the output prefix stored as an artifact.
const outputSummaryLimit = 4 * 1024

var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// extractArtifacts derives a node's artifacts from its captured output:
// the first parseable fenced JSON block becomes "structured", and a
// truncated prefix of the full output is always stored as
// "output_summary".
func extractArtifacts(output string) map[string]core.ArtifactValue {
	if output == "" {
		return nil
	}
	artifacts := map[string]core.ArtifactValue{
		"output_summary": core.ScalarValue(stringutil.TruncateBytes(output, outputSummaryLimit)),
	}
	for _, m := range fencedJSONRe.FindAllStringSubmatch(output, -1) {
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &parsed); err != nil {
			continue
		}
		artifacts["structured"] = core.ArtifactFromJSON(parsed)
		break
	}
	return artifacts
}

// upstreamArtifacts collects, for each completed predecessor of nodeID,
// its title, role and artifact values keyed by the predecessor's node ID.
func upstreamArtifacts(d *core.DAG, nodeID string) map[string]any {
	collected := make(map[string]any)
	for _, predID := range d.Predecessors(nodeID) {
		pred := d.NodeByID(predID)
		if pred == nil || pred.Status != core.NodeCompleted {
			continue
		}
		entry := map[string]any{
			"title": pred.Title,
			"role":  pred.Role,
		}
		for key, val := range pred.Artifacts {
			entry[key] = val.ToJSON()
		}
		collected[predID] = entry
	}
	if len(collected) == 0 {
		return nil
	}
	return collected
}

// briefingWithUpstream appends the collected upstream artifacts to the
// node's briefing as a JSON block.
func briefingWithUpstream(briefing string, upstream map[string]any) string {
	if len(upstream) == 0 {
		return briefing
	}
	data, err := json.MarshalIndent(upstream, "", "  ")
	if err != nil {
		return briefing
	}
	return fmt.Sprintf("%s\n\n## Upstream Artifacts\n\n```json\n%s\n```\n", briefing, data)
}

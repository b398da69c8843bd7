package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	t.Parallel()
	content := "ignore {\"decoy\": true} and use:\n```json\n{\"real\": 1}\n```"
	assert.Equal(t, `{"real": 1}`, ExtractJSON(content))
}

func TestExtractJSONBareObject(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `{"a": 1}`, ExtractJSON(`Sure: {"a": 1} done`))
}

func TestFirstBalancedHandlesNestedStrings(t *testing.T) {
	t.Parallel()
	s := `prefix {"a": "b { not a brace }", "c": [1, 2]} suffix`
	assert.Equal(t, `{"a": "b { not a brace }", "c": [1, 2]}`, firstBalanced(s))
}

func TestFirstBalancedUnclosedTail(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `{"a": [1, 2`, firstBalanced(`text {"a": [1, 2`))
}

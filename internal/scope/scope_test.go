package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	allow := []string{"src/**/*.ts"}
	deny := []string{"src/secrets/**"}

	tests := []struct {
		name    string
		path    string
		allowed bool
		pattern string
		reason  string
	}{
		{
			name:    "allowed by pattern",
			path:    "src/foo.ts",
			allowed: true,
			pattern: "src/**/*.ts",
		},
		{
			name:    "nested path allowed",
			path:    "src/a/b/c/foo.ts",
			allowed: true,
			pattern: "src/**/*.ts",
		},
		{
			name:    "denied by secrets pattern",
			path:    "src/secrets/k.ts",
			allowed: false,
			pattern: "src/secrets/**",
		},
		{
			name:    "outside allow list",
			path:    "README.md",
			allowed: false,
			reason:  "not in allow list",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := Check(tc.path, allow, deny)
			assert.Equal(t, tc.allowed, r.Allowed)
			if tc.pattern != "" {
				assert.Equal(t, tc.pattern, r.MatchedPattern)
			}
			if tc.reason != "" {
				assert.Equal(t, tc.reason, r.Reason)
			}
		})
	}
}

func TestCheckDenyPrecedence(t *testing.T) {
	t.Parallel()

	// A path matching both lists is denied.
	r := Check("src/secrets/api.ts", []string{"src/**"}, []string{"src/secrets/**"})
	assert.False(t, r.Allowed)
	assert.Equal(t, "src/secrets/**", r.MatchedPattern)
}

func TestCheckEmptyAllow(t *testing.T) {
	t.Parallel()

	// Empty allow list with a non-empty deny list denies every path.
	for _, p := range []string{"a.txt", "src/main.go", "deny/me"} {
		r := Check(p, nil, []string{"deny/**"})
		assert.False(t, r.Allowed, p)
	}
}

func TestCheckDenyMonotonic(t *testing.T) {
	t.Parallel()

	allow := []string{"**/*.go"}
	deny := []string{"vendor/**"}

	before := Check("vendor/pkg/a.go", allow, deny)
	require.False(t, before.Allowed)

	// Adding a deny pattern never flips a denied path to allowed.
	after := Check("vendor/pkg/a.go", allow, append(deny, "internal/**"))
	assert.False(t, after.Allowed)
}

func TestCheckNormalizesSeparators(t *testing.T) {
	t.Parallel()

	r := Check("./src/foo.ts", []string{"src/**/*.ts"}, nil)
	assert.True(t, r.Allowed)
}

func TestCheckCaseSensitive(t *testing.T) {
	t.Parallel()

	r := Check("SRC/foo.ts", []string{"src/**/*.ts"}, nil)
	assert.False(t, r.Allowed)
}

func TestCheckAll(t *testing.T) {
	t.Parallel()

	out := CheckAll(
		[]string{"src/a.ts", "src/secrets/k.ts", "docs/x.md"},
		[]string{"src/**/*.ts"},
		[]string{"src/secrets/**"},
	)
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results["src/a.ts"].Allowed)
	assert.ElementsMatch(t, []string{"src/secrets/k.ts", "docs/x.md"}, out.Denied)
}

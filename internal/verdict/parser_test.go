package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedYAMLBlock(t *testing.T) {
	body := "Automated review complete.\n\n" +
		"```yaml\n" +
		"verdict: APPROVE\n" +
		"issues:\n" +
		"  blocking: []\n" +
		"  warnings:\n" +
		"    - description: consider a table-driven test\n" +
		"      file: internal/checks/aggregator.go\n" +
		"      line: 42\n" +
		"```\n"

	v := Parse(body)
	assert.True(t, v.Approved)
	assert.Empty(t, v.BlockingIssues)
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, "consider a table-driven test", v.Warnings[0].Description)
	assert.Equal(t, "internal/checks/aggregator.go", v.Warnings[0].File)
	assert.Equal(t, 42, v.Warnings[0].Line)
}

func TestParseBareDocumentAfterMarker(t *testing.T) {
	body := "Review results below.\n---\n" +
		"verdict: REQUEST_CHANGES\n" +
		"issues:\n" +
		"  blocking:\n" +
		"    - description: missing error handling in Decide\n" +
		"      category: correctness\n"

	v := Parse(body)
	assert.False(t, v.Approved)
	require.Len(t, v.BlockingIssues, 1)
	assert.Equal(t, "missing error handling in Decide", v.BlockingIssues[0].Description)
	assert.Equal(t, "correctness", v.BlockingIssues[0].Category)
}

func TestParseScalarIssueEntries(t *testing.T) {
	body := "```yaml\nverdict: REQUEST_CHANGES\nissues:\n  blocking:\n    - missing tests\n    - flaky retry loop\n```"

	v := Parse(body)
	assert.False(t, v.Approved)
	require.Len(t, v.BlockingIssues, 2)
	assert.Equal(t, "missing tests", v.BlockingIssues[0].Description)
	assert.Equal(t, "flaky retry loop", v.BlockingIssues[1].Description)
}

func TestParseTopLevelLists(t *testing.T) {
	body := "```yaml\nverdict: APPROVE\nblocking: []\nwarnings:\n  - description: nit\n```"

	v := Parse(body)
	assert.True(t, v.Approved)
	assert.Empty(t, v.BlockingIssues)
	require.Len(t, v.Warnings, 1)
}

func TestApproveWithBlockingIsNotDowngraded(t *testing.T) {
	// The blocking list gates merging on its own; the verdict field is
	// reported as the reviewer emitted it.
	body := "```yaml\nverdict: APPROVE\nissues:\n  blocking:\n    - description: missing tests\n```"

	v := Parse(body)
	assert.True(t, v.Approved)
	require.Len(t, v.BlockingIssues, 1)
	assert.Equal(t, "missing tests", v.BlockingIssues[0].Description)
}

func TestParseRegexFallback(t *testing.T) {
	// Broken indentation defeats the YAML decoder; field recovery still
	// finds the verdict and the lists.
	body := "verdict: REQUEST_CHANGES\n" +
		" issues:\nblocking:\n" +
		"  - description: unchecked nil deref\n" +
		"    file: internal/engine/engine.go\n" +
		"  - second finding\n" +
		"warnings:\n" +
		"  - style nit\n" +
		"\t- broken: [yaml\n"

	v := Parse(body)
	assert.False(t, v.Approved)
	require.Len(t, v.BlockingIssues, 2)
	assert.Equal(t, "unchecked nil deref", v.BlockingIssues[0].Description)
	assert.Equal(t, "second finding", v.BlockingIssues[1].Description)
	require.NotEmpty(t, v.Warnings)
	assert.Equal(t, "style nit", v.Warnings[0].Description)
}

func TestParseTotalFailureYieldsSyntheticWarning(t *testing.T) {
	v := Parse("LGTM, ship it! :rocket:")

	assert.False(t, v.Approved)
	assert.Empty(t, v.BlockingIssues)
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, "parser", v.Warnings[0].Category)
	assert.Contains(t, v.Warnings[0].Description, "unable to parse")
}

func TestParseIsIdempotent(t *testing.T) {
	body := "```yaml\nverdict: APPROVE\nissues:\n  blocking: []\n  warnings:\n    - description: nit\n```"

	first := Parse(body)
	second := Parse(body)
	assert.Equal(t, first, second)
}

func TestQualifies(t *testing.T) {
	assert.True(t, Qualifies("verdict: APPROVE"))
	assert.True(t, Qualifies("```yaml\nverdict: REQUEST_CHANGES\n```"))
	assert.False(t, Qualifies("thanks for the contribution!"))
}

func TestSummarize(t *testing.T) {
	out := Summarize([]Issue{
		{Description: "missing tests", File: "engine.go", Line: 10},
		{Description: "style nit", File: "parser.go"},
		{Description: "general concern"},
	})
	assert.Contains(t, out, "- missing tests (engine.go:10)")
	assert.Contains(t, out, "- style nit (parser.go)")
	assert.Contains(t, out, "- general concern")
}

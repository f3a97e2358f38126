package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pr-42.md")

	doc := &Document{
		Frontmatter: map[string]any{
			"number":   42,
			"repo":     "octocat/hello-world",
			"decided":  true,
			"last_sha": "abc123",
		},
		Body: "# PR 42\n\nDecision history.\n",
	}

	require.NoError(t, WriteDocument(path, doc))

	loaded, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, 42, GetInt(loaded.Frontmatter, "number"))
	assert.Equal(t, "octocat/hello-world", GetString(loaded.Frontmatter, "repo"))
	assert.True(t, GetBool(loaded.Frontmatter, "decided"))
	assert.Equal(t, "abc123", GetString(loaded.Frontmatter, "last_sha"))
	assert.Contains(t, loaded.Body, "Decision history")
}

func TestReadDocumentNoFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.md")
	require.NoError(t, os.WriteFile(path, []byte("just markdown\n"), 0644))

	doc, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Empty(t, doc.Frontmatter)
	assert.Equal(t, "just markdown\n", doc.Body)
}

func TestWriteDocumentCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "doc.md")

	require.NoError(t, WriteDocument(path, &Document{Body: "body"}))
	assert.True(t, Exists(path))
}

func TestWithLockRunsFunction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")

	ran := false
	err := WithLock(path, time.Second, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	s := FormatTime(now)
	assert.Equal(t, now, ParseTime(s))
	assert.True(t, ParseTime("garbage").IsZero())
}

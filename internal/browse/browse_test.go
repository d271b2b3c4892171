package browse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/workspace"
)

func testProject(t *testing.T) *workspace.Project {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"input", "guideline", "output", "output_pending"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return &workspace.Project{
		ID:          "demo",
		Root:        root,
		ReadRoots:   []string{"input", "guideline"},
		WriteRoot:   "output",
		StagingRoot: "output_pending",
	}
}

func newBrowser(t *testing.T, maxPreview int64) *Browser {
	t.Helper()
	b, err := New(maxPreview, 16, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestListRoots(t *testing.T) {
	p := testProject(t)
	b := newBrowser(t, 0)

	entries, err := b.List(p, "")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.True(t, e.IsDir)
	}
	assert.Equal(t, "guideline", entries[0].Name)
	assert.Equal(t, "input", entries[1].Name)
}

func TestListDirsFirstAndIgnores(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", "z.md"), []byte("z"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(p.Root, "input", "archive"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(p.Root, "input", "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", ".hidden"), []byte("h"), 0o644))

	b := newBrowser(t, 0)
	entries, err := b.List(p, "input")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "z.md", entries[1].Name)
	assert.Equal(t, "input/z.md", entries[1].Path)
	assert.Equal(t, int64(1), entries[1].Size)
}

func TestListSandboxAndNotFound(t *testing.T) {
	p := testProject(t)
	b := newBrowser(t, 0)

	_, err := b.List(p, "../other")
	assert.ErrorIs(t, err, apperr.ErrPathEscape)

	_, err = b.List(p, "input/missing-dir")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSearch(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", "meeting-notes.md"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(p.Root, "input", "old"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", "old", "Notes-2024.md"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "output", "summary.md"), []byte("c"), 0o644))

	b := newBrowser(t, 0)
	results, err := b.Search(p, "notes", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	paths := []string{results[0].Path, results[1].Path}
	assert.Contains(t, paths, "input/meeting-notes.md")
	assert.Contains(t, paths, "input/old/Notes-2024.md")

	results, err = b.Search(p, "summary", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "output/summary.md", results[0].Path)

	_, err = b.Search(p, "", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSearchLimit(t *testing.T) {
	p := testProject(t)
	for i := 0; i < 10; i++ {
		name := filepath.Join(p.Root, "input", "doc-"+strings.Repeat("x", i+1)+".md")
		require.NoError(t, os.WriteFile(name, []byte("d"), 0o644))
	}

	b := newBrowser(t, 0)
	results, err := b.Search(p, "doc", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestReadPreview(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", "a.md"), []byte("# Title\nbody"), 0o644))

	b := newBrowser(t, 0)
	pv, err := b.Read(p, "input/a.md")
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", pv.Content)
	assert.False(t, pv.Binary)
	assert.False(t, pv.Truncated)
	assert.Contains(t, pv.MimeType, "markdown")
}

func TestReadTruncatesAtCap(t *testing.T) {
	p := testProject(t)
	// Multibyte text so the cap can land mid-rune.
	text := strings.Repeat("あ", 100) // 300 bytes
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", "jp.md"), []byte(text), 0o644))

	b := newBrowser(t, 100)
	pv, err := b.Read(p, "input/jp.md")
	require.NoError(t, err)
	assert.True(t, pv.Truncated)
	assert.Equal(t, int64(300), pv.Size)
	assert.LessOrEqual(t, len(pv.Content), 100)
	// Never a broken rune at the end.
	assert.True(t, strings.HasSuffix(pv.Content, "あ"))
}

func TestReadBinary(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "input", "blob.bin"),
		[]byte{0x89, 0x50, 0x00, 0x0A, 0xFF}, 0o644))

	b := newBrowser(t, 0)
	pv, err := b.Read(p, "input/blob.bin")
	require.NoError(t, err)
	assert.True(t, pv.Binary)
	assert.Empty(t, pv.Content)
	assert.Equal(t, int64(5), pv.Size)
}

func TestReadCacheInvalidatesOnChange(t *testing.T) {
	p := testProject(t)
	path := filepath.Join(p.Root, "input", "a.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	b := newBrowser(t, 0)
	pv, err := b.Read(p, "input/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", pv.Content)

	// Same size, different mtime: the cache key changes.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	pv, err = b.Read(p, "input/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", pv.Content)
}

func TestReadErrors(t *testing.T) {
	p := testProject(t)
	b := newBrowser(t, 0)

	_, err := b.Read(p, "input/missing.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = b.Read(p, "input")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = b.Read(p, "../../etc/passwd")
	assert.ErrorIs(t, err, apperr.ErrPathEscape)
}

package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/workspace"
)

func testProject(t *testing.T) *workspace.Project {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"input", "output", "output_pending"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return &workspace.Project{
		ID:          "demo",
		Name:        "demo",
		Root:        root,
		ReadRoots:   []string{"input"},
		WriteRoot:   "output",
		StagingRoot: "output_pending",
	}
}

type recordedEvent struct {
	project, path, action string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(_ context.Context, projectID, path, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{projectID, path, action})
}

func TestStageWritesUnderStagingRoot(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())

	sf, err := s.Stage(context.Background(), p, "summary.md", []byte("# Summary\n"))
	require.NoError(t, err)
	assert.Equal(t, "summary.md", sf.Path)
	assert.False(t, sf.Exists)

	// Staged copy exists, committed tree untouched.
	staged, err := os.ReadFile(filepath.Join(p.AbsStagingRoot(), "summary.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Summary\n", string(staged))
	_, err = os.Stat(filepath.Join(p.AbsWriteRoot(), "summary.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestStageRejectsTraversal(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())

	_, err := s.Stage(context.Background(), p, "../input/poison.md", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPathEscape)

	_, err = s.Stage(context.Background(), p, "", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestStageLastWriteWins(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Stage(ctx, p, "a.md", []byte("first"))
	require.NoError(t, err)
	_, err = s.Stage(ctx, p, "a.md", []byte("second"))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(p.AbsStagingRoot(), "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	files, err := s.List(p)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestListNestedAndExistsFlag(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(p.AbsWriteRoot(), "report.md"), []byte("old"), 0o644))

	_, err := s.Stage(ctx, p, "report.md", []byte("new"))
	require.NoError(t, err)
	_, err = s.Stage(ctx, p, "sub/deep.md", []byte("deep"))
	require.NoError(t, err)

	files, err := s.List(p)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := map[string]StagedFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	assert.True(t, byPath["report.md"].Exists)
	assert.False(t, byPath["sub/deep.md"].Exists)
	assert.Equal(t, int64(4), byPath["sub/deep.md"].Size)
}

func TestListEmpty(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())

	files, err := s.List(p)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiffAgainstMissingCommitted(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Stage(ctx, p, "new.md", []byte("line one\nline two\n"))
	require.NoError(t, err)

	diff, err := s.Diff(p, "new.md")
	require.NoError(t, err)
	assert.Contains(t, diff, "--- output/new.md")
	assert.Contains(t, diff, "+++ output_pending/new.md")
	assert.Contains(t, diff, "+line one")
	assert.Contains(t, diff, "+line two")
	assert.NotContains(t, diff, "-line")
}

func TestDiffAgainstCommitted(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(p.AbsWriteRoot(), "doc.md"),
		[]byte("alpha\nbeta\ngamma\n"), 0o644))
	_, err := s.Stage(ctx, p, "doc.md", []byte("alpha\nBETA\ngamma\n"))
	require.NoError(t, err)

	diff, err := s.Diff(p, "doc.md")
	require.NoError(t, err)
	assert.Contains(t, diff, "-beta")
	assert.Contains(t, diff, "+BETA")
	assert.Contains(t, diff, " alpha")
}

func TestDiffNotStaged(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())

	_, err := s.Diff(p, "ghost.md")
	assert.ErrorIs(t, err, apperr.ErrNotStaged)
}

func TestPromoteRoundTrip(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	content := []byte("promoted content\n")
	_, err := s.Stage(ctx, p, "out.md", content)
	require.NoError(t, err)

	require.NoError(t, s.Promote(ctx, p, "out.md", false))

	// Committed file is byte-identical to what was staged.
	got, err := os.ReadFile(filepath.Join(p.AbsWriteRoot(), "out.md"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Staged copy is gone, so a second promote and a diff both fail.
	assert.ErrorIs(t, s.Promote(ctx, p, "out.md", false), apperr.ErrNotStaged)
	_, err = s.Diff(p, "out.md")
	assert.ErrorIs(t, err, apperr.ErrNotStaged)
}

func TestPromoteConflict(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(p.AbsWriteRoot(), "x.md"), []byte("old"), 0o644))
	_, err := s.Stage(ctx, p, "x.md", []byte("new"))
	require.NoError(t, err)

	err = s.Promote(ctx, p, "x.md", false)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	// Conflict leaves both sides untouched.
	got, _ := os.ReadFile(filepath.Join(p.AbsWriteRoot(), "x.md"))
	assert.Equal(t, "old", string(got))
	files, err := s.List(p)
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, s.Promote(ctx, p, "x.md", true))
	got, _ = os.ReadFile(filepath.Join(p.AbsWriteRoot(), "x.md"))
	assert.Equal(t, "new", string(got))
}

func TestPromoteCreatesNestedDirs(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Stage(ctx, p, "reports/q3/final.md", []byte("nested"))
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, p, "reports/q3/final.md", false))

	got, err := os.ReadFile(filepath.Join(p.AbsWriteRoot(), "reports", "q3", "final.md"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))
}

func TestPromoteLeavesOtherStagedFilesAlone(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Stage(ctx, p, "a.md", []byte("a"))
	require.NoError(t, err)
	_, err = s.Stage(ctx, p, "b.md", []byte("b"))
	require.NoError(t, err)

	require.NoError(t, s.Promote(ctx, p, "a.md", false))

	files, err := s.List(p)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.md", files[0].Path)
}

func TestReject(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(p.AbsWriteRoot(), "keep.md"), []byte("committed"), 0o644))
	_, err := s.Stage(ctx, p, "keep.md", []byte("staged"))
	require.NoError(t, err)

	require.NoError(t, s.Reject(ctx, p, "keep.md"))

	// Committed side untouched; staged gone.
	got, err := os.ReadFile(filepath.Join(p.AbsWriteRoot(), "keep.md"))
	require.NoError(t, err)
	assert.Equal(t, "committed", string(got))
	files, err := s.List(p)
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.ErrorIs(t, s.Reject(ctx, p, "keep.md"), apperr.ErrNotStaged)
}

func TestAuditTrail(t *testing.T) {
	p := testProject(t)
	rec := &fakeRecorder{}
	s := New(rec, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Stage(ctx, p, "a.md", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, p, "a.md", false))
	_, err = s.Stage(ctx, p, "b.md", []byte("b"))
	require.NoError(t, err)
	require.NoError(t, s.Reject(ctx, p, "b.md"))

	actions := make([]string, 0, len(rec.events))
	for _, e := range rec.events {
		assert.Equal(t, "demo", e.project)
		actions = append(actions, e.action)
	}
	assert.Equal(t, []string{"staged", "promoted", "staged", "rejected"}, actions)
}

func TestConcurrentStageSamePath(t *testing.T) {
	p := testProject(t)
	s := New(nil, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := strings.Repeat("x", i+1)
			_, err := s.Stage(ctx, p, "contended.md", []byte(content))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	files, err := s.List(p)
	require.NoError(t, err)
	require.Len(t, files, 1)
	// One of the writers won; content is intact, not interleaved.
	got, err := os.ReadFile(filepath.Join(p.AbsStagingRoot(), "contended.md"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", len(got)), string(got))
}

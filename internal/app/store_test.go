package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chunk"
	"github.com/winzerprince/oc-tutor/internal/embeddings"
	"github.com/winzerprince/oc-tutor/internal/indexer"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

const courseText = "Stoichiometry relates amounts of reactants and products.\n\nA mole contains 6.022e23 particles."

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b := indexer.New(embeddings.NewHash(16), chunk.DefaultOptions(), vector.L2)
	return NewStore(t.TempDir(), b)
}

func addTextCourse(t *testing.T, s *Store, course string) {
	t.Helper()
	dir := s.Paths(course).Dir
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.txt"), []byte(courseText), 0o644))
}

func TestValidName(t *testing.T) {
	for _, ok := range []string{"vorkurs_chemie", "c1", "Bio-101"} {
		assert.NoError(t, ValidName(ok), ok)
	}
	for _, bad := range []string{"", "../x", "_hidden", "a b", strings.Repeat("x", 65)} {
		assert.ErrorIs(t, ValidName(bad), apperr.ErrInvalidArguments, bad)
	}
}

func TestListCourses(t *testing.T) {
	s := newTestStore(t)

	courses, err := s.ListCourses()
	require.NoError(t, err)
	assert.Empty(t, courses)

	addTextCourse(t, s, "physics")
	addTextCourse(t, s, "chem")
	require.NoError(t, os.WriteFile(filepath.Join(s.DataDir, "stray.txt"), nil, 0o644))

	courses, err = s.ListCourses()
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "chem", courses[0].Name)
	assert.False(t, courses[0].Built)
}

func TestListCoursesMissingDataDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"), nil)
	courses, err := s.ListCourses()
	require.NoError(t, err)
	assert.Empty(t, courses)
}

func TestAddSource(t *testing.T) {
	s := newTestStore(t)
	dest, err := s.AddSource("chem", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.DataDir, "chem", "source.pdf"), dest)

	_, err = s.AddSource("../etc", strings.NewReader(""))
	require.ErrorIs(t, err, apperr.ErrInvalidArguments)
}

func TestBuildCourse(t *testing.T) {
	s := newTestStore(t)
	addTextCourse(t, s, "chem")

	n, err := s.BuildCourse(context.Background(), "chem")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	courses, err := s.ListCourses()
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.True(t, courses[0].Built)
	assert.Equal(t, 1, courses[0].Chunks)
	assert.NotEmpty(t, courses[0].SourceSHA256)

	p, err := s.LoadPair("chem")
	require.NoError(t, err)
	assert.Equal(t, n, p.Count())
}

func TestBuildCourseMissingSource(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Paths("empty").Dir, 0o755))

	_, err := s.BuildCourse(context.Background(), "empty")
	require.ErrorIs(t, err, apperr.ErrMissingInput)
}

func TestBuildAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addTextCourse(t, s, "chem")
	addTextCourse(t, s, "physics")
	require.NoError(t, os.MkdirAll(s.Paths("empty").Dir, 0o755))

	rep, err := s.BuildAll(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rep.Built, 2)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "empty", rep.Skipped[0].Course)
	assert.Empty(t, rep.Failed)

	before, err := s.LoadPair("chem")
	require.NoError(t, err)

	t.Run("existing pairs are left alone", func(t *testing.T) {
		rep, err := s.BuildAll(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, rep.Built)
		assert.Len(t, rep.Skipped, 3)

		again, err := s.LoadPair("chem")
		require.NoError(t, err)
		assert.Equal(t, before.Index.BuildID, again.Index.BuildID)
	})

	t.Run("force rebuilds", func(t *testing.T) {
		rep, err := s.BuildAll(ctx, true)
		require.NoError(t, err)
		assert.Len(t, rep.Built, 2)

		again, err := s.LoadPair("chem")
		require.NoError(t, err)
		assert.NotEqual(t, before.Index.BuildID, again.Index.BuildID)
	})

	t.Run("half written pair is rebuilt", func(t *testing.T) {
		require.NoError(t, os.Remove(s.Paths("physics").Store))
		rep, err := s.BuildAll(ctx, false)
		require.NoError(t, err)
		require.Len(t, rep.Built, 1)
		assert.Equal(t, "physics", rep.Built[0].Course)
	})
}

type downEmbedder struct{ embeddings.Embedder }

func (downEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("down: %w", apperr.ErrCollaboratorUnavailable)
}

func (downEmbedder) Model() string { return "down" }

func TestBuildAllForceFailureKeepsOldPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addTextCourse(t, s, "chem")
	_, err := s.BuildCourse(ctx, "chem")
	require.NoError(t, err)
	before, err := s.LoadPair("chem")
	require.NoError(t, err)

	s.Builder.Embedder = downEmbedder{}
	rep, err := s.BuildAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "chem", rep.Failed[0].Course)

	assert.True(t, s.HasIndex("chem"))
	after, err := s.LoadPair("chem")
	require.NoError(t, err)
	assert.Equal(t, before.Index.BuildID, after.Index.BuildID)
	assert.Equal(t, before.Count(), after.Count())
}

func TestBuildAllSkipsInvalidSettings(t *testing.T) {
	s := newTestStore(t)
	addTextCourse(t, s, "chem")
	s.Builder.Chunk = chunk.Options{Size: 0}

	rep, err := s.BuildAll(context.Background(), false)
	require.NoError(t, err)
	// invalid chunker settings skip rather than fail
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0].Reason, "overlap must be in")
}

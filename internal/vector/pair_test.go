package vector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chunk"
)

func samplePair(t *testing.T, n int) *Pair {
	t.Helper()
	p := NewPair(L2, "hash-4", "course.pdf", "abc")
	for i := 0; i < n; i++ {
		vec := []float32{float32(i), 1, 0, 0}
		require.NoError(t, p.Add(chunk.Chunk{Text: string(rune('a' + i))}, vec))
	}
	return p
}

func pairPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "index.json"), filepath.Join(dir, "chunks.json")
}

func TestWriteAndLoadPair(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	p := samplePair(t, 3)

	require.NoError(t, WritePair(indexPath, storePath, p))

	loaded, err := LoadPair(indexPath, storePath)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Count())
	assert.Equal(t, p.Index.BuildID, loaded.Store.BuildID)
	assert.Equal(t, "b", loaded.Store.Chunks[1].Text)
	assert.Equal(t, 1, loaded.Store.Chunks[1].ID)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(indexPath), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPairSearchExactVector(t *testing.T) {
	p := samplePair(t, 3)

	res, err := p.Search([]float32{1, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].Chunk.ID)
	assert.Equal(t, "b", res[0].Chunk.Text)
	assert.InDelta(t, 0, res[0].Distance, 1e-9)
}

func TestLoadPairMissing(t *testing.T) {
	indexPath, storePath := pairPaths(t)

	_, err := LoadPair(indexPath, storePath)
	require.ErrorIs(t, err, apperr.ErrMissingInput)
}

func TestLoadPairOneSideMissing(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	require.NoError(t, WritePair(indexPath, storePath, samplePair(t, 2)))

	require.NoError(t, os.Remove(storePath))
	_, err := LoadPair(indexPath, storePath)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)

	indexPath, storePath = pairPaths(t)
	require.NoError(t, WritePair(indexPath, storePath, samplePair(t, 2)))
	require.NoError(t, os.Remove(indexPath))
	_, err = LoadPair(indexPath, storePath)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)
}

func TestLoadPairSizeMismatch(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	p := samplePair(t, 50)
	require.NoError(t, WritePair(indexPath, storePath, p))

	// drop the last chunk from the store behind the index's back
	p.Store.Chunks = p.Store.Chunks[:49]
	data, err := json.Marshal(p.Store)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(storePath, data, 0o644))

	_, err = LoadPair(indexPath, storePath)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)
	assert.Contains(t, err.Error(), "index has 50 entries, chunk store has 49")
}

func TestLoadPairBuildMismatch(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	require.NoError(t, WritePair(indexPath, storePath, samplePair(t, 2)))

	otherIndex, otherStore := pairPaths(t)
	require.NoError(t, WritePair(otherIndex, otherStore, samplePair(t, 2)))

	// a stale partial regeneration: new store next to the old index
	data, err := os.ReadFile(otherStore)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(storePath, data, 0o644))

	_, err = LoadPair(indexPath, storePath)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)
}

func TestLoadPairGarbage(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	require.NoError(t, WritePair(indexPath, storePath, samplePair(t, 1)))
	require.NoError(t, os.WriteFile(indexPath, []byte("{not json"), 0o644))

	_, err := LoadPair(indexPath, storePath)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)
}

func TestWritePairFailureKeepsPreviousPair(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	old := samplePair(t, 2)
	require.NoError(t, WritePair(indexPath, storePath, old))

	// the index target's directory cannot be created because a file is in the way
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	badIndex := filepath.Join(blocker, "index.json")

	err := WritePair(badIndex, storePath, samplePair(t, 5))
	require.Error(t, err)

	loaded, err := LoadPair(indexPath, storePath)
	require.NoError(t, err)
	assert.Equal(t, old.Index.BuildID, loaded.Index.BuildID)
	assert.Equal(t, 2, loaded.Count())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(storePath), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWritePairRejectsInvalid(t *testing.T) {
	indexPath, storePath := pairPaths(t)
	p := samplePair(t, 2)
	p.Store.Chunks = p.Store.Chunks[:1]

	require.ErrorIs(t, WritePair(indexPath, storePath, p), apperr.ErrCorruptStore)
	hasIndex, hasStore, err := Exists(indexPath, storePath)
	require.NoError(t, err)
	assert.False(t, hasIndex)
	assert.False(t, hasStore)
}

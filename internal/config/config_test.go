package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OLLAMA_HOST", "OCTUTOR_DATA_DIR", "OCTUTOR_LOG_LEVEL", "OCTUTOR_RETRIEVAL_K"} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 500, cfg.Chunker.Size)
	assert.Equal(t, 100, cfg.Chunker.Overlap)
	assert.Equal(t, 4, cfg.Retrieval.K)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.Model)
	assert.Equal(t, "llama2:13b", cfg.LLM.FallbackModel)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TUTOR_MODEL", "mistral")

	path := filepath.Join(t.TempDir(), "octutor.yaml")
	data := `
data_dir: /srv/kb
chunker:
  type: structural
  size: 800
embedder:
  provider: openai
  timeout: 5s
llm:
  model: ${TUTOR_MODEL}
retrieval:
  k: 6
  metric: cosine
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/kb", cfg.DataDir)
	assert.Equal(t, "structural", cfg.Chunker.Type)
	assert.Equal(t, 800, cfg.Chunker.Size)
	assert.Equal(t, 0, cfg.Chunker.Overlap)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.Equal(t, 5*time.Second, cfg.Embedder.Timeout)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 6, cfg.Retrieval.K)
	assert.Equal(t, "cosine", cfg.Retrieval.Metric)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "octutor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker:\n  sise: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("OCTUTOR_RETRIEVAL_K", "9")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:11434", cfg.Embedder.Host)
	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.Host)
	assert.Equal(t, 9, cfg.Retrieval.K)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "octutor.yaml")
	want := Default()
	want.Retrieval.K = 7
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

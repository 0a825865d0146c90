package embeddings

import (
	"context"
	"fmt"
	"os"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/config"
	"github.com/winzerprince/oc-tutor/internal/retry"
)

// Embedder turns texts into vectors. Embed returns one vector per input in
// input order; EmbedQuery embeds a single query with the same semantics so
// that query and corpus vectors are comparable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	policy := retry.Policy{
		Attempts: cfg.MaxRetries,
		Timeout:  cfg.Timeout,
		Limiter:  retry.NewLimiter(cfg.RequestsPerSecond),
		Name:     "embed",
	}

	switch cfg.Provider {
	case "ollama":
		return NewClient(Config{Host: cfg.Host, Model: cfg.Model, BatchSize: cfg.BatchSize, Retry: policy})
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%s is not set: %w", cfg.APIKeyEnv, apperr.ErrCollaboratorUnavailable)
		}
		return NewOpenAI(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: key, Model: cfg.Model, BatchSize: cfg.BatchSize, Retry: policy}), nil
	case "hash":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q: %w", cfg.Provider, apperr.ErrInvalidArguments)
	}
}

// Unavailable stands in for an embedder that could not be constructed. Every
// call fails with Err so callers take their fallback path.
type Unavailable struct {
	Err error
}

func (u Unavailable) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, u.err()
}

func (u Unavailable) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, u.err()
}

func (u Unavailable) Model() string { return "" }

func (u Unavailable) err() error {
	if u.Err == nil {
		return fmt.Errorf("no embedder: %w", apperr.ErrCollaboratorUnavailable)
	}
	return u.Err
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, apperr.ErrCollaboratorUnavailable, err)
}

// batches yields [start, end) ranges of at most size items.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func checkDims(vecs [][]float32) error {
	for i := 1; i < len(vecs); i++ {
		if len(vecs[i]) != len(vecs[0]) {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(vecs[i]), len(vecs[0]))
		}
	}
	if len(vecs) > 0 && len(vecs[0]) == 0 {
		return fmt.Errorf("empty embedding returned")
	}
	return nil
}

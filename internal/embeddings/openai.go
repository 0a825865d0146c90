package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/winzerprince/oc-tutor/internal/retry"
)

type OpenAIConfig struct {
	BaseURL   string // empty means api.openai.com
	APIKey    string
	Model     string
	BatchSize int
	Retry     retry.Policy
}

// OpenAI embeds through any OpenAI compatible /embeddings endpoint.
type OpenAI struct {
	cfg    OpenAIConfig
	client *openai.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (e *OpenAI) Model() string { return e.cfg.Model }

func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for _, b := range batches(len(texts), e.cfg.BatchSize) {
		batch := texts[b[0]:b[1]]
		resp, err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (openai.EmbeddingResponse, error) {
			resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Model: openai.EmbeddingModel(e.cfg.Model),
				Input: batch,
			})
			return resp, classify(err)
		})
		if err != nil {
			return nil, unavailable(fmt.Sprintf("openai embed texts %d-%d", b[0], b[1]-1), err)
		}
		if len(resp.Data) != len(batch) {
			return nil, unavailable("openai embed", fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(batch)))
		}
		// the API reports the input position of every vector
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, unavailable("openai embed", fmt.Errorf("embedding index %d out of range", d.Index))
			}
			out[b[0]+d.Index] = d.Embedding
		}
	}
	if err := checkDims(out); err != nil {
		return nil, unavailable("openai embed", err)
	}
	return out, nil
}

func (e *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// classify stops retries for client errors other than rate limiting.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
	}
	return err
}

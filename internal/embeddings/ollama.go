package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/winzerprince/oc-tutor/internal/retry"
)

// Config holds configuration for Ollama embeddings
type Config struct {
	Host      string // e.g., "http://localhost:11434"
	Model     string // e.g., "nomic-embed-text"
	BatchSize int
	Retry     retry.Policy
}

// Client wraps the Ollama API client for generating embeddings
type Client struct {
	cfg    Config
	client *api.Client
}

// NewClient creates a new Ollama embeddings client
func NewClient(cfg Config) (*Client, error) {
	var client *api.Client

	if cfg.Host != "" {
		u, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host: %w", err)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client from environment (ensure OLLAMA_HOST is set): %w", err)
		}
	}

	return &Client{
		cfg:    cfg,
		client: client,
	}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// Embed generates embeddings for texts, BatchSize inputs per request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, b := range batches(len(texts), c.cfg.BatchSize) {
		batch := texts[b[0]:b[1]]
		vecs, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) ([][]float32, error) {
			resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: c.cfg.Model, Input: batch})
			if err != nil {
				return nil, err
			}
			return resp.Embeddings, nil
		})
		if err != nil {
			return nil, unavailable(fmt.Sprintf("ollama embed texts %d-%d", b[0], b[1]-1), err)
		}
		if len(vecs) != len(batch) {
			return nil, unavailable("ollama embed", fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(batch)))
		}
		out = append(out, vecs...)
	}
	if err := checkDims(out); err != nil {
		return nil, unavailable("ollama embed", err)
	}
	return out, nil
}

// EmbedQuery generates an embedding vector for the given text
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Package llm wraps the language model backends used to answer questions.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/config"
	"github.com/winzerprince/oc-tutor/internal/retry"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// New builds a generator for model using the provider settings in cfg.
func New(cfg config.LLMConfig, model string) (Generator, error) {
	policy := retry.Policy{
		Attempts: cfg.MaxRetries,
		Timeout:  cfg.Timeout,
		Limiter:  retry.NewLimiter(cfg.RequestsPerSecond),
		Name:     "generate " + model,
	}

	switch cfg.Provider {
	case "ollama":
		return NewClient(Config{Host: cfg.Host, Model: model, Retry: policy})
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%s is not set: %w", cfg.APIKeyEnv, apperr.ErrCollaboratorUnavailable)
		}
		return NewOpenAI(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: key, Model: model, Retry: policy}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q: %w", cfg.Provider, apperr.ErrInvalidArguments)
	}
}

// NewPair builds the primary and the plain fallback generator.
func NewPair(cfg config.LLMConfig) (primary, fallback Generator, err error) {
	primary, err = New(cfg, cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	fallback, err = New(cfg, cfg.FallbackModel)
	if err != nil {
		return nil, nil, err
	}
	return primary, fallback, nil
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, apperr.ErrCollaboratorUnavailable, err)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/winzerprince/oc-tutor/internal/retry"
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Retry   retry.Policy
}

// OpenAI generates answers through an OpenAI compatible chat completions endpoint.
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

func (o *OpenAI) Model() string { return o.cfg.Model }

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := retry.Do(ctx, o.cfg.Retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: o.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests {
			return resp, retry.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		return "", unavailable("openai chat "+o.cfg.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", unavailable("openai chat "+o.cfg.Model, fmt.Errorf("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

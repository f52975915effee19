package planner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// OpenAIConfig configures a planner for any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIPlanner asks an OpenAI-compatible chat model for a plan.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

// NewOpenAIPlanner creates a planner. BaseURL may point at a local server.
func NewOpenAIPlanner(cfg OpenAIConfig) (*OpenAIPlanner, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai planner: model is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	config.HTTPClient = httpClient

	return &OpenAIPlanner{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

// Decompose implements Planner.
func (p *OpenAIPlanner) Decompose(ctx context.Context, request string, tools []ToolSpec, sessionSummary string) ([]*models.Task, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(tools)},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(request, sessionSummary)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai plan request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return ParsePlan(resp.Choices[0].Message.Content)
}

var _ Planner = (*OpenAIPlanner)(nil)

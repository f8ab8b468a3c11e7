package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"placelink-backend/internal/llm"
	"placelink-backend/internal/shared/telemetry"
)

// DefaultModel is used when LLM_MODEL is empty.
const DefaultModel = "gpt-4o-mini"

// Config holds the provider settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client implements llm.Client using OpenAI Chat Completions. The SDK's own retries are
// disabled; callers apply their retry policy around ExtractPlaces.
type Client struct {
	client openai.Client
	model  string
}

// NewClient constructs a new OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Client{client: openai.NewClient(opts...), model: model}, nil
}

// ExtractPlaces asks the model for place candidates. Output that is not valid JSON gets one
// repair round before ErrInvalidJSON is returned.
func (c *Client) ExtractPlaces(ctx context.Context, input llm.PlaceInput) (json.RawMessage, error) {
	messages := BuildPrompt(input, c.model)
	raw, err := c.complete(ctx, input, messages)
	if err != nil {
		return nil, err
	}
	if json.Valid(raw) {
		return raw, nil
	}

	raw, err = c.complete(ctx, input, buildFixPrompt(input, c.model, raw))
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, llm.ErrInvalidJSON
	}
	return raw, nil
}

func (c *Client) complete(ctx context.Context, input llm.PlaceInput, messages []Message) (json.RawMessage, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: toParams(messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}
	if !isGPT5(c.model) {
		params.Temperature = openai.Float(0)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.StatusError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return nil, fmt.Errorf("openai request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai response missing choices")
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("openai response empty content")
	}

	telemetry.Info("llm.response", map[string]any{
		"model":             completion.Model,
		"prompt_version":    input.PromptVersion,
		"prompt_hash":       hashPromptString(promptStringFromMessages(messages)),
		"prompt_tokens":     completion.Usage.PromptTokens,
		"completion_tokens": completion.Usage.CompletionTokens,
		"total_tokens":      completion.Usage.TotalTokens,
	})
	return json.RawMessage(content), nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system", "developer":
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Client = (*Client)(nil)

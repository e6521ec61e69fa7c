package client

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"ferrosa-tutor/work-flows/models"
)

const GroqBaseURL = "https://api.groq.com/openai/v1"

// openAIClient uses the official SDK. Groq is served by the same client with
// its OpenAI-compatible base URL.
type openAIClient struct {
	client   openai.Client
	provider string
}

func NewOpenAIClient(apiKey, baseURL string) *openAIClient {
	return newOpenAIClient("openai", apiKey, baseURL)
}

func NewGroqClient(apiKey string) *openAIClient {
	return newOpenAIClient("groq", apiKey, GroqBaseURL)
}

func newOpenAIClient(provider, apiKey, baseURL string) *openAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the resilient wrapper
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIClient{
		client:   openai.NewClient(opts...),
		provider: provider,
	}
}

func (c *openAIClient) Provider() string {
	return c.provider
}

func (c *openAIClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return models.LLMReply{}, fmt.Errorf("%s completion failed: %w", c.provider, err)
	}
	if len(completion.Choices) == 0 {
		return models.LLMReply{}, fmt.Errorf("no response from %s", c.provider)
	}
	return models.LLMReply{Text: completion.Choices[0].Message.Content}, nil
}

func (c *openAIClient) ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))

	// Pull the first event synchronously so connection and auth failures
	// surface as a plain error the retry wrapper can act on.
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, fmt.Errorf("%s stream failed: %w", c.provider, err)
		}
		out := make(chan models.StreamChunk)
		close(out)
		return out, nil
	}

	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(ctx, out, models.StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
			if !stream.Next() {
				break
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, out, models.StreamChunk{Err: fmt.Errorf("%s stream failed: %w", c.provider, err)})
		}
	}()

	return out, nil
}

func (c *openAIClient) buildParams(req models.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.MessageRoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case models.MessageRoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

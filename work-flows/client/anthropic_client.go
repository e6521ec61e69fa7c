package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ferrosa-tutor/work-flows/models"
)

const defaultAnthropicMaxTokens = 1024

type anthropicClient struct {
	client anthropic.Client
}

func NewAnthropicClient(apiKey string) *anthropicClient {
	return &anthropicClient{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
	}
}

func (c *anthropicClient) Provider() string {
	return "anthropic"
}

func (c *anthropicClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	systemPrompt, turns, err := alternateTurns(req.Messages)
	if err != nil {
		return models.LLMReply{}, err
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return models.LLMReply{}, fmt.Errorf("anthropic completion failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return models.LLMReply{}, fmt.Errorf("no response from anthropic")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return models.LLMReply{Text: text.String()}, nil
}

// ChatCompletionStream completes synchronously and replays the reply as a
// single chunk.
func (c *anthropicClient) ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error) {
	reply, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan models.StreamChunk, 1)
	out <- models.StreamChunk{Content: reply.Text}
	close(out)
	return out, nil
}

// alternateTurns lifts system entries into one system prompt and merges
// consecutive same-role entries so user and assistant strictly alternate,
// starting and ending with a user turn.
func alternateTurns(messages []models.Message) (string, []models.Message, error) {
	var systemParts []string
	var merged []models.Message

	for _, msg := range messages {
		if msg.Role == models.MessageRoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := models.MessageRoleUser
		if msg.Role == models.MessageRoleAssistant {
			role = models.MessageRoleAssistant
		}
		if n := len(merged); n > 0 && merged[n-1].Role == role {
			merged[n-1].Content += "\n\n" + msg.Content
			continue
		}
		merged = append(merged, models.Message{Role: role, Content: msg.Content})
	}

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	// Scripted tabs open with assistant entries; anchor them behind a user turn.
	if merged[0].Role != models.MessageRoleUser {
		merged = append([]models.Message{{Role: models.MessageRoleUser, Content: "Hello"}}, merged...)
	}
	if merged[len(merged)-1].Role != models.MessageRoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return strings.Join(systemParts, "\n\n"), merged, nil
}

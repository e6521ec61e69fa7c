package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ferrosa-tutor/work-flows/models"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	ContentTypeHeader = "application/json"

	maxErrorBody = 2048
)

// openRouterClient talks to any OpenAI-compatible /chat/completions endpoint
// over plain HTTP. OpenRouter is the default deployment.
type openRouterClient struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

func NewOpenRouterClient(apiKey string) *openRouterClient {
	return NewOpenRouterClientWithBaseURL(apiKey, OpenRouterBaseURL)
}

func NewOpenRouterClientWithBaseURL(apiKey, baseURL string) *openRouterClient {
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}
	return &openRouterClient{
		apiKey:  apiKey,
		client:  &http.Client{},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (oc *openRouterClient) Provider() string {
	return "openrouter"
}

func (oc *openRouterClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	req.Stream = false
	resp, err := oc.do(ctx, req)
	if err != nil {
		return models.LLMReply{}, err
	}
	defer resp.Body.Close()

	var chatResp models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return models.LLMReply{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return models.LLMReply{}, fmt.Errorf("no response from API")
	}

	return models.LLMReply{Text: chatResp.Choices[0].Message.Content}, nil
}

func (oc *openRouterClient) ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error) {
	req.Stream = true
	resp, err := oc.do(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var streamResp models.StreamResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				continue
			}
			if streamResp.Error != nil {
				send(ctx, out, models.StreamChunk{Err: fmt.Errorf("stream error: %s", streamResp.Error.Message)})
				return
			}
			if len(streamResp.Choices) == 0 || streamResp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, out, models.StreamChunk{Content: streamResp.Choices[0].Delta.Content}) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(ctx, out, models.StreamChunk{Err: fmt.Errorf("error reading response: %w", err)})
		}
	}()

	return out, nil
}

func (oc *openRouterClient) do(ctx context.Context, req models.CompletionRequest) (*http.Response, error) {
	reqBody := models.ChatRequest{
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		MaxTokens:      req.MaxTokens,
		Stream:         req.Stream,
		ResponseFormat: req.ResponseFormat,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+oc.apiKey)
	httpReq.Header.Set("Content-Type", ContentTypeHeader)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := oc.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Provider: oc.Provider(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}

// send delivers a chunk unless the consumer went away.
func send(ctx context.Context, out chan<- models.StreamChunk, chunk models.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

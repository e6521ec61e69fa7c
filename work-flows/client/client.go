package client

import (
	"context"
	"strings"

	"ferrosa-tutor/work-flows/models"
)

// Client is the LLM gateway used by every agent.
//
// ChatCompletionStream returns a channel that the implementation closes when
// the stream ends. A transport failure after the stream started arrives as a
// final chunk with Err set.
type Client interface {
	ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error)
	ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error)
	Provider() string
}

// Collect drains a stream, forwarding each delta to onChunk, and returns the
// concatenated text. On error the text received so far is returned with it.
func Collect(ctx context.Context, stream <-chan models.StreamChunk, onChunk func(string)) (string, error) {
	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return full.String(), nil
			}
			if chunk.Err != nil {
				return full.String(), chunk.Err
			}
			if chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			if onChunk != nil {
				onChunk(chunk.Content)
			}
		}
	}
}

// StreamText is the usual sync-over-stream helper: open, collect, close.
func StreamText(ctx context.Context, c Client, req models.CompletionRequest, onChunk func(string)) (string, error) {
	req.Stream = true
	stream, err := c.ChatCompletionStream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(ctx, stream, onChunk)
}

package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ferrosa-tutor/utils"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

// fakeClient replays canned replies and records every request.
type fakeClient struct {
	mu sync.Mutex

	replies      []string
	defaultReply string
	syncErr      error

	stream    []string
	streamErr error

	requests []models.CompletionRequest
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.syncErr != nil {
		return models.LLMReply{}, f.syncErr
	}
	if len(f.replies) > 0 {
		reply := f.replies[0]
		f.replies = f.replies[1:]
		return models.LLMReply{Text: reply}, nil
	}
	return models.LLMReply{Text: f.defaultReply}, nil
}

func (f *fakeClient) ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan models.StreamChunk, len(f.stream))
	for _, chunk := range f.stream {
		out <- models.StreamChunk{Content: chunk}
	}
	close(out)
	return out, nil
}

func (f *fakeClient) lastRequest(t *testing.T) models.CompletionRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func loadTab(t *testing.T, id string) *models.TabSpec {
	t.Helper()
	tabs, err := utils.LoadTabConfig("")
	require.NoError(t, err)
	tab, err := tabs.Get(id)
	require.NoError(t, err)
	return tab
}

func newMachine(fc *fakeClient) *StageMachine {
	chat := NewConversationAgent(fc, nil)
	return NewStageMachine(NewEvaluator(fc, "test-model", nil), chat, nil)
}

func newSession() *services.SessionContext {
	return services.NewSessionContext("s1", "test-model")
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ferrosa-tutor/utils"
	"ferrosa-tutor/work-flows/agents"
	"ferrosa-tutor/work-flows/managers"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

type cannedClient struct {
	reply  string
	stream []string
}

func (c *cannedClient) Provider() string { return "canned" }

func (c *cannedClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	return models.LLMReply{Text: c.reply}, nil
}

func (c *cannedClient) ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error) {
	out := make(chan models.StreamChunk, len(c.stream))
	for _, s := range c.stream {
		out <- models.StreamChunk{Content: s}
	}
	close(out)
	return out, nil
}

func newTestSessions(t *testing.T, c *cannedClient) *managers.SessionManager {
	t.Helper()
	tabs, err := utils.LoadTabConfig("")
	require.NoError(t, err)

	am := agents.NewManager(c, agents.ManagerOptions{Model: "test-model"}, nil)
	return managers.NewSessionManager(am, tabs, managers.Options{
		Model:     "test-model",
		TTL:       time.Hour,
		ExportDir: t.TempDir(),
		Translator: services.NewTranslatorWithFunc("en", "ur", func(text, source, target string) (string, error) {
			return target + ":" + text, nil
		}),
	}, nil)
}

package agents

import (
	"context"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/client"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

const errorPrefix = "⚠️ Error: "

// ConversationAgent answers free chat: the open chat after a tab's script is
// exhausted, and the one-off persona replies to off-topic turns.
type ConversationAgent struct {
	name   string
	client client.Client
	logger *zap.Logger
}

func NewConversationAgent(c client.Client, logger *zap.Logger) *ConversationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationAgent{
		name:   "ConversationAgent",
		client: c,
		logger: logger.Named("conversation"),
	}
}

func (ca *ConversationAgent) Name() string {
	return ca.name
}

// Chat appends the user entry, streams a completion over the whole tab log and
// appends the reply. A transport failure becomes the reply text and is also
// returned so callers can skip follow-up bookkeeping; it is never fatal.
func (ca *ConversationAgent) Chat(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, input string, onChunk func(string)) ([]models.Message, error) {
	appended := []models.Message{sess.Log.AddUser(tab.ID, input)}

	req := ca.chatRequest(sess, tab, sess.Log.Entries(tab.ID))
	reply, err := client.StreamText(ctx, ca.client, req, onChunk)
	return append(appended, ca.finish(sess, tab, reply, err)), err
}

// StreamReply streams a completion over the log with the last user entry
// replaced by prompt, so request-only material never lands in the log.
func (ca *ConversationAgent) StreamReply(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, prompt string, onChunk func(string)) (string, error) {
	entries := sess.Log.Entries(tab.ID)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == models.MessageRoleUser {
			entries[i].Content = prompt
			break
		}
	}
	return client.StreamText(ctx, ca.client, ca.chatRequest(sess, tab, entries), onChunk)
}

// PersonaReply is an isolated exchange of persona and raw user text. Nothing
// from the tab log is sent.
func (ca *ConversationAgent) PersonaReply(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, persona, input string) ([]models.Message, error) {
	appended := []models.Message{sess.Log.AddUser(tab.ID, input)}

	req := ca.chatRequest(sess, tab, []models.Message{
		{Role: models.MessageRoleSystem, Content: persona},
		{Role: models.MessageRoleUser, Content: input},
	})
	reply, err := ca.client.ChatCompletion(ctx, req)
	return append(appended, ca.finish(sess, tab, reply.Text, err)), err
}

func (ca *ConversationAgent) finish(sess *services.SessionContext, tab *models.TabSpec, reply string, err error) models.Message {
	if err != nil {
		ca.logger.Warn("chat completion failed",
			zap.String("session", sess.ID),
			zap.String("tab", tab.ID),
			zap.Error(err))
		return sess.Log.AddAssistant(tab.ID, errorPrefix+err.Error())
	}
	return sess.Log.AddAssistant(tab.ID, reply)
}

func (ca *ConversationAgent) chatRequest(sess *services.SessionContext, tab *models.TabSpec, messages []models.Message) models.CompletionRequest {
	return models.CompletionRequest{
		Model:       pickModel(tab.Chat.Model, sess.Model),
		Messages:    messages,
		Temperature: tab.Chat.Temperature,
		MaxTokens:   tab.Chat.MaxTokens,
	}
}

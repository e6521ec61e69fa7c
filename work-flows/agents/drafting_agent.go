package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

// DraftingAgent turns a filled form into a streamed document draft and keeps
// the latest draft as the tab's exportable document.
type DraftingAgent struct {
	name   string
	chat   *ConversationAgent
	logger *zap.Logger
}

func NewDraftingAgent(chat *ConversationAgent, logger *zap.Logger) *DraftingAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftingAgent{
		name:   "DraftingAgent",
		chat:   chat,
		logger: logger.Named("drafting"),
	}
}

func (da *DraftingAgent) Name() string {
	return da.name
}

func (da *DraftingAgent) Capabilities() []string {
	return []string{"document_drafting", "draft_revision", "document_export"}
}

func (da *DraftingAgent) CanHandle(kind models.TabKind) bool {
	return kind == models.TabKindDrafting
}

func (da *DraftingAgent) GetDescription() string {
	return "Drafts documents such as petitions from form fields and revises them on request"
}

// ProcessTurn drafts when job carries fields; plain text continues the chat
// as a revision request.
func (da *DraftingAgent) ProcessTurn(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, job models.JobRequest, onChunk func(string)) (*models.TurnResult, error) {
	ensurePersona(sess, tab)
	result := &models.TurnResult{AgentName: da.name, TabID: tab.ID, Route: models.RouteNone}

	var prompt string
	switch {
	case len(job.Fields) > 0:
		rendered, err := RenderDraft(tab.Drafting, job.Fields)
		if err != nil {
			return nil, err
		}
		prompt = rendered
	case strings.TrimSpace(job.UserMessage) != "":
		prompt = strings.TrimSpace(job.UserMessage)
	default:
		return result, nil
	}

	msgs, err := da.chat.Chat(ctx, sess, tab, prompt, onChunk)
	result.Appended = msgs
	result.Route = models.RouteDraft
	result.Streamed = err == nil
	result.Terminal = true

	if err != nil {
		da.logger.Warn("draft failed", zap.String("tab", tab.ID), zap.Error(err))
		return result, nil
	}
	if len(job.Fields) > 0 || hasDocument(sess, tab.ID) {
		sess.SetDocument(tab.ID, models.Document{
			Label:   tab.Drafting.DocumentLabel,
			Content: msgs[len(msgs)-1].Content,
		})
	}
	return result, nil
}

// RenderDraft fills the template's {field} placeholders, rejecting the form
// when a required field is blank.
func RenderDraft(spec *models.DraftingSpec, fields map[string]string) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("tab has no drafting form")
	}

	var missing []string
	out := spec.Template
	for _, f := range spec.Fields {
		value := strings.TrimSpace(fields[f.Name])
		if value == "" && f.Required {
			missing = append(missing, f.Label)
		}
		out = strings.ReplaceAll(out, "{"+f.Name+"}", value)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", models.ErrMissingFields, strings.Join(missing, ", "))
	}
	return strings.TrimSpace(out), nil
}

func hasDocument(sess *services.SessionContext, tab string) bool {
	_, ok := sess.Document(tab)
	return ok
}

package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

const (
	defaultCitationTopK = 3
	defaultDisclaimer   = "⚠️ Note: no supporting reference material was found, so this answer is not grounded in retrieved sources."
)

// CitationsAgent answers research queries grounded in retrieved reference
// material, and says so when the material is missing.
type CitationsAgent struct {
	name      string
	chat      *ConversationAgent
	retriever services.Retriever
	minChars  int
	topK      int
	logger    *zap.Logger
}

// NewCitationsAgent builds the agent. topK is used for tabs that do not set
// their own.
func NewCitationsAgent(chat *ConversationAgent, retriever services.Retriever, minChars, topK int, logger *zap.Logger) *CitationsAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = defaultCitationTopK
	}
	return &CitationsAgent{
		name:      "CitationsAgent",
		chat:      chat,
		retriever: retriever,
		minChars:  minChars,
		topK:      topK,
		logger:    logger.Named("citations"),
	}
}

func (ca *CitationsAgent) Name() string {
	return ca.name
}

func (ca *CitationsAgent) Capabilities() []string {
	return []string{"citation_retrieval", "grounded_answers"}
}

func (ca *CitationsAgent) CanHandle(kind models.TabKind) bool {
	return kind == models.TabKindCitations
}

func (ca *CitationsAgent) GetDescription() string {
	return "Retrieves statutes and case law for a query and summarises them with citations"
}

func (ca *CitationsAgent) ProcessTurn(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, job models.JobRequest, onChunk func(string)) (*models.TurnResult, error) {
	ensurePersona(sess, tab)
	result := &models.TurnResult{AgentName: ca.name, TabID: tab.ID, Route: models.RouteNone, Terminal: true}

	query := strings.TrimSpace(job.UserMessage)
	if query == "" {
		return result, nil
	}

	spec := tab.Citations
	topK := spec.TopK
	if topK <= 0 {
		topK = ca.topK
	}

	retrieved := services.BuildContext(ctx, ca.retriever, query, topK, ca.minChars)
	if !retrieved.Sufficient {
		ca.logger.Info("insufficient retrieval context",
			zap.String("tab", tab.ID),
			zap.Int("chunks", retrieved.ChunkCount),
			zap.String("cause", retrieved.FailureCause))
	}

	prompt := strings.ReplaceAll(spec.PromptTemplate, "{query}", query)
	result.Appended = append(result.Appended, sess.Log.AddUser(tab.ID, prompt))

	request := prompt
	if retrieved.Sufficient {
		request = prompt + "\n\nReference material:\n" + retrieved.Text
	}

	reply, err := ca.chat.StreamReply(ctx, sess, tab, request, onChunk)
	if err != nil {
		ca.logger.Warn("citation answer failed", zap.String("tab", tab.ID), zap.Error(err))
		result.Appended = append(result.Appended, sess.Log.AddAssistant(tab.ID, errorPrefix+err.Error()))
		result.Route = models.RouteCitation
		result.Disclaimer = !retrieved.Sufficient
		return result, nil
	}

	if !retrieved.Sufficient {
		note := "\n\n" + disclaimer(spec)
		reply += note
		if onChunk != nil {
			onChunk(note)
		}
	}

	result.Appended = append(result.Appended, sess.Log.AddAssistant(tab.ID, reply))
	result.Route = models.RouteCitation
	result.Disclaimer = !retrieved.Sufficient
	result.Streamed = true
	return result, nil
}

func disclaimer(spec *models.CitationSpec) string {
	if spec.Disclaimer != "" {
		return spec.Disclaimer
	}
	return defaultDisclaimer
}

package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/client"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

// AgentManager owns the agents and routes each turn by tab kind.
type AgentManager struct {
	apiClient client.Client
	agents    []Agent
	logger    *zap.Logger
}

// ManagerOptions configures the agents built by NewManager.
type ManagerOptions struct {
	Model             string
	Retriever         services.Retriever
	RetrievalMinChars int
	RetrievalTopK     int
}

func NewManager(apiClient client.Client, opts ManagerOptions, logger *zap.Logger) *AgentManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &AgentManager{
		apiClient: apiClient,
		logger:    logger,
	}
	manager.RegisterAgents(opts)
	return manager
}

func (m *AgentManager) RegisterAgents(opts ManagerOptions) {
	chat := NewConversationAgent(m.apiClient, m.logger)
	evaluator := NewEvaluator(m.apiClient, opts.Model, m.logger)

	m.Register(NewStageMachine(evaluator, chat, m.logger))
	m.Register(NewDraftingAgent(chat, m.logger))
	m.Register(NewCitationsAgent(chat, opts.Retriever, opts.RetrievalMinChars, opts.RetrievalTopK, m.logger))
}

func (m *AgentManager) Register(agent Agent) {
	m.agents = append(m.agents, agent)
	m.logger.Debug("agent registered",
		zap.String("agent", agent.Name()),
		zap.Strings("capabilities", agent.Capabilities()))
}

func (m *AgentManager) SelectAgent(kind models.TabKind) (Agent, error) {
	for _, agent := range m.agents {
		if agent.CanHandle(kind) {
			return agent, nil
		}
	}
	return nil, fmt.Errorf("no suitable agent found for tab kind: %s", kind)
}

func (m *AgentManager) Agents() []Agent {
	out := make([]Agent, len(m.agents))
	copy(out, m.agents)
	return out
}

func (m *AgentManager) ProcessJob(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, job models.JobRequest, onChunk func(string)) (*models.TurnResult, error) {
	agent, err := m.SelectAgent(tab.Kind)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("processing job",
		zap.String("agent", agent.Name()),
		zap.String("session", sess.ID),
		zap.String("tab", tab.ID),
		zap.String("task", job.Task))
	return agent.ProcessTurn(ctx, sess, tab, job, onChunk)
}

package managers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ferrosa-tutor/utils"
	"ferrosa-tutor/work-flows/agents"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

const DefaultSessionTTL = 2 * time.Hour

// Options configures a SessionManager.
type Options struct {
	Model      string
	TTL        time.Duration
	ExportDir  string
	Translator *services.Translator
}

// TabView is the read-only state of one tab in one session.
type TabView struct {
	Tab         *models.TabSpec   `json:"tab"`
	State       models.StageState `json:"state"`
	Entries     []models.Message  `json:"entries"`
	Terminal    bool              `json:"terminal"`
	HasDocument bool              `json:"has_document"`
	Stats       map[string]int    `json:"stats"`
}

// SessionManager owns every live session and runs turns against them one at
// a time per session.
type SessionManager struct {
	agents     *agents.AgentManager
	tabs       *utils.TabSet
	translator *services.Translator
	model      string
	ttl        time.Duration
	exportDir  string
	logger     *zap.Logger

	mu        sync.RWMutex
	sessions  map[string]*services.SessionContext
	onRemoved []func(sessionID string)
	now       func() time.Time
}

func NewSessionManager(am *agents.AgentManager, tabs *utils.TabSet, opts Options, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	if opts.Translator == nil {
		opts.Translator = services.NewTranslator("en", services.DefaultTranslateTarget)
	}
	return &SessionManager{
		agents:     am,
		tabs:       tabs,
		translator: opts.Translator,
		model:      opts.Model,
		ttl:        opts.TTL,
		exportDir:  opts.ExportDir,
		logger:     logger.Named("sessions"),
		sessions:   make(map[string]*services.SessionContext),
		now:        time.Now,
	}
}

func (m *SessionManager) Tabs() *utils.TabSet {
	return m.tabs
}

// CreateSession starts a session targeting model, or the default model when
// model is empty.
func (m *SessionManager) CreateSession(model string) *services.SessionContext {
	if model == "" {
		model = m.model
	}
	sess := services.NewSessionContext(uuid.NewString(), model)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	services.SetActiveSessions(count)
	m.logger.Info("session created", zap.String("session", sess.ID), zap.String("model", model))
	return sess
}

func (m *SessionManager) GetSession(id string) (*services.SessionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return sess, nil
}

// OnSessionRemoved registers fn to run after a session is deleted or
// evicted. Register hooks before serving.
func (m *SessionManager) OnSessionRemoved(fn func(sessionID string)) {
	m.mu.Lock()
	m.onRemoved = append(m.onRemoved, fn)
	m.mu.Unlock()
}

func (m *SessionManager) DeleteSession(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	hooks := m.onRemoved
	m.mu.Unlock()

	services.SetActiveSessions(count)
	if ok {
		notifyRemoved(hooks, id)
	}
}

func notifyRemoved(hooks []func(string), ids ...string) {
	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

func (m *SessionManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle drops sessions idle for longer than the TTL. Sessions in the
// middle of a turn are kept.
func (m *SessionManager) EvictIdle() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var evicted []string
	for id, sess := range m.sessions {
		if !sess.LastActive().Before(cutoff) {
			continue
		}
		if !sess.BeginTurn() {
			continue
		}
		delete(m.sessions, id)
		sess.EndTurn()
		evicted = append(evicted, id)
	}
	count := len(m.sessions)
	hooks := m.onRemoved
	m.mu.Unlock()

	if len(evicted) > 0 {
		services.SetActiveSessions(count)
		notifyRemoved(hooks, evicted...)
		m.logger.Info("idle sessions evicted", zap.Int("evicted", len(evicted)), zap.Int("remaining", count))
	}
	return len(evicted)
}

// Run evicts idle sessions every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// OpenTab emits whatever content the tab has pending on arrival.
func (m *SessionManager) OpenTab(ctx context.Context, sessionID, tabID string) (*models.TurnResult, error) {
	return m.RunTurn(ctx, sessionID, models.JobRequest{Task: "open", TabID: tabID}, nil)
}

// RunTurn routes one user turn to the agent for the tab's kind. A second turn
// on the same session while one is running fails with ErrTurnInProgress.
func (m *SessionManager) RunTurn(ctx context.Context, sessionID string, job models.JobRequest, onChunk func(string)) (*models.TurnResult, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	tab, err := m.tabs.Get(job.TabID)
	if err != nil {
		return nil, err
	}

	if !sess.BeginTurn() {
		return nil, models.ErrTurnInProgress
	}
	defer sess.EndTurn()

	if job.Task == "" {
		job.Task = "turn"
	}

	start := m.now()
	result, err := m.agents.ProcessJob(ctx, sess, tab, job, onChunk)
	if err != nil {
		if !errors.Is(err, models.ErrMissingFields) {
			m.logger.Error("turn failed",
				zap.String("session", sess.ID),
				zap.String("tab", tab.ID),
				zap.Error(err))
		}
		return nil, err
	}

	services.ObserveTurn(tab.ID, string(result.Route))
	m.logger.Debug("turn processed",
		zap.String("session", sess.ID),
		zap.String("tab", tab.ID),
		zap.String("route", string(result.Route)),
		zap.Int("stage", result.Stage),
		zap.Int("appended", len(result.Appended)),
		zap.Duration("elapsed", m.now().Sub(start)))
	return result, nil
}

// ResetTab clears one tab of one session back to its first visit.
func (m *SessionManager) ResetTab(sessionID, tabID string) error {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	if _, err := m.tabs.Get(tabID); err != nil {
		return err
	}
	if !sess.BeginTurn() {
		return models.ErrTurnInProgress
	}
	defer sess.EndTurn()

	sess.ResetTab(tabID)
	m.logger.Info("tab reset", zap.String("session", sessionID), zap.String("tab", tabID))
	return nil
}

func (m *SessionManager) TabView(sessionID, tabID string) (*TabView, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	tab, err := m.tabs.Get(tabID)
	if err != nil {
		return nil, err
	}

	state := sess.Snapshot(tabID)
	_, hasDoc := sess.Document(tabID)
	return &TabView{
		Tab:         tab,
		State:       state,
		Entries:     sess.Log.Transcript(tabID),
		Terminal:    state.Stage >= len(tab.Stages),
		HasDocument: hasDoc,
		Stats:       sess.Log.GetConversationStats(tabID),
	}, nil
}

// Document returns the tab's generated document and its download name.
func (m *SessionManager) Document(sessionID, tabID string) (string, models.Document, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return "", models.Document{}, err
	}
	doc, ok := sess.Document(tabID)
	if !ok {
		return "", models.Document{}, models.ErrNoDocument
	}
	return utils.ExportFilename(doc.Label), doc, nil
}

// Export writes the tab's document into the export directory.
func (m *SessionManager) Export(sessionID, tabID string) (string, error) {
	_, doc, err := m.Document(sessionID, tabID)
	if err != nil {
		return "", err
	}
	path, err := utils.ExportDocument(m.exportDir, doc.Label, doc.Content)
	if err != nil {
		return "", err
	}
	m.logger.Info("document exported", zap.String("session", sessionID), zap.String("path", path))
	return path, nil
}

// TranslateLast translates the tab's latest assistant entry. An empty target
// uses the translator default.
func (m *SessionManager) TranslateLast(sessionID, tabID, target string) (string, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	text, ok := sess.Log.LastAssistant(tabID)
	if !ok {
		return "", fmt.Errorf("tab %s has no assistant reply to translate", tabID)
	}
	return m.Translate(text, target)
}

func (m *SessionManager) Translate(text, target string) (string, error) {
	return m.translator.TranslateTo(text, target)
}

func (m *SessionManager) TranslateTarget() string {
	return m.translator.TargetLang()
}

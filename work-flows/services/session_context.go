package services

import (
	"sync"
	"time"

	"ferrosa-tutor/work-flows/models"
)

// SessionContext is everything one user session owns: the model it targets,
// its message log, per-tab stage state and generated documents. It is passed
// explicitly to every component that reads or writes session state.
type SessionContext struct {
	ID        string
	Model     string
	Log       *MessageLog
	CreatedAt time.Time

	turn sync.Mutex

	mu         sync.Mutex
	states     map[string]*models.StageState
	documents  map[string]models.Document
	lastActive time.Time
}

func NewSessionContext(id, model string) *SessionContext {
	now := time.Now()
	return &SessionContext{
		ID:         id,
		Model:      model,
		Log:        NewMessageLog(),
		CreatedAt:  now,
		states:     make(map[string]*models.StageState),
		documents:  make(map[string]models.Document),
		lastActive: now,
	}
}

// State returns the tab's stage state, creating it zeroed on first visit.
// Fields are read freely by the turn holder; writes go through SetStage,
// RecordAnswer and ClaimRetry so Snapshot never sees a map mid-write.
func (s *SessionContext) State(tab string) *models.StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(tab)
}

func (s *SessionContext) stateLocked(tab string) *models.StageState {
	state, ok := s.states[tab]
	if !ok {
		state = models.NewStageState()
		s.states[tab] = state
	}
	return state
}

func (s *SessionContext) SetStage(tab string, stage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked(tab).Stage = stage
}

func (s *SessionContext) RecordAnswer(tab, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked(tab).Answers[key] = value
}

// ClaimRetry bumps the named counter if it is still below ceiling and
// reports whether it did.
func (s *SessionContext) ClaimRetry(tab, key string, ceiling int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(tab)
	if state.Retries[key] >= ceiling {
		return false
	}
	state.Retries[key]++
	return true
}

// Snapshot copies the tab's stage state for callers outside the turn lock.
func (s *SessionContext) Snapshot(tab string) models.StageState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(tab)
	snap := models.StageState{
		Stage:   state.Stage,
		Retries: make(map[string]int, len(state.Retries)),
		Answers: make(map[string]string, len(state.Answers)),
	}
	for k, v := range state.Retries {
		snap.Retries[k] = v
	}
	for k, v := range state.Answers {
		snap.Answers[k] = v
	}
	return snap
}

// ResetTab drops the tab's log, stage state and document.
func (s *SessionContext) ResetTab(tab string) {
	s.mu.Lock()
	delete(s.states, tab)
	delete(s.documents, tab)
	s.mu.Unlock()

	s.Log.Reset(tab)
}

func (s *SessionContext) SetDocument(tab string, doc models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[tab] = doc
}

func (s *SessionContext) Document(tab string) (models.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[tab]
	return doc, ok
}

// BeginTurn claims the session for one turn. It fails instead of waiting so
// a second concurrent turn is rejected rather than queued.
func (s *SessionContext) BeginTurn() bool {
	if !s.turn.TryLock() {
		return false
	}
	s.Touch()
	return true
}

func (s *SessionContext) EndTurn() {
	s.Touch()
	s.turn.Unlock()
}

func (s *SessionContext) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *SessionContext) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

// StageMachine runs every scripted and chat tab from its declarative stage
// table. All state it touches lives in the SessionContext it is handed.
type StageMachine struct {
	name      string
	evaluator *Evaluator
	chat      *ConversationAgent
	logger    *zap.Logger
}

func NewStageMachine(evaluator *Evaluator, chat *ConversationAgent, logger *zap.Logger) *StageMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageMachine{
		name:      "StageMachine",
		evaluator: evaluator,
		chat:      chat,
		logger:    logger.Named("stages"),
	}
}

func (sm *StageMachine) Name() string {
	return sm.name
}

func (sm *StageMachine) Capabilities() []string {
	return []string{
		"scripted_dialogue",
		"answer_evaluation",
		"fixed_choice_scoring",
		"open_chat",
	}
}

func (sm *StageMachine) CanHandle(kind models.TabKind) bool {
	return kind == models.TabKindScripted || kind == models.TabKindChat
}

func (sm *StageMachine) GetDescription() string {
	return "Walks a tab's stage table, grading answers and falling through to open chat when the script ends"
}

func (sm *StageMachine) ProcessTurn(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, job models.JobRequest, onChunk func(string)) (*models.TurnResult, error) {
	return sm.Advance(ctx, sess, tab, job.UserMessage, onChunk)
}

// Advance consumes one turn. Emit stages pending on arrival are appended
// first; blank input at a waiting stage changes nothing.
func (sm *StageMachine) Advance(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, input string, onChunk func(string)) (*models.TurnResult, error) {
	state := sess.State(tab.ID)
	if ensurePersona(sess, tab) {
		sm.applyPersona(sess, tab, state.Stage)
	}

	result := &models.TurnResult{AgentName: sm.name, TabID: tab.ID, Route: models.RouteNone}
	result.Appended = sm.emitPending(sess, tab, state)
	if len(result.Appended) > 0 {
		result.Route = models.RouteStage
	}

	input = strings.TrimSpace(input)
	switch {
	case input == "":
	case state.Stage >= len(tab.Stages):
		msgs, err := sm.chat.Chat(ctx, sess, tab, input, onChunk)
		if err != nil {
			sm.logger.Debug("open chat degraded", zap.String("tab", tab.ID), zap.Error(err))
		}
		result.Appended = append(result.Appended, msgs...)
		result.Route = models.RouteOpenChat
		result.Streamed = err == nil
	case IsOffTopic(input, offTopicKeywords(tab.OffTopicKeywords)):
		persona, ok := sess.Log.SystemEntry(tab.ID)
		if !ok {
			persona = tab.Persona
		}
		msgs, _ := sm.chat.PersonaReply(ctx, sess, tab, persona, input)
		result.Appended = append(result.Appended, msgs...)
		result.Route = models.RouteOffTopic
		sm.logger.Debug("off-topic turn", zap.String("tab", tab.ID), zap.Int("stage", state.Stage))
	default:
		result.Appended = append(result.Appended, sm.answer(ctx, sess, tab, state, input)...)
		result.Appended = append(result.Appended, sm.emitPending(sess, tab, state)...)
		result.Route = models.RouteStage
	}

	result.Stage = state.Stage
	result.Terminal = state.Stage >= len(tab.Stages)
	return result, nil
}

// emitPending appends every emit stage reachable from the current one.
func (sm *StageMachine) emitPending(sess *services.SessionContext, tab *models.TabSpec, state *models.StageState) []models.Message {
	var appended []models.Message
	for state.Stage < len(tab.Stages) {
		stage := &tab.Stages[state.Stage]
		if stage.Kind != models.StageKindEmit {
			break
		}
		appended = append(appended, sm.say(sess, tab, stage.Messages...)...)
		services.ObserveStageOutcome(tab.ID, string(stage.Kind), "emitted")
		sm.moveTo(sess, tab, state, stage.NextIndex(state.Stage))
	}
	return appended
}

func (sm *StageMachine) answer(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, state *models.StageState, input string) []models.Message {
	idx := state.Stage
	stage := &tab.Stages[idx]
	appended := []models.Message{sess.Log.AddUser(tab.ID, input)}

	var outcome string
	switch {
	case stage.Kind == models.StageKindFixedChoice:
		var msgs []models.Message
		outcome, msgs = sm.answerChoice(sess, tab, state, stage, input)
		appended = append(appended, msgs...)
	case stage.Rubric == "":
		sess.RecordAnswer(tab.ID, captureKey(stage, idx), input)
		appended = append(appended, sm.say(sess, tab, stage.Success...)...)
		appended = append(appended, sm.say(sess, tab, stage.Milestone...)...)
		outcome = "captured"
	default:
		var msgs []models.Message
		outcome, msgs = sm.answerFreeText(ctx, sess, tab, state, stage, input)
		appended = append(appended, msgs...)
	}

	if outcome != "retry" {
		sm.moveTo(sess, tab, state, stage.NextIndex(idx))
	}

	services.ObserveStageOutcome(tab.ID, string(stage.Kind), outcome)
	sm.logger.Debug("stage answered",
		zap.String("session", sess.ID),
		zap.String("tab", tab.ID),
		zap.Int("from", idx),
		zap.Int("to", state.Stage),
		zap.String("outcome", outcome))
	return appended
}

func (sm *StageMachine) answerChoice(sess *services.SessionContext, tab *models.TabSpec, state *models.StageState, stage *models.Stage, input string) (string, []models.Message) {
	q := stage.Question
	if ScoreChoice(q, input) {
		msgs := sm.say(sess, tab, stage.Success...)
		return "correct", append(msgs, sm.say(sess, tab, stage.Milestone...)...)
	}

	if sess.ClaimRetry(tab.ID, stage.CounterKey(state.Stage), stage.RetryCeiling()) {
		return "retry", sm.say(sess, tab, RetryMessage(q, input))
	}

	msgs := sm.say(sess, tab, ForcedMessage(q, input))
	return "forced", append(msgs, sm.say(sess, tab, stage.Milestone...)...)
}

func (sm *StageMachine) answerFreeText(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, state *models.StageState, stage *models.Stage, input string) (string, []models.Message) {
	idx := state.Stage
	sess.RecordAnswer(tab.ID, captureKey(stage, idx), input)

	verdict := sm.evaluator.Evaluate(ctx, EvaluationRequest{
		Rubric:           stage.Rubric,
		UserLabel:        stage.UserLabel,
		UserText:         input,
		Answers:          sess.Snapshot(tab.ID).Answers,
		Model:            pickModel(tab.Evaluator.Model, sess.Model),
		Temperature:      tab.Evaluator.Temperature,
		MaxTokens:        tab.Evaluator.MaxTokens,
		FallbackFeedback: stage.FallbackFeedback,
	})
	msgs := sm.say(sess, tab, verdict.Feedback)

	if verdict.IsCorrect {
		msgs = append(msgs, sm.say(sess, tab, stage.Success...)...)
		return "correct", append(msgs, sm.say(sess, tab, stage.Milestone...)...)
	}

	if sess.ClaimRetry(tab.ID, stage.CounterKey(idx), stage.RetryCeiling()) {
		return "retry", append(msgs, sm.say(sess, tab, stage.Nudge)...)
	}

	msgs = append(msgs, sm.say(sess, tab, stage.Encouragement)...)
	return "forced", append(msgs, sm.say(sess, tab, stage.Milestone...)...)
}

// moveTo enters stage idx and upserts the persona that stage asks for.
func (sm *StageMachine) moveTo(sess *services.SessionContext, tab *models.TabSpec, state *models.StageState, idx int) {
	if idx <= state.Stage {
		idx = state.Stage + 1
	}
	sess.SetStage(tab.ID, idx)
	sm.applyPersona(sess, tab, idx)
}

func (sm *StageMachine) applyPersona(sess *services.SessionContext, tab *models.TabSpec, idx int) {
	switch {
	case idx < len(tab.Stages) && tab.Stages[idx].Persona != "":
		sess.Log.SetSystemEntry(tab.ID, strings.TrimSpace(tab.Stages[idx].Persona))
	case idx >= len(tab.Stages) && tab.ChatPersona != "":
		sess.Log.SetSystemEntry(tab.ID, tab.ChatPersona)
	}
}

// say appends the non-blank texts as assistant entries.
func (sm *StageMachine) say(sess *services.SessionContext, tab *models.TabSpec, texts ...string) []models.Message {
	var out []models.Message
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, sess.Log.AddAssistant(tab.ID, text))
	}
	return out
}

func captureKey(stage *models.Stage, idx int) string {
	if stage.CaptureAs != "" {
		return stage.CaptureAs
	}
	if stage.Name != "" {
		return stage.Name
	}
	return stage.CounterKey(idx)
}

package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferrosa-tutor/work-flows/models"
)

func TestQuizRetryThenCorrect(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{stream: []string{"Happy ", "to help!"}}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "stress_quiz")

	res, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)
	require.Len(t, res.Appended, 1)
	assert.Contains(t, res.Appended[0].Content, "Welcome to the final session")
	assert.Equal(t, 1, res.Stage)

	res, err = sm.Advance(ctx, sess, tab, "4", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RouteStage, res.Route)
	assert.Equal(t, 1, res.Stage)
	assert.Equal(t, []string{"4", RetryMessage(tab.Stages[1].Question, "4")}, contents(res.Appended))
	assert.Equal(t, 1, sess.State(tab.ID).Retries["q1_retry"])

	res, err = sm.Advance(ctx, sess, tab, "2", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	assert.Equal(t, "2", res.Appended[0].Content)
	assert.Equal(t, tab.Stages[1].Success[0], res.Appended[1].Content)
	assert.Equal(t, tab.Stages[1].Milestone[0], res.Appended[2].Content)

	res, err = sm.Advance(ctx, sess, tab, "demands and resources", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stage)
	assert.True(t, res.Terminal)
	assert.Zero(t, fc.requestCount())

	var chunks []string
	res, err = sm.Advance(ctx, sess, tab, "How do I breathe slowly?", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, models.RouteOpenChat, res.Route)
	assert.True(t, res.Streamed)
	assert.Equal(t, []string{"How do I breathe slowly?", "Happy to help!"}, contents(res.Appended))
	assert.Equal(t, []string{"Happy ", "to help!"}, chunks)

	req := fc.lastRequest(t)
	assert.Equal(t, models.MessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "How do I breathe slowly?", req.Messages[len(req.Messages)-1].Content)
}

func TestQuizForcedPass(t *testing.T) {
	ctx := context.Background()
	sm := newMachine(&fakeClient{})
	sess := newSession()
	tab := loadTab(t, "stress_quiz")

	_, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)
	_, err = sm.Advance(ctx, sess, tab, "4", nil)
	require.NoError(t, err)

	res, err := sm.Advance(ctx, sess, tab, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	assert.Equal(t, []string{
		"1",
		ForcedMessage(tab.Stages[1].Question, "1"),
		tab.Stages[1].Milestone[0],
	}, contents(res.Appended))
}

func TestArrivalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sm := newMachine(&fakeClient{})
	sess := newSession()
	tab := loadTab(t, "stress_solutions")

	first, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.Appended)
	logLen := sess.Log.Len(tab.ID)

	second, err := sm.Advance(ctx, sess, tab, "   ", nil)
	require.NoError(t, err)
	assert.Empty(t, second.Appended)
	assert.Equal(t, models.RouteNone, second.Route)
	assert.Equal(t, first.Stage, second.Stage)
	assert.Equal(t, logLen, sess.Log.Len(tab.ID))

	entries := sess.Log.Entries(tab.ID)
	assert.Equal(t, models.MessageRoleSystem, entries[0].Role)
	assert.Equal(t, tab.Persona, entries[0].Content)
}

func TestOffTopicKeepsStage(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{defaultReply: "That will come in future sessions 😊"}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "stress_quiz")

	_, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)
	_, err = sm.Advance(ctx, sess, tab, "2", nil)
	require.NoError(t, err)
	require.Equal(t, 2, sess.State(tab.ID).Stage)

	res, err := sm.Advance(ctx, sess, tab, "Can you tell me about cricket?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RouteOffTopic, res.Route)
	assert.Equal(t, 2, res.Stage)
	assert.Zero(t, sess.State(tab.ID).Retries["q2_retry"])
	assert.Equal(t, []string{"Can you tell me about cricket?", "That will come in future sessions 😊"}, contents(res.Appended))

	req := fc.lastRequest(t)
	assert.Equal(t, []models.Message{
		{Role: models.MessageRoleSystem, Content: tab.Persona},
		{Role: models.MessageRoleUser, Content: "Can you tell me about cricket?"},
	}, req.Messages)
}

func TestStressorsEvaluation(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{replies: []string{
		`{"feedback": "Money is a real stressor. Can you add two more?", "is_correct": false}`,
		"```json\n{\"feedback\": \"Thank you! Money, time and family.\", \"is_correct\": true}\n```",
		`{"feedback": "Your sister is a great resource.", "is_correct": true}`,
	}}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "stress_stressors")
	stage := tab.Stages[1]

	_, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)

	res, err := sm.Advance(ctx, sess, tab, "money", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stage)
	assert.Equal(t, []string{"money", "Money is a real stressor. Can you add two more?", stage.Nudge}, contents(res.Appended))
	assert.Equal(t, 1, sess.State(tab.ID).Retries["stressors_retry"])

	res, err = sm.Advance(ctx, sess, tab, "money, time, family", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	assert.Equal(t, "Thank you! Money, time and family.", res.Appended[1].Content)
	assert.Equal(t, "money, time, family", sess.State(tab.ID).Answers["stressors"])

	evalReq := fc.lastRequest(t)
	assert.Equal(t, "User's stressors: money, time, family", evalReq.Messages[1].Content)

	res, err = sm.Advance(ctx, sess, tab, "my sister helps me", nil)
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	evalReq = fc.lastRequest(t)
	assert.Contains(t, evalReq.Messages[0].Content, "money, time, family")
	assert.NotContains(t, evalReq.Messages[0].Content, "{answers.stressors}")
}

func TestStressorsScenario(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{replies: []string{
		`{"feedback": "Thank you! Money, time and family are real stressors.", "is_correct": true}`,
		`{"feedback": "A resource can be a person or a skill.", "is_correct": false}`,
		`{"feedback": "Think of someone who helps you.", "is_correct": false}`,
	}}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "stress_stressors")
	stressors, resources := tab.Stages[1], tab.Stages[2]

	res, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stage)
	assert.Equal(t, tab.Stages[0].Messages, contents(res.Appended))

	res, err = sm.Advance(ctx, sess, tab, "money, time, family", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	want := append([]string{"money, time, family", "Thank you! Money, time and family are real stressors."}, stressors.Milestone...)
	assert.Equal(t, want, contents(res.Appended))

	res, err = sm.Advance(ctx, sess, tab, "idk", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	assert.False(t, res.Terminal)
	assert.Equal(t, []string{"idk", "A resource can be a person or a skill.", resources.Nudge}, contents(res.Appended))
	assert.Equal(t, 1, sess.Snapshot(tab.ID).Retries["resources_retry"])

	res, err = sm.Advance(ctx, sess, tab, "idk", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stage)
	assert.True(t, res.Terminal)
	want = append([]string{"idk", "Think of someone who helps you.", resources.Encouragement}, resources.Milestone...)
	assert.Equal(t, want, contents(res.Appended))
	assert.Equal(t, 1, sess.Snapshot(tab.ID).Retries["resources_retry"])
}

func TestEvaluatorFailureCountsAsIncorrect(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{syncErr: errors.New("503")}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "stress_stressors")
	stage := tab.Stages[1]

	_, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)

	res, err := sm.Advance(ctx, sess, tab, "money, time, family", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stage)
	assert.Equal(t, []string{"money, time, family", stage.FallbackFeedback, stage.Nudge}, contents(res.Appended))

	res, err = sm.Advance(ctx, sess, tab, "money, time, family", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	assert.Equal(t, stage.FallbackFeedback, res.Appended[1].Content)
	assert.Equal(t, stage.Encouragement, res.Appended[2].Content)
}

func TestRoleIntegrationCaptureAndChatPersona(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{replies: []string{`{"feedback": "Patience is a strength.", "is_correct": false}`}}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "role_integration")

	_, err := sm.Advance(ctx, sess, tab, "", nil)
	require.NoError(t, err)

	res, err := sm.Advance(ctx, sess, tab, "Mother, Businesswoman", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stage)
	assert.Equal(t, "Mother, Businesswoman", sess.State(tab.ID).Answers["roles"])
	assert.Zero(t, fc.requestCount())

	// max_retries 0: a wrong answer passes straight on.
	res, err = sm.Advance(ctx, sess, tab, "patience", nil)
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Contains(t, fc.lastRequest(t).Messages[0].Content, "Mother, Businesswoman")

	system, ok := sess.Log.SystemEntry(tab.ID)
	require.True(t, ok)
	assert.Equal(t, tab.ChatPersona, system)
}

func TestOpenChatErrorIsSubstituted(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{streamErr: errors.New("upstream timeout")}
	sm := newMachine(fc)
	sess := newSession()
	tab := loadTab(t, "legal_consulting")

	res, err := sm.Advance(ctx, sess, tab, "What is khula?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RouteOpenChat, res.Route)
	assert.False(t, res.Streamed)
	require.Len(t, res.Appended, 2)
	assert.Equal(t, "⚠️ Error: upstream timeout", res.Appended[1].Content)

	last, ok := sess.Log.LastAssistant(tab.ID)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(last, errorPrefix))
}

func TestEveryScriptedTabTerminates(t *testing.T) {
	for _, id := range []string{"stress_stressors", "stress_solutions", "stress_quiz", "role_integration"} {
		t.Run(id, func(t *testing.T) {
			ctx := context.Background()
			fc := &fakeClient{defaultReply: `{"feedback": "Not yet.", "is_correct": false}`}
			sm := newMachine(fc)
			sess := newSession()
			tab := loadTab(t, id)

			res, err := sm.Advance(ctx, sess, tab, "", nil)
			require.NoError(t, err)

			lastStage := res.Stage
			for turn := 0; turn < 20 && !res.Terminal; turn++ {
				res, err = sm.Advance(ctx, sess, tab, "1", nil)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, res.Stage, lastStage)
				lastStage = res.Stage
			}
			assert.True(t, res.Terminal, "tab %s never reached open chat", id)
			assert.Equal(t, len(tab.Stages), res.Stage)
		})
	}
}

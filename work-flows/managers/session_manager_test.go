package managers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferrosa-tutor/utils"
	"ferrosa-tutor/work-flows/agents"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

type cannedClient struct {
	reply  string
	stream []string
	delay  time.Duration
}

func (c *cannedClient) Provider() string { return "canned" }

func (c *cannedClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return models.LLMReply{}, ctx.Err()
		}
	}
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

func newTestManager(t *testing.T, c *cannedClient) *SessionManager {
	t.Helper()
	tabs, err := utils.LoadTabConfig("")
	require.NoError(t, err)

	am := agents.NewManager(c, agents.ManagerOptions{Model: "test-model"}, nil)
	translator := services.NewTranslatorWithFunc("en", "ur", func(text, source, target string) (string, error) {
		return target + ":" + text, nil
	})
	return NewSessionManager(am, tabs, Options{
		Model:      "test-model",
		TTL:        time.Hour,
		ExportDir:  t.TempDir(),
		Translator: translator,
	}, nil)
}

func TestSessionLifecycle(t *testing.T) {
	sm := newTestManager(t, &cannedClient{})

	sess := sm.CreateSession("")
	assert.Equal(t, "test-model", sess.Model)
	assert.Equal(t, 1, sm.SessionCount())

	other := sm.CreateSession("openai/gpt-4o")
	assert.Equal(t, "openai/gpt-4o", other.Model)
	assert.NotEqual(t, sess.ID, other.ID)

	got, err := sm.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	sm.DeleteSession(sess.ID)
	_, err = sm.GetSession(sess.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Equal(t, 1, sm.SessionCount())
}

func TestRunTurnErrors(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, &cannedClient{})
	sess := sm.CreateSession("")

	_, err := sm.RunTurn(ctx, "missing", models.JobRequest{TabID: "stress_quiz"}, nil)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = sm.RunTurn(ctx, sess.ID, models.JobRequest{TabID: "branding"}, nil)
	assert.ErrorIs(t, err, models.ErrTabNotFound)

	require.True(t, sess.BeginTurn())
	_, err = sm.RunTurn(ctx, sess.ID, models.JobRequest{TabID: "stress_quiz", UserMessage: "2"}, nil)
	assert.ErrorIs(t, err, models.ErrTurnInProgress)
	assert.ErrorIs(t, sm.ResetTab(sess.ID, "stress_quiz"), models.ErrTurnInProgress)
	sess.EndTurn()
}

func TestQuizThroughManager(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, &cannedClient{})
	sess := sm.CreateSession("")

	res, err := sm.OpenTab(ctx, sess.ID, "stress_quiz")
	require.NoError(t, err)
	assert.Len(t, res.Appended, 1)

	_, err = sm.RunTurn(ctx, sess.ID, models.JobRequest{TabID: "stress_quiz", UserMessage: "4"}, nil)
	require.NoError(t, err)

	view, err := sm.TabView(sess.ID, "stress_quiz")
	require.NoError(t, err)
	assert.Equal(t, 1, view.State.Stage)
	assert.Equal(t, 1, view.State.Retries["q1_retry"])
	assert.False(t, view.Terminal)
	assert.Len(t, view.Entries, 3)
	assert.Equal(t, 1, view.Stats["user_messages"])

	require.NoError(t, sm.ResetTab(sess.ID, "stress_quiz"))
	view, err = sm.TabView(sess.ID, "stress_quiz")
	require.NoError(t, err)
	assert.Zero(t, view.State.Stage)
	assert.Empty(t, view.Entries)
}

func TestTabViewDuringSlowEvaluation(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, &cannedClient{
		reply: `{"feedback": "Money, time and family are real stressors.", "is_correct": true}`,
		delay: 50 * time.Millisecond,
	})
	sess := sm.CreateSession("")
	_, err := sm.OpenTab(ctx, sess.ID, "stress_stressors")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sm.RunTurn(ctx, sess.ID, models.JobRequest{TabID: "stress_stressors", UserMessage: "money, time, family"}, nil)
		done <- err
	}()

	for running := true; running; {
		select {
		case err := <-done:
			require.NoError(t, err)
			running = false
		default:
			view, err := sm.TabView(sess.ID, "stress_stressors")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, view.State.Stage, 1)
			time.Sleep(5 * time.Millisecond)
		}
	}

	view, err := sm.TabView(sess.ID, "stress_stressors")
	require.NoError(t, err)
	assert.Equal(t, 2, view.State.Stage)
	assert.Equal(t, "money, time, family", view.State.Answers["stressors"])
}

func TestEvictIdleSkipsBusySessions(t *testing.T) {
	sm := newTestManager(t, &cannedClient{})
	idle := sm.CreateSession("")
	busy := sm.CreateSession("")
	require.True(t, busy.BeginTurn())
	defer busy.EndTurn()

	sm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, sm.EvictIdle())

	_, err := sm.GetSession(idle.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = sm.GetSession(busy.ID)
	assert.NoError(t, err)

	sm.now = time.Now
	assert.Zero(t, sm.EvictIdle())
}

func TestRemovalHooks(t *testing.T) {
	sm := newTestManager(t, &cannedClient{})
	var removed []string
	sm.OnSessionRemoved(func(id string) { removed = append(removed, id) })

	idle := sm.CreateSession("")
	deleted := sm.CreateSession("")

	sm.DeleteSession(deleted.ID)
	sm.DeleteSession("missing")
	assert.Equal(t, []string{deleted.ID}, removed)

	sm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.Equal(t, 1, sm.EvictIdle())
	assert.Equal(t, []string{deleted.ID, idle.ID}, removed)
}

func TestRunStopsWithContext(t *testing.T) {
	sm := newTestManager(t, &cannedClient{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDraftAndExport(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, &cannedClient{stream: []string{"IN THE FAMILY COURT"}})
	sess := sm.CreateSession("")

	_, err := sm.Export(sess.ID, "petition_drafting")
	assert.ErrorIs(t, err, models.ErrNoDocument)

	_, err = sm.RunTurn(ctx, sess.ID, models.JobRequest{
		TabID: "petition_drafting",
		Fields: map[string]string{
			"petitioner": "Ayesha",
			"respondent": "Imran",
			"facts":      "Left in 2021",
			"relief":     "Khula",
		},
	}, nil)
	require.NoError(t, err)

	filename, doc, err := sm.Document(sess.ID, "petition_drafting")
	require.NoError(t, err)
	assert.Equal(t, "legal_petition.txt", filename)
	assert.Equal(t, "IN THE FAMILY COURT", doc.Content)

	path, err := sm.Export(sess.ID, "petition_drafting")
	require.NoError(t, err)
	assert.Equal(t, "legal_petition.txt", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "IN THE FAMILY COURT", string(data))

	view, err := sm.TabView(sess.ID, "petition_drafting")
	require.NoError(t, err)
	assert.True(t, view.HasDocument)
}

func TestTranslateLast(t *testing.T) {
	ctx := context.Background()
	sm := newTestManager(t, &cannedClient{stream: []string{"Khula is a wife's right."}})
	sess := sm.CreateSession("")

	_, err := sm.TranslateLast(sess.ID, "legal_consulting", "")
	assert.Error(t, err)

	_, err = sm.RunTurn(ctx, sess.ID, models.JobRequest{TabID: "legal_consulting", UserMessage: "What is khula?"}, nil)
	require.NoError(t, err)

	out, err := sm.TranslateLast(sess.ID, "legal_consulting", "")
	require.NoError(t, err)
	assert.Equal(t, "ur:Khula is a wife's right.", out)

	out, err = sm.TranslateLast(sess.ID, "legal_consulting", "ar")
	require.NoError(t, err)
	assert.Equal(t, "ar:Khula is a wife's right.", out)
	assert.Equal(t, "ur", sm.TranslateTarget())
}

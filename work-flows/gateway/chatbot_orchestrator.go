package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ferrosa-tutor/utils"
	"ferrosa-tutor/work-flows/managers"
	"ferrosa-tutor/work-flows/models"
)

// ChatbotOrchestrator is the interactive terminal front end. It owns one
// session and walks the user through tabs.
type ChatbotOrchestrator struct {
	sessions  *managers.SessionManager
	sessionID string
	tab       *models.TabSpec

	reader *bufio.Reader
	out    io.Writer
	title  cases.Caser

	yellow *color.Color
	green  *color.Color
	cyan   *color.Color
	white  *color.Color
}

func NewChatbotOrchestrator(sessions *managers.SessionManager, in io.Reader, out io.Writer) *ChatbotOrchestrator {
	return &ChatbotOrchestrator{
		sessions: sessions,
		reader:   bufio.NewReader(in),
		out:      out,
		title:    cases.Title(language.English),
		yellow:   color.New(color.FgYellow, color.Bold),
		green:    color.New(color.FgGreen),
		cyan:     color.New(color.FgCyan),
		white:    color.New(color.FgWhite),
	}
}

// StartConversation runs the session until the user quits or input ends.
// An empty tabID shows the tab picker first.
func (co *ChatbotOrchestrator) StartConversation(ctx context.Context, tabID string) error {
	sess := co.sessions.CreateSession("")
	co.sessionID = sess.ID

	co.cyan.Fprintln(co.out, "🌸 Ferrosa Tutor")
	co.white.Fprintf(co.out, "Session %s, model %s\n", sess.ID, sess.Model)

	if tabID == "" {
		co.listTabs()
		picked, ok := co.prompt("\n➤ Pick a tab (number or id): ")
		if !ok {
			return nil
		}
		tabID = picked
	}
	if err := co.switchTab(ctx, tabID); err != nil {
		return err
	}

	for {
		input, ok := co.prompt(fmt.Sprintf("\n[%s] ➤ ", co.tab.ID))
		if !ok {
			co.endSession()
			return nil
		}
		if done := co.handleInput(ctx, input); done {
			co.endSession()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleInput treats a line as a command only when the whole line is one,
// or for switch and translate, the command plus a single argument. Anything
// else is the user's answer, even when it starts with a command word.
func (co *ChatbotOrchestrator) handleInput(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	switch {
	case len(fields) == 1:
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return true
		case "help":
			co.showHelp()
			return false
		case "tabs":
			co.listTabs()
			return false
		case "reset":
			co.resetTab(ctx)
			return false
		case "history":
			co.showHistory()
			return false
		case "stats":
			co.showStats()
			return false
		case "draft":
			co.draft(ctx)
			return false
		case "export":
			co.export()
			return false
		case "translate":
			co.translate("")
			return false
		}
	case len(fields) == 2:
		switch strings.ToLower(fields[0]) {
		case "switch":
			if err := co.switchTab(ctx, fields[1]); err != nil {
				utils.FprintError(co.out, err.Error())
			}
			return false
		case "translate":
			co.translate(fields[1])
			return false
		}
	}

	co.runTurn(ctx, models.JobRequest{TabID: co.tab.ID, UserMessage: input})
	return false
}

func (co *ChatbotOrchestrator) prompt(label string) (string, bool) {
	co.white.Fprint(co.out, label)
	line, err := co.reader.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", false
	}
	return strings.TrimSpace(line), true
}

func (co *ChatbotOrchestrator) listTabs() {
	co.yellow.Fprintln(co.out, "\n📋 Tabs:")
	for i, tab := range co.sessions.Tabs().All() {
		co.white.Fprintf(co.out, "%d. %s (%s) - %s\n", i+1, tab.Label, tab.ID, co.title.String(string(tab.Kind)))
	}
}

func (co *ChatbotOrchestrator) resolveTab(arg string) (*models.TabSpec, error) {
	all := co.sessions.Tabs().All()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(all) {
		return all[n-1], nil
	}
	return co.sessions.Tabs().Get(arg)
}

func (co *ChatbotOrchestrator) switchTab(ctx context.Context, arg string) error {
	tab, err := co.resolveTab(arg)
	if err != nil {
		return err
	}
	co.tab = tab
	co.green.Fprintf(co.out, "\n💬 %s\n", tab.Label)
	if tab.InputHint != "" {
		utils.FprintInfo(co.out, tab.InputHint)
	}

	view, err := co.sessions.TabView(co.sessionID, tab.ID)
	if err != nil {
		return err
	}
	for _, msg := range view.Entries {
		co.printEntry(msg)
	}

	result, err := co.sessions.OpenTab(ctx, co.sessionID, tab.ID)
	if err != nil {
		return err
	}
	co.printResult(result)
	return nil
}

func (co *ChatbotOrchestrator) runTurn(ctx context.Context, job models.JobRequest) {
	streaming := false
	result, err := co.sessions.RunTurn(ctx, co.sessionID, job, func(delta string) {
		if !streaming {
			co.green.Fprint(co.out, "\n🤖 ")
			streaming = true
		}
		fmt.Fprint(co.out, delta)
	})
	if streaming {
		fmt.Fprintln(co.out)
	}
	if err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	co.printResult(result)
}

func (co *ChatbotOrchestrator) printResult(result *models.TurnResult) {
	entries := result.Appended
	if result.Streamed && len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	for _, msg := range entries {
		if msg.Role == models.MessageRoleAssistant {
			co.printEntry(msg)
		}
	}
	if result.Disclaimer {
		co.yellow.Fprintln(co.out, "⚠ Answer not grounded in reference material")
	}
}

func (co *ChatbotOrchestrator) printEntry(msg models.Message) {
	switch msg.Role {
	case models.MessageRoleUser:
		co.cyan.Fprintf(co.out, "\n👤 %s\n", msg.Content)
	case models.MessageRoleAssistant:
		co.green.Fprintf(co.out, "\n🤖 %s\n", msg.Content)
	}
}

func (co *ChatbotOrchestrator) resetTab(ctx context.Context) {
	if err := co.sessions.ResetTab(co.sessionID, co.tab.ID); err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	co.green.Fprintln(co.out, "🔄 Tab has been reset!")
	result, err := co.sessions.OpenTab(ctx, co.sessionID, co.tab.ID)
	if err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	co.printResult(result)
}

func (co *ChatbotOrchestrator) showHistory() {
	view, err := co.sessions.TabView(co.sessionID, co.tab.ID)
	if err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	co.yellow.Fprintf(co.out, "\n📜 %s history\n", co.tab.Label)
	for _, msg := range view.Entries {
		co.printEntry(msg)
	}
}

func (co *ChatbotOrchestrator) showStats() {
	view, err := co.sessions.TabView(co.sessionID, co.tab.ID)
	if err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	co.cyan.Fprintln(co.out, "\n📊 Tab Statistics:")
	co.green.Fprintf(co.out, "• Stage: %d of %d\n", view.State.Stage, len(co.tab.Stages))
	co.green.Fprintf(co.out, "• Total messages: %d\n", view.Stats["total_messages"])
	co.green.Fprintf(co.out, "• Your messages: %d\n", view.Stats["user_messages"])
	co.green.Fprintf(co.out, "• My responses: %d\n", view.Stats["bot_messages"])
	co.green.Fprintf(co.out, "• Session ID: %s\n", co.sessionID)
}

func (co *ChatbotOrchestrator) draft(ctx context.Context) {
	if co.tab.Drafting == nil {
		co.yellow.Fprintln(co.out, "❌ This tab has no drafting form.")
		return
	}

	fields := make(map[string]string, len(co.tab.Drafting.Fields))
	for _, f := range co.tab.Drafting.Fields {
		value, ok := co.prompt(fmt.Sprintf("➤ %s: ", f.Label))
		if !ok {
			return
		}
		fields[f.Name] = value
	}
	co.runTurn(ctx, models.JobRequest{Task: "draft", TabID: co.tab.ID, Fields: fields})
}

func (co *ChatbotOrchestrator) export() {
	path, err := co.sessions.Export(co.sessionID, co.tab.ID)
	if err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	utils.FprintExported(co.out, path)
}

func (co *ChatbotOrchestrator) translate(target string) {
	translation, err := co.sessions.TranslateLast(co.sessionID, co.tab.ID, target)
	if err != nil {
		utils.FprintError(co.out, err.Error())
		return
	}
	co.cyan.Fprintln(co.out, "\n🌐 Translation:")
	co.cyan.Fprintln(co.out, "──────────────────────────")
	fmt.Fprintln(co.out, translation)
	co.cyan.Fprintln(co.out, "──────────────────────────")
}

func (co *ChatbotOrchestrator) showHelp() {
	co.yellow.Fprintln(co.out, "\n📖 Available Commands:")
	co.white.Fprintln(co.out, "• tabs - List the tabs")
	co.white.Fprintln(co.out, "• switch <n|id> - Move to another tab")
	co.white.Fprintln(co.out, "• reset - Start the current tab again")
	co.white.Fprintln(co.out, "• history - Show the current tab's conversation")
	co.white.Fprintln(co.out, "• stats - Show conversation statistics")
	co.white.Fprintln(co.out, "• draft - Fill the drafting form (drafting tabs)")
	co.white.Fprintln(co.out, "• export - Save the generated document as text")
	co.white.Fprintln(co.out, "• translate [lang] - Translate the last reply (default Urdu)")
	co.white.Fprintln(co.out, "• quit/exit - End the session")
	co.white.Fprintln(co.out, "• Any other text - Your answer or question")
}

func (co *ChatbotOrchestrator) endSession() {
	if co.tab != nil {
		if view, err := co.sessions.TabView(co.sessionID, co.tab.ID); err == nil {
			co.cyan.Fprintf(co.out, "📈 Messages exchanged: %d (you: %d, me: %d)\n",
				view.Stats["total_messages"], view.Stats["user_messages"], view.Stats["bot_messages"])
		}
	}
	if sess, err := co.sessions.GetSession(co.sessionID); err == nil {
		co.cyan.Fprintf(co.out, "⏱ Session length: %s\n", utils.Elapsed(sess.CreatedAt))
	}
	co.sessions.DeleteSession(co.sessionID)
	utils.FprintSuccess(co.out, "Session ended. Take care! 🌸")
}

package models

import "strconv"

// TabKind selects which agent drives a tab.
type TabKind string

const (
	TabKindScripted  TabKind = "scripted"
	TabKindChat      TabKind = "chat"
	TabKindDrafting  TabKind = "drafting"
	TabKindCitations TabKind = "citations"
)

// StageKind is the behaviour of one scripted stage.
type StageKind string

const (
	StageKindEmit        StageKind = "emit"
	StageKindFixedChoice StageKind = "fixed_choice"
	StageKindFreeText    StageKind = "free_text"
)

const DefaultMaxRetries = 1

// TabSpec is the static description of one tab, decoded from YAML.
type TabSpec struct {
	ID               string        `yaml:"id" json:"id"`
	Label            string        `yaml:"label" json:"label"`
	Kind             TabKind       `yaml:"kind" json:"kind"`
	Order            int           `yaml:"order" json:"order"`
	InputHint        string        `yaml:"input_hint" json:"input_hint,omitempty"`
	Persona          string        `yaml:"persona" json:"-"`
	ChatPersona      string        `yaml:"chat_persona" json:"-"`
	OffTopicKeywords []string      `yaml:"off_topic_keywords" json:"-"`
	Evaluator        LLMSettings   `yaml:"evaluator" json:"-"`
	Chat             LLMSettings   `yaml:"chat" json:"-"`
	Stages           []Stage       `yaml:"stages" json:"-"`
	Drafting         *DraftingSpec `yaml:"drafting" json:"drafting,omitempty"`
	Citations        *CitationSpec `yaml:"citations" json:"-"`
}

// LLMSettings are per-tab sampling parameters. Unset fields use the default;
// temperature is a pointer so 0 can be asked for.
type LLMSettings struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// Stage is one row of a tab's stage table.
type Stage struct {
	Kind    StageKind `yaml:"kind"`
	Name    string    `yaml:"name"`
	Persona string    `yaml:"persona"`
	// Next is the stage entered after success or a forced pass; 0 means index+1.
	Next       int    `yaml:"next"`
	MaxRetries *int   `yaml:"max_retries"`
	RetryKey   string `yaml:"retry_key"`

	// emit
	Messages []string `yaml:"messages"`

	// fixed_choice
	Question *Question `yaml:"question"`

	// free_text
	Rubric           string   `yaml:"rubric"`
	UserLabel        string   `yaml:"user_label"`
	FallbackFeedback string   `yaml:"fallback_feedback"`
	Nudge            string   `yaml:"nudge"`
	Encouragement    string   `yaml:"encouragement"`
	CaptureAs        string   `yaml:"capture_as"`
	Success          []string `yaml:"success"`
	Milestone        []string `yaml:"milestone"`
}

// Question is a fixed-choice question definition.
type Question struct {
	Correct           string   `yaml:"correct"`
	Options           []Option `yaml:"options"`
	AcceptKeywords    []string `yaml:"accept_keywords"`
	Explanation       string   `yaml:"explanation"`
	AnswerExplanation string   `yaml:"answer_explanation"`
	GenericRationale  string   `yaml:"generic_rationale"`
	ForcedRationale   string   `yaml:"forced_rationale"`
}

type Option struct {
	Key       string `yaml:"key"`
	Label     string `yaml:"label"`
	Rationale string `yaml:"rationale"`
}

// DraftingSpec describes a form-driven document generator.
type DraftingSpec struct {
	DocumentLabel string       `yaml:"document_label" json:"document_label"`
	Fields        []DraftField `yaml:"fields" json:"fields"`
	Template      string       `yaml:"template" json:"-"`
}

type DraftField struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required" json:"required"`
}

// CitationSpec configures a retrieval-backed tab.
type CitationSpec struct {
	PromptTemplate string `yaml:"prompt_template"`
	Disclaimer     string `yaml:"disclaimer"`
	TopK           int    `yaml:"top_k"`
}

// RetryCeiling is the number of failed attempts tolerated before a forced pass.
func (s *Stage) RetryCeiling() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// IsWaiting reports whether the stage consumes user input.
func (s *Stage) IsWaiting() bool {
	return s.Kind == StageKindFixedChoice || s.Kind == StageKindFreeText
}

// NextIndex resolves the stage entered after this one at position idx.
func (s *Stage) NextIndex(idx int) int {
	if s.Next > idx {
		return s.Next
	}
	return idx + 1
}

// CounterKey names the retry counter of the stage at position idx.
func (s *Stage) CounterKey(idx int) string {
	if s.RetryKey != "" {
		return s.RetryKey
	}
	if s.Name != "" {
		return s.Name + "_retry"
	}
	return "stage_" + strconv.Itoa(idx) + "_retry"
}

// StageState is the per-tab position of a session in its stage table.
type StageState struct {
	Stage   int               `json:"stage"`
	Retries map[string]int    `json:"retries"`
	Answers map[string]string `json:"answers"`
}

func NewStageState() *StageState {
	return &StageState{
		Retries: make(map[string]int),
		Answers: make(map[string]string),
	}
}

// Retried reports whether the named counter has been bumped at least once.
func (s *StageState) Retried(key string) bool {
	return s.Retries[key] > 0
}

package models

import "errors"

// Message roles

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

func (r MessageRole) String() string {
	return string(r)
}

// Message is one chat entry of a tab's log.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

type JSONSchemaSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// JSONObjectFormat asks the provider for a bare JSON object reply.
func JSONObjectFormat() *ResponseFormat {
	return &ResponseFormat{Type: "json_object"}
}

// CompletionRequest is the provider-neutral request handed to a client.
// Nil sampling fields are left to the provider default.
type CompletionRequest struct {
	Model          string
	Messages       []Message
	Stream         bool
	Temperature    *float64
	MaxTokens      int
	TopP           *float64
	ResponseFormat *ResponseFormat
}

// LLMReply is what every client returns from a synchronous completion.
type LLMReply struct {
	Text string `json:"text"`
}

// StreamChunk carries one text delta. A chunk with Err set is the last one
// the producer sends before closing the channel.
type StreamChunk struct {
	Content string
	Err     error
}

// EvaluationResult is the parsed verdict of a rubric call.
type EvaluationResult struct {
	Feedback  string `json:"feedback"`
	IsCorrect bool   `json:"is_correct"`
	// Fallback is set when the verdict was substituted after a failed call or parse.
	Fallback bool `json:"-"`
}

// JobRequest is one user turn routed to an agent.
type JobRequest struct {
	Task        string            `json:"task"`
	TabID       string            `json:"tab_id"`
	UserMessage string            `json:"user_message"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// TurnRoute says which path handled a turn.
type TurnRoute string

const (
	RouteNone     TurnRoute = "none"
	RouteStage    TurnRoute = "stage"
	RouteOffTopic TurnRoute = "off_topic"
	RouteOpenChat TurnRoute = "open_chat"
	RouteDraft    TurnRoute = "draft"
	RouteCitation TurnRoute = "citation"
)

// TurnResult reports what a turn appended and where the tab ended up.
type TurnResult struct {
	AgentName  string    `json:"agent_name"`
	TabID      string    `json:"tab_id"`
	Route      TurnRoute `json:"route"`
	Appended   []Message `json:"appended"`
	Stage      int       `json:"stage"`
	Terminal   bool      `json:"terminal"`
	Disclaimer bool      `json:"disclaimer,omitempty"`
	// Streamed is set when the last appended entry was already delivered
	// chunk by chunk.
	Streamed bool `json:"streamed,omitempty"`
}

// Document is a generated artifact that can be exported as plain text.
type Document struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

var (
	ErrTabNotFound     = errors.New("tab not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInProgress  = errors.New("a turn is already in progress for this session")
	ErrNoDocument      = errors.New("no document has been generated for this tab")
	ErrMissingFields   = errors.New("required fields are missing")
)

// ChatRequest is the OpenAI-compatible wire body used by the OpenRouter client.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type StreamResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model,omitzero"`
	Choices []struct {
		Index int `json:"index,omitzero"`
		Delta struct {
			Role    string `json:"role,omitzero"`
			Content string `json:"content,omitzero"`
		} `json:"delta,omitzero"`
		FinishReason *string `json:"finish_reason,omitzero"`
	} `json:"choices,omitzero"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Float returns a pointer to v, for optional sampling fields.
func Float(v float64) *float64 {
	return &v
}

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/client"
	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

const (
	DefaultEvalTemperature  = 0.3
	DefaultEvalMaxTokens    = 400
	DefaultFallbackFeedback = "Thank you for thinking about this."
)

var (
	errNoJSONObject     = errors.New("no JSON object in evaluator reply")
	errMissingFeedback  = errors.New("evaluator reply has no feedback")
	errMissingIsCorrect = errors.New("evaluator reply has no boolean is_correct")
)

// EvaluationRequest is one rubric call.
type EvaluationRequest struct {
	Rubric           string
	UserLabel        string
	UserText         string
	Answers          map[string]string
	Model            string
	Temperature      *float64
	MaxTokens        int
	FallbackFeedback string
}

// Evaluator grades a free-text answer against a rubric with a single
// non-streamed completion.
type Evaluator struct {
	client client.Client
	model  string
	logger *zap.Logger
}

func NewEvaluator(c client.Client, model string, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		client: c,
		model:  model,
		logger: logger.Named("evaluator"),
	}
}

// Evaluate never fails: a transport or parse error yields the fallback
// verdict with IsCorrect false.
func (e *Evaluator) Evaluate(ctx context.Context, req EvaluationRequest) models.EvaluationResult {
	temperature := req.Temperature
	if temperature == nil {
		temperature = models.Float(DefaultEvalTemperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultEvalMaxTokens
	}

	completion := models.CompletionRequest{
		Model: pickModel(req.Model, e.model),
		Messages: []models.Message{
			{Role: models.MessageRoleSystem, Content: RenderRubric(req.Rubric, req.UserText, req.Answers)},
			{Role: models.MessageRoleUser, Content: req.UserLabel + req.UserText},
		},
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: models.JSONObjectFormat(),
	}

	reply, err := e.client.ChatCompletion(ctx, completion)
	if err != nil {
		e.logger.Warn("evaluation call failed", zap.Error(err))
		return e.fallback(req)
	}

	result, err := ParseEvaluation(reply.Text)
	if err != nil {
		e.logger.Warn("evaluation reply rejected", zap.Error(err), zap.String("raw", truncate(reply.Text, 200)))
		return e.fallback(req)
	}

	services.ObserveEvaluation(result.IsCorrect, false)
	e.logger.Debug("evaluation", zap.Bool("is_correct", result.IsCorrect))
	return result
}

func (e *Evaluator) fallback(req EvaluationRequest) models.EvaluationResult {
	services.ObserveEvaluation(false, true)
	feedback := req.FallbackFeedback
	if strings.TrimSpace(feedback) == "" {
		feedback = DefaultFallbackFeedback
	}
	return models.EvaluationResult{Feedback: feedback, IsCorrect: false, Fallback: true}
}

// ParseEvaluation validates a raw evaluator reply: an optional code fence
// around one JSON object holding a non-empty string "feedback" and a boolean
// "is_correct".
func ParseEvaluation(raw string) (models.EvaluationResult, error) {
	cleanJSON := stripCodeFence(strings.TrimSpace(raw))

	start := strings.Index(cleanJSON, "{")
	end := strings.LastIndex(cleanJSON, "}")
	if start < 0 || end <= start {
		return models.EvaluationResult{}, errNoJSONObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleanJSON[start:end+1]), &fields); err != nil {
		return models.EvaluationResult{}, fmt.Errorf("failed to parse evaluation JSON: %w", err)
	}

	var result models.EvaluationResult
	rawFeedback, ok := fields["feedback"]
	if !ok || json.Unmarshal(rawFeedback, &result.Feedback) != nil || strings.TrimSpace(result.Feedback) == "" {
		return models.EvaluationResult{}, errMissingFeedback
	}
	var isCorrect *bool
	rawCorrect, ok := fields["is_correct"]
	if !ok || json.Unmarshal(rawCorrect, &isCorrect) != nil || isCorrect == nil {
		return models.EvaluationResult{}, errMissingIsCorrect
	}
	result.IsCorrect = *isCorrect

	result.Feedback = strings.TrimSpace(result.Feedback)
	return result, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// RenderRubric fills {user_input} and {answers.<name>} placeholders.
func RenderRubric(rubric, userText string, answers map[string]string) string {
	out := strings.ReplaceAll(rubric, "{user_input}", userText)
	for name, value := range answers {
		out = strings.ReplaceAll(out, "{answers."+name+"}", value)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package agents

import (
	"fmt"
	"strings"

	"ferrosa-tutor/work-flows/models"
)

const (
	defaultGenericRationale = "I think that doesn't quite fit."
	defaultForcedRationale  = "That's not quite right."
)

// ScoreChoice accepts the exact option key, or any text that contains every
// accept keyword (the correct label when none are configured), ignoring case.
// "not dangerous" is therefore accepted for "dangerous".
func ScoreChoice(q *models.Question, input string) bool {
	answer := strings.TrimSpace(input)
	if answer == q.Correct {
		return true
	}

	keywords := q.AcceptKeywords
	if len(keywords) == 0 {
		if opt, ok := correctOption(q); ok && opt.Label != "" {
			keywords = []string{opt.Label}
		}
	}
	if len(keywords) == 0 {
		return false
	}

	lower := strings.ToLower(answer)
	for _, kw := range keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

// RetryMessage is shown after a first wrong answer: the option-specific
// rationale followed by the worked explanation.
func RetryMessage(q *models.Question, input string) string {
	rationale := optionRationale(q, input, q.GenericRationale, defaultGenericRationale)
	if q.Explanation == "" {
		return rationale
	}
	return rationale + "\n\n" + q.Explanation
}

// ForcedMessage reveals the answer after the last allowed attempt.
func ForcedMessage(q *models.Question, input string) string {
	rationale := optionRationale(q, input, q.ForcedRationale, defaultForcedRationale)

	label := ""
	if opt, ok := correctOption(q); ok {
		label = opt.Label
	}
	msg := fmt.Sprintf("%s The correct answer is %s. %s.", rationale, q.Correct, label)
	if q.AnswerExplanation != "" {
		msg += "\n\n" + q.AnswerExplanation
	}
	return msg
}

func optionRationale(q *models.Question, input, fallback, def string) string {
	key := strings.TrimSpace(input)
	for _, opt := range q.Options {
		if opt.Key == key && opt.Key != q.Correct && opt.Rationale != "" {
			return opt.Rationale
		}
	}
	if fallback != "" {
		return fallback
	}
	return def
}

func correctOption(q *models.Question) (models.Option, bool) {
	for _, opt := range q.Options {
		if opt.Key == q.Correct {
			return opt, true
		}
	}
	return models.Option{}, false
}

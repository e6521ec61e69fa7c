package agents

import "strings"

// DefaultOffTopicKeywords names other modules, generic question starters and
// unrelated domains. A tab may replace the list with its own.
var DefaultOffTopicKeywords = []string{
	"role integration",
	"branding",
	"money management",
	"marriage",
	"politics",
	"religion",
	"cricket",
	"weather",
	"tell me a joke",
	"who are you",
	"what is your name",
}

// IsOffTopic reports whether text contains any keyword, ignoring case.
// False positives are acceptable: the turn only gets a persona reply instead
// of an evaluation.
func IsOffTopic(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func offTopicKeywords(keywords []string) []string {
	if len(keywords) > 0 {
		return keywords
	}
	return DefaultOffTopicKeywords
}

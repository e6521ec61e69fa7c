package agents

import (
	"context"

	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

// Agent drives the turns of every tab of the kinds it can handle.
type Agent interface {
	Name() string
	Capabilities() []string
	GetDescription() string
	CanHandle(kind models.TabKind) bool
	// ProcessTurn consumes one user turn. An empty job.UserMessage (and no
	// fields) only emits whatever content is pending on arrival. onChunk
	// receives streamed deltas and may be nil.
	ProcessTurn(ctx context.Context, sess *services.SessionContext, tab *models.TabSpec, job models.JobRequest, onChunk func(string)) (*models.TurnResult, error)
}

// ensurePersona seeds the tab's system entry on the first visit.
func ensurePersona(sess *services.SessionContext, tab *models.TabSpec) bool {
	if _, ok := sess.Log.SystemEntry(tab.ID); ok {
		return false
	}
	sess.Log.SetSystemEntry(tab.ID, tab.Persona)
	return true
}

func pickModel(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}


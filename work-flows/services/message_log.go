package services

import (
	"sort"
	"sync"

	"ferrosa-tutor/work-flows/models"
)

// MessageLog holds the ordered chat entries of every tab in one session.
// Entries are only ever appended, except for the system entry which is
// upserted through SetSystemEntry, and whole-tab resets.
type MessageLog struct {
	mu      sync.RWMutex
	entries map[string][]models.Message
}

func NewMessageLog() *MessageLog {
	return &MessageLog{
		entries: make(map[string][]models.Message),
	}
}

// SetSystemEntry replaces the tab's system entry, or inserts it at the front
// when the tab has none yet.
func (ml *MessageLog) SetSystemEntry(tab, content string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	entries := ml.entries[tab]
	for i := range entries {
		if entries[i].Role == models.MessageRoleSystem {
			entries[i] = models.Message{Role: models.MessageRoleSystem, Content: content}
			return
		}
	}

	updated := make([]models.Message, 0, len(entries)+1)
	updated = append(updated, models.Message{Role: models.MessageRoleSystem, Content: content})
	updated = append(updated, entries...)
	ml.entries[tab] = updated
}

// SystemEntry returns the tab's current system content.
func (ml *MessageLog) SystemEntry(tab string) (string, bool) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	for _, msg := range ml.entries[tab] {
		if msg.Role == models.MessageRoleSystem {
			return msg.Content, true
		}
	}
	return "", false
}

func (ml *MessageLog) AddUser(tab, content string) models.Message {
	return ml.add(tab, models.MessageRoleUser, content)
}

func (ml *MessageLog) AddAssistant(tab, content string) models.Message {
	return ml.add(tab, models.MessageRoleAssistant, content)
}

func (ml *MessageLog) add(tab string, role models.MessageRole, content string) models.Message {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	msg := models.Message{Role: role, Content: content}
	ml.entries[tab] = append(ml.entries[tab], msg)
	return msg
}

// Entries returns a copy of the tab's log, system entry included.
func (ml *MessageLog) Entries(tab string) []models.Message {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	entries := ml.entries[tab]
	out := make([]models.Message, len(entries))
	copy(out, entries)
	return out
}

// Transcript returns the entries a user would see: everything but the system entry.
func (ml *MessageLog) Transcript(tab string) []models.Message {
	all := ml.Entries(tab)
	out := all[:0]
	for _, msg := range all {
		if msg.Role != models.MessageRoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

func (ml *MessageLog) Len(tab string) int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.entries[tab])
}

func (ml *MessageLog) LastAssistant(tab string) (string, bool) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	entries := ml.entries[tab]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == models.MessageRoleAssistant {
			return entries[i].Content, true
		}
	}
	return "", false
}

func (ml *MessageLog) Has(tab string) bool {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	_, ok := ml.entries[tab]
	return ok
}

func (ml *MessageLog) Reset(tab string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.entries, tab)
}

func (ml *MessageLog) Tabs() []string {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	tabs := make([]string, 0, len(ml.entries))
	for tab := range ml.entries {
		tabs = append(tabs, tab)
	}
	sort.Strings(tabs)
	return tabs
}

func (ml *MessageLog) GetConversationStats(tab string) map[string]int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	return map[string]int{
		"total_messages": len(ml.entries[tab]),
		"user_messages":  ml.countMessagesByRole(tab, models.MessageRoleUser),
		"bot_messages":   ml.countMessagesByRole(tab, models.MessageRoleAssistant),
	}
}

func (ml *MessageLog) countMessagesByRole(tab string, role models.MessageRole) int {
	count := 0
	for _, msg := range ml.entries[tab] {
		if msg.Role == role {
			count++
		}
	}
	return count
}

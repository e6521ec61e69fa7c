package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferrosa-tutor/work-flows/models"
)

func msg(role models.MessageRole, content string) models.Message {
	return models.Message{Role: role, Content: content}
}

func TestAlternateTurns(t *testing.T) {
	system, turns, err := alternateTurns([]models.Message{
		msg(models.MessageRoleSystem, "You are Zara."),
		msg(models.MessageRoleAssistant, "Welcome!"),
		msg(models.MessageRoleAssistant, "Name 3 stressors."),
		msg(models.MessageRoleUser, "money"),
		msg(models.MessageRoleUser, "time"),
	})
	require.NoError(t, err)
	assert.Equal(t, "You are Zara.", system)
	assert.Equal(t, []models.Message{
		msg(models.MessageRoleUser, "Hello"),
		msg(models.MessageRoleAssistant, "Welcome!\n\nName 3 stressors."),
		msg(models.MessageRoleUser, "money\n\ntime"),
	}, turns)
}

func TestAlternateTurnsRejectsTrailingAssistant(t *testing.T) {
	_, _, err := alternateTurns([]models.Message{
		msg(models.MessageRoleUser, "hi"),
		msg(models.MessageRoleAssistant, "hello"),
	})
	assert.ErrorContains(t, err, "last message must be user role")

	_, _, err = alternateTurns([]models.Message{msg(models.MessageRoleSystem, "only system")})
	assert.Error(t, err)
}

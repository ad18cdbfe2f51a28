package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSnowflake(t *testing.T) {
	assert.True(t, ValidSnowflake("175928847299117063"))
	assert.True(t, ValidSnowflake("1"))
	assert.False(t, ValidSnowflake(""))
	assert.False(t, ValidSnowflake("0"))
	assert.False(t, ValidSnowflake("-5"))
	assert.False(t, ValidSnowflake("guild"))
}

func TestValidateSnowflakeTag(t *testing.T) {
	type model struct {
		GuildID string `params:"guild_id" validate:"required,snowflake"`
	}
	assert.NoError(t, Validate(&model{GuildID: "175928847299117063"}))

	err := Validate(&model{GuildID: "abc"})
	var detail *ErrorDetail
	if assert.ErrorAs(t, err, &detail) {
		assert.Equal(t, "guild_id", (*detail)[0].Field)
		assert.Equal(t, "snowflake", (*detail)[0].Tag)
	}
}

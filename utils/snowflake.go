package utils

import (
	"github.com/bwmarrin/snowflake"
)

// ValidSnowflake reports whether id is a decimal snowflake as used for guild and user ids
func ValidSnowflake(id string) bool {
	parsed, err := snowflake.ParseString(id)
	return err == nil && parsed > 0
}

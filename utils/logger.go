package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var LogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var Logger, _ = zap.Config{
	Level:       LogLevel,
	Development: false,
	Encoding:    "json",
	EncoderConfig: zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	},
	OutputPaths:      []string{"stdout"},
	ErrorOutputPaths: []string{"stderr"},
}.Build()

// GuildLogger scopes log lines to one guild
func GuildLogger(guildID string) *zap.Logger {
	return Logger.With(zap.String("guild_id", guildID))
}

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the production JSON logger used by every component.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logConf := zap.NewProductionConfig()
	logConf.Level = zap.NewAtomicLevelAt(lvl)
	logConf.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	logConf.DisableCaller = true
	return logConf.Build()
}

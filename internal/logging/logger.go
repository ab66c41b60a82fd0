// Package logging builds the crawler's zap loggers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// serviceName tags every production log line so crawler output is
// attributable when it lands in a shared log stream.
const serviceName = "stac-crawler"

// New builds the root logger. Development mode uses a colored console
// encoder; production mode emits JSON with ISO 8601 timestamps and a
// service field. Stacktraces are disabled in production because a crawl
// cycle logs every failed fetch and the traces drown the line.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if !development {
		logger = logger.With(zap.String("service", serviceName))
	}
	return logger, nil
}

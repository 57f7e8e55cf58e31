package logging

import (
	"go.uber.org/zap"
)

type Config struct {
	ServiceName string
	Development bool
}

// New builds a zap logger: JSON at info level in production, console at debug
// level in development. Every entry carries the service name.
func New(cfg Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

// Security logs an event relevant to certificate integrity, such as a
// rejected verification or a bad request signature.
func Security(logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Warn(msg, append(fields, zap.Bool("security_event", true))...)
}

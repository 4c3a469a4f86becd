package config

import (
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zapCfg.Build()
}

// GormLogLevel keeps SQL logging quiet unless debug logging is on.
func GormLogLevel(cfg LogConfig) logger.LogLevel {
	if cfg.Level == "debug" {
		return logger.Info
	}
	return logger.Warn
}

package observability

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the process logger for env, which is one of
// development, test, staging or production. Development and test log
// human-readable lines; staging and production log JSON.
//
// level is the configured minimum level. LOG_LEVEL, when set, takes
// precedence; an empty level keeps the environment's default (debug for
// development and test, info otherwise).
func InitLogger(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "development", "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "staging", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid environment %q: must be development, test, staging or production", env)
	}

	if override := os.Getenv("LOG_LEVEL"); override != "" {
		level = override
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// OpOccFields identifies an op-occ in log entries.
func OpOccFields(opOccID, instanceID, operation string) []zap.Field {
	return []zap.Field{
		zap.String("vnf_lcm_op_occ_id", opOccID),
		zap.String("vnf_instance_id", instanceID),
		zap.String("operation", operation),
	}
}

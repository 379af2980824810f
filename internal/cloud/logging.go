package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go/logging"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/create-ota-job/internal/logger"
)

// DefaultSDKLogLevel keeps SDK output to warnings such as deprecated usage.
const DefaultSDKLogLevel = zapcore.WarnLevel

// sdkLogger forwards AWS SDK log lines to the context logger.
type sdkLogger struct {
	ctx context.Context //nolint:containedctx // The SDK logger interface has no context parameter.
}

// NewSDKLogger returns an SDK logger writing under the aws-sdk name at level,
// regardless of the level of the run logger.
func NewSDKLogger(ctx context.Context, level zapcore.Level) logging.Logger {
	ctx = logger.WithName(ctx, "aws-sdk")

	return &sdkLogger{ctx: logger.WithLevelContext(ctx, level)}
}

// Logf implements logging.Logger.
func (l *sdkLogger) Logf(classification logging.Classification, format string, v ...any) {
	if classification == logging.Warn {
		logger.Warnf(l.ctx, format, v...)

		return
	}

	logger.Debugf(l.ctx, format, v...)
}

// sdkLogMode returns the client log mode worth enabling at level.
func sdkLogMode(level zapcore.Level) aws.ClientLogMode {
	if level > zapcore.DebugLevel {
		return 0
	}

	return aws.LogRetries | aws.LogDeprecatedUsage
}

// parseSDKLogLevel maps an SDK log level name, empty meaning DefaultSDKLogLevel.
func parseSDKLogLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return DefaultSDKLogLevel, nil
	}

	level, ok := logger.ParseLogLevel(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", logger.ErrUnknownLevel, name)
	}

	return level, nil
}

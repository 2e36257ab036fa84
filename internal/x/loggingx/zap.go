package loggingx

import (
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap returns a logger that writes log messages to a zap logger.
//
// Log messages are written at the "info" level, debug messages at the "debug"
// level. IsDebug() reports whether the zap logger has debug logging enabled.
func Zap(target *zap.Logger) logging.Logger {
	return &zapLogger{target.WithOptions(zap.AddCallerSkip(1))}
}

type zapLogger struct {
	target *zap.Logger
}

func (l *zapLogger) Log(f string, v ...interface{}) {
	l.target.Info(fmt.Sprintf(f, v...))
}

func (l *zapLogger) LogString(s string) {
	l.target.Info(s)
}

func (l *zapLogger) Debug(f string, v ...interface{}) {
	if l.IsDebug() {
		l.target.Debug(fmt.Sprintf(f, v...))
	}
}

func (l *zapLogger) DebugString(s string) {
	l.target.Debug(s)
}

func (l *zapLogger) IsDebug() bool {
	return l.target.Core().Enabled(zapcore.DebugLevel)
}

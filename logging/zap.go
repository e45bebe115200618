package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger is the default kernel logger, backed by zap.
type StandardLogger struct {
	internal *zap.Logger
	level    *zap.AtomicLevel
}

// New returns a new StandardLogger writing human-readable console output at
// info level.
func New() *StandardLogger {
	return newWithEncoding("console")
}

// NewJSON returns a new StandardLogger writing structured JSON lines.
func NewJSON() *StandardLogger {
	return newWithEncoding("json")
}

func newWithEncoding(encoding string) *StandardLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg := zap.Config{
		Level:            level,
		Encoding:         encoding,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op zap logger; the kernel must never fail to
		// start because of a logging misconfiguration.
		l = zap.NewNop()
	}

	return &StandardLogger{internal: l, level: &level}
}

func (l *StandardLogger) Debug(f string, a ...interface{}) { l.internal.Debug(fmt.Sprintf(f, a...)) }
func (l *StandardLogger) Info(f string, a ...interface{})  { l.internal.Info(fmt.Sprintf(f, a...)) }
func (l *StandardLogger) Warn(f string, a ...interface{})  { l.internal.Warn(fmt.Sprintf(f, a...)) }
func (l *StandardLogger) Error(f string, a ...interface{}) { l.internal.Error(fmt.Sprintf(f, a...)) }

// WithFields provides additional fields to include in log output.
func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	return &StandardLogger{internal: l.internal.With(toZapFields(fields)...), level: l.level}
}

// GetFields is unsupported for the zap binding; zap does not expose the
// fields attached to a logger, so this always returns nil. Use EntryLogger
// in tests that need to assert on attached fields.
func (l *StandardLogger) GetFields() map[string]interface{} { return nil }

// GetLevel returns the current logging level.
func (l *StandardLogger) GetLevel() Level {
	switch l.internal.Level() {
	case zapcore.ErrorLevel:
		return Error
	case zapcore.WarnLevel:
		return Warn
	case zapcore.DebugLevel:
		return Debug
	default:
		return Info
	}
}

// SetLevel sets the logging level.
func (l *StandardLogger) SetLevel(lvl Level) {
	switch lvl {
	case Error:
		l.level.SetLevel(zapcore.ErrorLevel)
	case Warn:
		l.level.SetLevel(zapcore.WarnLevel)
	case Info:
		l.level.SetLevel(zapcore.InfoLevel)
	case Debug:
		l.level.SetLevel(zapcore.DebugLevel)
	}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case error:
			out = append(out, zap.NamedError(k, t))
		case string:
			out = append(out, zap.String(k, t))
		case bool:
			out = append(out, zap.Bool(k, t))
		case int:
			out = append(out, zap.Int(k, t))
		case int64:
			out = append(out, zap.Int64(k, t))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// Package zaplogger backs logger.Logger with a *zap.Logger.
package zaplogger

import (
	"github.com/hugolhafner/go-transformer/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ logger.Base = (*ZapLogger)(nil)

type ZapLogger struct {
	l *zap.Logger
}

func New(l *zap.Logger) logger.Logger {
	return logger.WrapLogger(&ZapLogger{l: l})
}

// zap's debug..error run one below ours.
const levelOffset = int(logger.DebugLevel) - int(zapcore.DebugLevel)

func toZap(level logger.LogLevel) zapcore.Level {
	if level < logger.DebugLevel || level > logger.ErrorLevel {
		return zapcore.InfoLevel
	}
	return zapcore.Level(int(level) - levelOffset)
}

// fromZap folds dpanic, panic and fatal into ErrorLevel.
func fromZap(level zapcore.Level) logger.LogLevel {
	lvl := logger.LogLevel(int(level) + levelOffset)
	return max(logger.DebugLevel, min(lvl, logger.ErrorLevel))
}

func (z *ZapLogger) Level() logger.LogLevel {
	return fromZap(z.l.Level())
}

func (z *ZapLogger) Log(level logger.LogLevel, msg string, kv ...any) {
	z.l.Log(toZap(level), msg, fields(kv)...)
}

func (z *ZapLogger) With(kv ...any) logger.Base {
	return &ZapLogger{l: z.l.With(fields(kv)...)}
}

// fields converts key-value pairs to zap fields. Pairs with a non-string
// key and a trailing unpaired value are dropped.
func fields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, ok := kv[i+1].(error); ok {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}

package kafka

import (
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ kgo.Logger = kgoLogger{}

// kgoLogger forwards franz-go client logs to a logger.Logger.
type kgoLogger struct {
	l logger.Logger
}

// levelPairs maps our levels onto franz-go's. Anything unmapped is treated
// as a warning in both directions.
var levelPairs = [...]struct {
	ours   logger.LogLevel
	theirs kgo.LogLevel
}{
	{logger.DebugLevel, kgo.LogLevelDebug},
	{logger.InfoLevel, kgo.LogLevelInfo},
	{logger.WarnLevel, kgo.LogLevelWarn},
	{logger.ErrorLevel, kgo.LogLevelError},
}

func (kl kgoLogger) Level() kgo.LogLevel {
	lvl := kl.l.Level()
	for _, p := range levelPairs {
		if p.ours == lvl {
			return p.theirs
		}
	}
	return kgo.LogLevelWarn
}

func (kl kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	lvl := logger.WarnLevel
	for _, p := range levelPairs {
		if p.theirs == level {
			lvl = p.ours
			break
		}
	}
	kl.l.Log(lvl, msg, keyvals...)
}

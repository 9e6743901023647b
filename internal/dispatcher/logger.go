package dispatcher

import (
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

var _ retryablehttp.LeveledLogger = leveledLogger{}

// leveledLogger adapts a zerolog.Logger to retryablehttp's LeveledLogger
// interface so retry diagnostics land in the engine's structured log stream
// instead of being silenced.
type leveledLogger struct {
	logger zerolog.Logger
}

func newLeveledLogger(logger zerolog.Logger) leveledLogger {
	return leveledLogger{logger: logger}
}

func (l leveledLogger) withFields(e *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.withFields(l.logger.Error(), keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.withFields(l.logger.Warn(), keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.withFields(l.logger.Info(), keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.withFields(l.logger.Debug(), keysAndValues).Msg(msg)
}

package app

import (
	logging "github.com/ipfs/go-log/v2"
	pionlog "github.com/pion/logging"
)

// pionLoggerFactory routes pion's internal logs into go-log, one subsystem
// per pion scope ("pion/ice", "pion/dtls", ...). They stay at go-log's
// default level unless raised with GOLOG_LOG_LEVEL or logging.SetLogLevel.
type pionLoggerFactory struct{}

func (pionLoggerFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return pionLogger{logging.Logger("pion/" + scope)}
}

// pionLogger adds the trace level go-log lacks; traces go to debug.
type pionLogger struct {
	*logging.ZapEventLogger
}

func (l pionLogger) Trace(msg string)               { l.Debug(msg) }
func (l pionLogger) Tracef(format string, a ...any) { l.Debugf(format, a...) }
func (l pionLogger) Debug(msg string)               { l.ZapEventLogger.Debug(msg) }
func (l pionLogger) Info(msg string)                { l.ZapEventLogger.Info(msg) }
func (l pionLogger) Warn(msg string)                { l.ZapEventLogger.Warn(msg) }
func (l pionLogger) Error(msg string)               { l.ZapEventLogger.Error(msg) }

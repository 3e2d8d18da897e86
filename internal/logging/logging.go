// Package logging hands out scoped leveled loggers for the rest of the
// module. The default level can be raised with the EVTCAM_LOG environment
// variable understood by pion/logging (e.g. EVTCAM_LOG=trace).
package logging

import (
	"os"

	"github.com/pion/logging"
)

var loggerFactory = newFactory()

func newFactory() *logging.DefaultLoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	factory.ScopeLevels = make(map[string]logging.LogLevel)
	if level, ok := levelFromEnv(os.Getenv("EVTCAM_LOG")); ok {
		factory.DefaultLogLevel = level
	}
	return factory
}

func levelFromEnv(value string) (logging.LogLevel, bool) {
	switch value {
	case "disable":
		return logging.LogLevelDisabled, true
	case "error":
		return logging.LogLevelError, true
	case "warn":
		return logging.LogLevelWarn, true
	case "info":
		return logging.LogLevelInfo, true
	case "debug":
		return logging.LogLevelDebug, true
	case "trace":
		return logging.LogLevelTrace, true
	}
	return 0, false
}

func NewLogger(scope string) logging.LeveledLogger {
	return loggerFactory.NewLogger(scope)
}

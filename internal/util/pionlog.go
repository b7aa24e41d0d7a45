package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// pionLoggerFactory routes pion's internal logging into the pterm logger.
// pion is chatty at info level (ICE state churn), so every pion level is
// demoted by one step: info shows up as debug, debug as trace.
type pionLoggerFactory struct{}

// NewPionLoggerFactory returns a logging.LoggerFactory for pion's SettingEngine.
func NewPionLoggerFactory() logging.LoggerFactory {
	return pionLoggerFactory{}
}

func (pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("pion", l.scope)
}

func (l pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(msg, l.args()) }
func (l pionLogger) Debug(msg string) { pterm.DefaultLogger.Trace(msg, l.args()) }
func (l pionLogger) Info(msg string)  { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l pionLogger) Warn(msg string)  { pterm.DefaultLogger.Warn(msg, l.args()) }
func (l pionLogger) Error(msg string) { pterm.DefaultLogger.Error(msg, l.args()) }

func (l pionLogger) Tracef(format string, args ...any) { l.Trace(fmt.Sprintf(format, args...)) }
func (l pionLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l pionLogger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l pionLogger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l pionLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }

package rtc

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// loggerFactory routes pion's internal logging into zap.
type loggerFactory struct {
	logger *zap.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{s: f.logger.Named(scope).Sugar()}
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Trace(msg string)                          { l.s.Debug(msg) }
func (l leveledLogger) Tracef(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l leveledLogger) Debug(msg string)                          { l.s.Debug(msg) }
func (l leveledLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l leveledLogger) Info(msg string)                           { l.s.Debug(msg) }
func (l leveledLogger) Infof(format string, args ...interface{})  { l.s.Debugf(format, args...) }
func (l leveledLogger) Warn(msg string)                           { l.s.Warn(msg) }
func (l leveledLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l leveledLogger) Error(msg string)                          { l.s.Error(msg) }
func (l leveledLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

package logger

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionFactory routes pion's leveled loggers into zap. Trace maps to Debug.
type PionFactory struct {
	base *zap.Logger
}

// NewPionFactory returns a logging.LoggerFactory writing through l
func NewPionFactory(l *zap.Logger) *PionFactory {
	return &PionFactory{base: Named(l, "pion")}
}

// NewLogger implements logging.LoggerFactory
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{s: f.base.Named(scope).WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

type pionLogger struct {
	s *zap.SugaredLogger
}

func (l *pionLogger) Trace(msg string)                          { l.s.Debug(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.s.Debug(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Debug(msg string)                          { l.s.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *pionLogger) Info(msg string)                           { l.s.Info(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *pionLogger) Warn(msg string)                           { l.s.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *pionLogger) Error(msg string)                          { l.s.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

// Package logging provides the logger used across the motion kernel. It is a
// thin facade over zap so that hosts can route planner logs into their own
// sinks by supplying extra appenders.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface the planner and its collaborators log through.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a child logger with the given name appended.
	Sublogger(name string) Logger
	// AsZap exposes the underlying sugared logger for hosts that already
	// speak zap.
	AsZap() *zap.SugaredLogger
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l *zapLogger) Sublogger(name string) Logger {
	return &zapLogger{l.Named(name)}
}

func (l *zapLogger) AsZap() *zap.SugaredLogger {
	return l.SugaredLogger
}

func newAtLevel(name string, level zapcore.Level, appenders ...Appender) Logger {
	if len(appenders) == 0 {
		appenders = []Appender{NewStdoutAppender()}
	}
	cores := make([]zapcore.Core, 0, len(appenders))
	for _, appender := range appenders {
		cores = append(cores, appenderCore{appender: appender, level: level})
	}
	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if name != "" {
		zl = zl.Named(name)
	}
	return &zapLogger{zl.Sugar()}
}

// NewLogger returns an info-level logger writing to the given appenders
// (stdout when none are given).
func NewLogger(name string, appenders ...Appender) Logger {
	return newAtLevel(name, zapcore.InfoLevel, appenders...)
}

// NewDebugLogger is NewLogger at debug level. The planner's real-time path
// logs exclusively at debug level, so this is the one to use when tracing
// per-tick behavior.
func NewDebugLogger(name string, appenders ...Appender) Logger {
	return newAtLevel(name, zapcore.DebugLevel, appenders...)
}

// NewTestLogger returns a debug-level logger routing through t.Log so output
// is attributed to the right test.
func NewTestLogger(t *testing.T) Logger {
	return NewDebugLogger(t.Name(), NewWriterAppender(&testWriter{t}))
}

type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// appenderCore adapts an Appender into a zapcore.Core.
type appenderCore struct {
	appender Appender
	level    zapcore.Level
	fields   []zapcore.Field
}

func (c appenderCore) Enabled(l zapcore.Level) bool {
	return l >= c.level
}

func (c appenderCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return appenderCore{appender: c.appender, level: c.level, fields: merged}
}

func (c appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	return c.appender.Write(entry, all)
}

func (c appenderCore) Sync() error {
	return c.appender.Sync()
}

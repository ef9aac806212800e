// Package logging provides the structured logging interface used across
// gokube's components: a small interface so callers depend on behavior,
// not on logrus directly.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger is the structured logging surface every long-running component
// accepts via a functional option.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	WithValues(keysAndValues ...any) Logger
}

// NewLogrusLogger wraps a *logrus.Entry as a Logger.
func NewLogrusLogger(entry *logrus.Entry) Logger {
	return &logrusLogger{entry: entry}
}

// NewNopLogger returns a Logger that discards everything, for tests and
// components that opt out of logging.
func NewNopLogger() Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debug(msg string, kvs ...any) {
	l.entry.WithFields(fields(kvs)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, kvs ...any) {
	l.entry.WithFields(fields(kvs)).Info(msg)
}

func (l *logrusLogger) WithValues(kvs ...any) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields(kvs))}
}

func fields(kvs []any) logrus.Fields {
	f := make(logrus.Fields, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		f[key] = kvs[i+1]
	}
	return f
}

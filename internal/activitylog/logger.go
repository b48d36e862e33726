// Package activitylog is runbookd's structured-logging collaborator. It is
// passed around as a nil-safe *Logger the way the teacher's package of the
// same name is, but backs onto github.com/sirupsen/logrus for leveled,
// field-based output instead of the teacher's own JSON-lines file writer —
// this daemon serves many concurrent client connections and benefits from
// fields it can filter on (session_id, hook, matcher, client_kind) rather
// than a flat per-agent activity file.
package activitylog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger wraps a configured logrus.Logger with the fields runbookd's
// adapters and reducer-output consumers care about.
type Logger struct {
	log *logrus.Logger
}

// New creates a Logger writing to w at the given level.
func New(w io.Writer, level logrus.Level) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{log: l}
}

// Nop returns a Logger that discards everything, for tests and for callers
// that haven't configured logging yet.
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{log: l}
}

// Hook logs a processed hook event.
func (l *Logger) Hook(hookName, matcher, sessionID, sessionTag string) {
	if l == nil {
		return
	}
	l.log.WithFields(logrus.Fields{
		"hook":        hookName,
		"matcher":     matcher,
		"session_id":  sessionID,
		"session_tag": sessionTag,
	}).Info("hook event")
}

// Notice logs a Notice side effect emitted by the reducer.
func (l *Logger) Notice(message string) {
	if l == nil {
		return
	}
	l.log.WithField("component", "reducer").Warn(message)
}

// ClientConnected logs a newly connected interactive client.
func (l *Logger) ClientConnected(connID, clientKind string) {
	if l == nil {
		return
	}
	l.log.WithFields(logrus.Fields{
		"conn_id":     connID,
		"client_kind": clientKind,
	}).Info("client connected")
}

// ClientDisconnected logs a client eviction or clean disconnect.
func (l *Logger) ClientDisconnected(connID string, err error) {
	if l == nil {
		return
	}
	entry := l.log.WithField("conn_id", connID)
	if err != nil {
		entry.WithField("error", err.Error()).Info("client disconnected")
		return
	}
	entry.Info("client disconnected")
}

// TransportError logs a recoverable transport-level error (malformed
// input, write failure). The reducer never sees these — they are handled
// entirely by the adapter (spec.md §7).
func (l *Logger) TransportError(context string, err error) {
	if l == nil {
		return
	}
	l.log.WithFields(logrus.Fields{
		"context": context,
		"error":   err.Error(),
	}).Error("transport error")
}

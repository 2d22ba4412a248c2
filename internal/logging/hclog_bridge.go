// Package logging builds the dispatcher's logrus loggers and bridges each of them to
// hclog.Logger, the interface the server, listeners, sessions and reactor log through.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/sirupsen/logrus"
)

// bridge implements hclog.Logger on top of a *logrus.Entry: every hclog call is written
// through the wrapped logrus logger, with hclog key/value args as logrus fields.
type bridge struct {
	mu   sync.RWMutex
	name string
	args []interface{}
	e    *logrus.Entry
}

// NewHCLogBridge adapts a logrus logger into an hclog.Logger.
func NewHCLogBridge(l *logrus.Logger) hclog.Logger {
	return &bridge{e: logrus.NewEntry(l)}
}

func (b *bridge) entry() *logrus.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.e
}

func fieldsFromArgs(args []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}

func (b *bridge) Log(level hclog.Level, msg string, args ...interface{}) {
	e := b.entry().WithFields(fieldsFromArgs(args))
	switch level {
	case hclog.NoLevel, hclog.Off:
		return
	case hclog.Trace, hclog.Debug:
		e.Debug(msg)
	case hclog.Info:
		e.Info(msg)
	case hclog.Warn:
		e.Warn(msg)
	case hclog.Error:
		e.Error(msg)
	}
}

func (b *bridge) Trace(msg string, args ...interface{}) { b.Log(hclog.Trace, msg, args...) }
func (b *bridge) Debug(msg string, args ...interface{}) { b.Log(hclog.Debug, msg, args...) }
func (b *bridge) Info(msg string, args ...interface{})  { b.Log(hclog.Info, msg, args...) }
func (b *bridge) Warn(msg string, args ...interface{})  { b.Log(hclog.Warn, msg, args...) }
func (b *bridge) Error(msg string, args ...interface{}) { b.Log(hclog.Error, msg, args...) }

func (b *bridge) IsTrace() bool { return b.entry().Logger.IsLevelEnabled(logrus.DebugLevel) }
func (b *bridge) IsDebug() bool { return b.entry().Logger.IsLevelEnabled(logrus.DebugLevel) }
func (b *bridge) IsInfo() bool  { return b.entry().Logger.IsLevelEnabled(logrus.InfoLevel) }
func (b *bridge) IsWarn() bool  { return b.entry().Logger.IsLevelEnabled(logrus.WarnLevel) }
func (b *bridge) IsError() bool { return b.entry().Logger.IsLevelEnabled(logrus.ErrorLevel) }

func (b *bridge) ImpliedArgs() []interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]interface{}(nil), b.args...)
}

func (b *bridge) With(args ...interface{}) hclog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	nb := &bridge{e: b.e.WithFields(fieldsFromArgs(args)), name: b.name, args: append(append([]interface{}(nil), b.args...), args...)}
	return nb
}

func (b *bridge) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *bridge) Named(name string) hclog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	full := name
	if b.name != "" {
		full = b.name + "." + name
	}
	return &bridge{e: b.e.WithField("component", full), name: full, args: b.args}
}

func (b *bridge) ResetNamed(name string) hclog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &bridge{e: b.e.WithField("component", name), name: name, args: b.args}
}

func (b *bridge) SetLevel(level hclog.Level) {
	l := b.entry().Logger
	switch level {
	case hclog.NoLevel, hclog.Off:
		l.SetLevel(logrus.PanicLevel)
	case hclog.Trace, hclog.Debug:
		l.SetLevel(logrus.DebugLevel)
	case hclog.Info:
		l.SetLevel(logrus.InfoLevel)
	case hclog.Warn:
		l.SetLevel(logrus.WarnLevel)
	case hclog.Error:
		l.SetLevel(logrus.ErrorLevel)
	}
}

func (b *bridge) GetLevel() hclog.Level {
	switch b.entry().Logger.GetLevel() {
	case logrus.DebugLevel:
		return hclog.Debug
	case logrus.InfoLevel:
		return hclog.Info
	case logrus.WarnLevel:
		return hclog.Warn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return hclog.Error
	default:
		return hclog.NoLevel
	}
}

func (b *bridge) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(b.StandardWriter(opts), "", 0)
}

func (b *bridge) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	w := b.entry().Writer()
	if w == nil {
		return os.Stderr
	}
	return w
}

package logging

import (
	"errors"
	"fmt"

	"github.com/kardianos/service"
)

// serviceLogger lets the platform service log (Windows Event Log, syslog)
// stand in for a Logger. The service log has no debug level.
type serviceLogger struct {
	service.Logger
}

// FromService wraps a kardianos service logger.
func FromService(l service.Logger) Logger {
	return serviceLogger{Logger: l}
}

func (serviceLogger) Debugf(string, ...interface{}) {}

type tee []Logger

// Tee fans every message out to all loggers. Nil loggers are skipped.
func Tee(loggers ...Logger) Logger {
	var t tee
	for _, l := range loggers {
		if l != nil {
			t = append(t, l)
		}
	}
	return t
}

func (t tee) each(fn func(Logger) error) error {
	var errs []error
	for _, l := range t {
		if err := fn(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Debugf(format string, v ...interface{}) {
	for _, l := range t {
		l.Debugf(format, v...)
	}
}

func (t tee) Info(v ...interface{}) error {
	return t.each(func(l Logger) error { return l.Info(v...) })
}

func (t tee) Infof(format string, v ...interface{}) error {
	return t.each(func(l Logger) error { return l.Infof(format, v...) })
}

func (t tee) Warning(v ...interface{}) error {
	return t.each(func(l Logger) error { return l.Warning(v...) })
}

func (t tee) Warningf(format string, v ...interface{}) error {
	return t.each(func(l Logger) error { return l.Warningf(format, v...) })
}

func (t tee) Error(v ...interface{}) error {
	return t.each(func(l Logger) error { return l.Error(v...) })
}

func (t tee) Errorf(format string, v ...interface{}) error {
	return t.each(func(l Logger) error { return l.Errorf(format, v...) })
}

// Prefixed returns a logger that prepends "[name] " to every message, the way
// the agent tags lines per component.
func Prefixed(l Logger, name string) Logger {
	return prefixed{inner: l, prefix: fmt.Sprintf("[%s] ", name)}
}

type prefixed struct {
	inner  Logger
	prefix string
}

func (p prefixed) Debugf(format string, v ...interface{}) { p.inner.Debugf(p.prefix+format, v...) }

func (p prefixed) Info(v ...interface{}) error {
	return p.inner.Info(append([]interface{}{p.prefix}, v...)...)
}

func (p prefixed) Infof(format string, v ...interface{}) error {
	return p.inner.Infof(p.prefix+format, v...)
}

func (p prefixed) Warning(v ...interface{}) error {
	return p.inner.Warning(append([]interface{}{p.prefix}, v...)...)
}

func (p prefixed) Warningf(format string, v ...interface{}) error {
	return p.inner.Warningf(p.prefix+format, v...)
}

func (p prefixed) Error(v ...interface{}) error {
	return p.inner.Error(append([]interface{}{p.prefix}, v...)...)
}

func (p prefixed) Errorf(format string, v ...interface{}) error {
	return p.inner.Errorf(p.prefix+format, v...)
}

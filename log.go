package mtcl

import "github.com/sirupsen/logrus"

// Logger is the structured logging surface the Manager and every driver
// hold a scoped handle to. It is satisfied by *logrus.Entry directly.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

func newDefaultLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l.WithField("component", "mtcl")
}

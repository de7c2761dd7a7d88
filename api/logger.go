// File: api/logger.go
// License: Apache-2.0

package api

// Logger is the logging surface used across the library. It is out of the box
// compatible with `log.Log` in `github.com/apex/log`.
type Logger interface {
	Debug(msg string)
	Debugf(format string, v ...interface{})
	Info(msg string)
	Infof(format string, v ...interface{})
	Warn(msg string)
	Warnf(format string, v ...interface{})
}

// DiscardLogger drops everything.
var DiscardLogger Logger = logDiscarder{}

type logDiscarder struct{}

func (logDiscarder) Debug(msg string)                       {}
func (logDiscarder) Debugf(format string, v ...interface{}) {}
func (logDiscarder) Info(msg string)                        {}
func (logDiscarder) Infof(format string, v ...interface{})  {}
func (logDiscarder) Warn(msg string)                        {}
func (logDiscarder) Warnf(format string, v ...interface{})  {}

// ValidLoggerOrDefault returns logger when not nil, DiscardLogger otherwise.
func ValidLoggerOrDefault(logger Logger) Logger {
	if logger != nil {
		return logger
	}
	return DiscardLogger
}

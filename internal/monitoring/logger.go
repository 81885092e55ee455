package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the decoder packages.
// It defaults to log.Printf and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives per-packet detail (header failures, backlog drops). It is
// silent unless SetDebugLogger installs a sink.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebugLogger replaces the debug logger. Passing nil silences it again.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}

// Verbose routes debug output through Logf with a prefix.
func Verbose(enabled bool) {
	if !enabled {
		SetDebugLogger(nil)
		return
	}
	SetDebugLogger(func(format string, v ...interface{}) {
		Logf("[debug] "+format, v...)
	})
}

// Package monitoring holds the process-wide diagnostic log hook.
package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the serial, tracker and
// bridge code. It defaults to log.Printf; the service swaps in zap via UseZap
// and tests mute it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

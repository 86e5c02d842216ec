// Package monitoring carries the pipeline's diagnostic logging. Components
// log through the package-level Logf with a bracketed prefix naming the
// stage ("[stack]", "[mosaic]", "[runner]"), so one run reads as a single
// interleaved narrative. Tests swap the logger out to mute or capture it.
package monitoring

import "log"

// Logf is the shared diagnostic logger, log.Printf by default.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the shared logger. Nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

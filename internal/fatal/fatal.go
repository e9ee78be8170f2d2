// Package fatal centralizes the "this must never happen" assertions the
// rest of the indexer relies on: a decode shape mismatch, a store write
// failure, or loss of the advisory write lock are all invariant violations
// that must stop the process rather than let corrupt state accumulate.
package fatal

import (
	"os"

	"github.com/rs/zerolog/log"
)

// exitCode is the process exit status for an in-flight invariant violation.
// zerolog's own Fatal level hardcodes os.Exit(1), which would be
// indistinguishable from a config/schema startup failure, so Assert and
// OnErr log at Error level and call os.Exit themselves instead of using
// log.Fatal().
const exitCode = 2

// Assert logs at Error level and exits the process with exitCode when cond
// is false. fields must be an even number of alternating keys and values,
// appended to the log event.
func Assert(cond bool, msg string, fields ...any) {
	if cond {
		return
	}
	evt := log.Error()
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		evt = evt.Interface(key, fields[i+1])
	}
	evt.Msg(msg)
	os.Exit(exitCode)
}

// OnErr is Assert specialized for the common "err must be nil" case.
func OnErr(err error, msg string, fields ...any) {
	if err == nil {
		return
	}
	evt := log.Error().Err(err)
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		evt = evt.Interface(key, fields[i+1])
	}
	evt.Msg(msg)
	os.Exit(exitCode)
}

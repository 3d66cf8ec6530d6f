// Package safego launches background goroutines that survive panics.
package safego

import "log/slog"

// Go runs fn in a new goroutine and turns any panic into an error log instead
// of a process crash. Detached work rides on this: the lock reaper's sweep
// loop and notification mail delivery both run outside any request, where an
// unrecovered panic would kill them without a trace.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}

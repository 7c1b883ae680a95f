package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the full stack trace.
// Meant for defer statements at the top of long-lived goroutines:
//
//	defer observability.RecoverPanic(logger, "seed-watcher")
//
// The panic is not re-raised, so the goroutine exits normally instead of
// taking the process down.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
	}
}

// Guard runs fn and contains any panic it raises. Used around caller-supplied
// callbacks, where one misbehaving listener must not kill the goroutine
// dispatching to the rest.
func Guard(logger *Logger, context string, fn func()) {
	defer RecoverPanic(logger, context)
	fn()
}

package worker

import "errors"

var (
	// ErrPanic wraps a panic recovered from the dispatch handler.
	ErrPanic = errors.New("dispatch panicked")
	// ErrAlreadyRunning is returned by Run on a worker that was already run.
	ErrAlreadyRunning = errors.New("stream worker already running")
)

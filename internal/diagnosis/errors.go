package diagnosis

import "errors"

var (
	// ErrValidation wraps bad patient input; rejected at submission, never
	// enqueued.
	ErrValidation = errors.New("validation error")

	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotReady is returned when export is requested before the
	// session reached a completed state.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrJobActive rejects a second job for a session that already has one
	// queued or running.
	ErrJobActive = errors.New("job already active for session")

	// ErrQueueFull is returned when the job queue cannot accept more work.
	ErrQueueFull = errors.New("job queue full")

	// ErrMalformedPayload means the provider payload contained no usable
	// diagnosis entries at all.
	ErrMalformedPayload = errors.New("malformed diagnosis payload")
)

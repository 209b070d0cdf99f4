package export

import "errors"

var (
	// ErrShutdown is returned by Export once a sink or pipeline has shut
	// down; no I/O is attempted.
	ErrShutdown = errors.New("export: already shut down")

	// ErrPermanent marks a delivery failure that retrying cannot fix
	// (authentication, not found). The batch is dropped and logged.
	ErrPermanent = errors.New("export: permanent delivery failure")

	// ErrTransient marks a delivery failure worth retrying (timeout,
	// server error, throttling).
	ErrTransient = errors.New("export: transient delivery failure")

	// ErrRetriesExhausted is returned when a transient failure outlived
	// the retry budget.
	ErrRetriesExhausted = errors.New("export: retries exhausted")
)

package materializer

import "errors"

var (
	// ErrUnresolvedToken marks an event whose token could not be mapped to a known curve,
	// or whose chain context could not be fetched. The event is skipped, not retried.
	ErrUnresolvedToken = errors.New("unresolved token")

	// ErrDuplicateEvent marks an event that was already applied.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrStateStoreConflict is returned when the state store keeps failing after retries.
	// It is the only error that stops ingestion.
	ErrStateStoreConflict = errors.New("state store conflict")
)

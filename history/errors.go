package history

import "errors"

var (
	// ErrRecordNotFound is returned when a lookup finds no record for
	// the requested key.
	ErrRecordNotFound = errors.New("history: record not found")
	// ErrStaleRecord is returned internally when a loaded record fails
	// its validity check (missing source or hash mismatch).
	ErrStaleRecord = errors.New("history: record is stale")
	// ErrSweepAlreadyRunning is returned by StartSweep if a sweep
	// schedule is already active.
	ErrSweepAlreadyRunning = errors.New("history: sweep already running")
)

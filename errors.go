package disparo

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("disparo: no store configured")
	ErrStoreClosed     = errors.New("disparo: store closed")
	ErrMigrationFailed = errors.New("disparo: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("disparo: job not found")
	ErrControlNotFound = errors.New("disparo: dispatch control not found")
	ErrCompanyNotFound = errors.New("disparo: company not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("disparo: job already exists")

	// State errors.
	ErrNotCancellable     = errors.New("disparo: job is not cancellable in its current status")
	ErrInvalidStatus      = errors.New("disparo: invalid status transition")
	ErrUnknownJobType     = errors.New("disparo: unknown job type")
	ErrMaxAttemptsReached = errors.New("disparo: max attempts reached")

	// Lock errors.
	ErrLockNotHeld = errors.New("disparo: lock not held")
)

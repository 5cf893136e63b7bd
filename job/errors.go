package job

import "errors"

// PermanentError marks a handler failure that must not be retried:
// unknown job type, malformed payload, or any other configuration error
// where repeating the attempt cannot help. The executor fails the job
// terminally without consuming further attempts.
type PermanentError struct {
	Err error
}

// Permanent wraps err as a PermanentError. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err (or anything it wraps) is a
// PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

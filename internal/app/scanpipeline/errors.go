package scanpipeline

import "errors"

// PermanentError marks a job failure that retrying cannot fix: a nonexistent
// ref, no usable credential, a malformed repository. The worker maps it to an
// immediate skip-retry instead of burning queue attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error as permanent.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent anywhere in its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

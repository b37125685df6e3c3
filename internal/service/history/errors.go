package history

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound means no stored session exists for the requested id.
	ErrNotFound = errors.New("session not found")
	// ErrIO marks permission, disk and directory failures. Callers treat it as
	// a soft failure: history is incomplete but the conversation goes on.
	ErrIO = errors.New("session storage unavailable")
	// ErrCorrupt marks a session file that cannot be decoded.
	ErrCorrupt = errors.New("session file is corrupt")
	// ErrInvalidID rejects ids that were not generated by the store.
	ErrInvalidID = errors.New("invalid session id")
)

func ioFailure(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

func corrupt(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrCorrupt)
}

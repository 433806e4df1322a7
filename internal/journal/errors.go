package journal

import "errors"

var (
	// ErrKindRequired is returned by Create for an entry without a kind.
	ErrKindRequired = errors.New("journal: entry kind is required")

	// ErrSinkClosed is returned by Sink.Close after the first call.
	ErrSinkClosed = errors.New("journal: sink closed")
)

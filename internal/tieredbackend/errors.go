package tieredbackend

import "errors"

// Sentinel backend errors. BackendReader maps these to GetMessageResult
// status codes via errors.Is; any other error is treated as the generic
// "illegal parameter" case per spec.
var (
	// ErrNoNewData is returned when a consume-queue read starts at or past
	// the tip of the stream: there is nothing new to deliver yet.
	ErrNoNewData = errors.New("tieredbackend: no new data at requested offset")

	// ErrIllegalParam is returned for a malformed request (e.g. a
	// non-positive count or length).
	ErrIllegalParam = errors.New("tieredbackend: illegal parameter")

	// ErrIllegalOffset is returned when the requested offset does not map
	// to a valid position in the backend stream.
	ErrIllegalOffset = errors.New("tieredbackend: illegal offset")

	// ErrNotFound is returned when the requested flat-file or segment does
	// not exist on the backend at all.
	ErrNotFound = errors.New("tieredbackend: not found")
)

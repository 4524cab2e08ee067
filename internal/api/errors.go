package api

import "errors"

var (
	// ErrBaseURLRequired indicates a client built without a server address.
	ErrBaseURLRequired = errors.New("server base url is required")
	// ErrUnauthorized maps 401/403 responses. Callers treat it as "no
	// data", never as stale data.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound maps 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrStreamActive indicates a second stream start for a conversation
	// that already has a live one.
	ErrStreamActive = errors.New("stream already active for conversation")
)

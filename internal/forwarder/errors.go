package forwarder

import "errors"

// Sentinel errors named after the error kinds in spec §7. ErrUpstreamStatus
// is deliberately not one of these: a non-2xx/3xx upstream response is
// passed through to the client unchanged rather than surfaced as a Go
// error.
var (
	// ErrNoUpstreamAvailable means the Selector returned nothing for the
	// requested family; Handle responds 503.
	ErrNoUpstreamAvailable = errors.New("forwarder: no upstream available")

	// ErrUpstreamTransport wraps a connect/read/write failure against the
	// chosen upstream; Handle responds 502 and freezes the endpoint.
	ErrUpstreamTransport = errors.New("forwarder: upstream transport error")
)

package relay

import "github.com/AdguardTeam/golibs/errors"

// Error kinds of a single connection.  None of them is fatal to the server,
// every one of them ends the connection they occurred in.
const (
	// ErrHandshake is returned when the TLS handshake with the client fails.
	ErrHandshake errors.Error = "tls handshake"

	// ErrRead is returned when the request could not be read from the client.
	ErrRead errors.Error = "reading request"

	// ErrInvalidUTF8 is returned when the request line is not valid UTF-8.
	ErrInvalidUTF8 errors.Error = "request line is not valid utf-8"

	// ErrMalformedRequest is returned when the request line has less than two
	// tokens.
	ErrMalformedRequest errors.Error = "malformed request line"

	// ErrRequestTooLarge is returned when the client sends more than the
	// maximum request size without terminating the request.
	ErrRequestTooLarge errors.Error = "request too large"

	// ErrMethodNotAllowed is the outcome of a request with a method other than
	// CONNECT.
	ErrMethodNotAllowed errors.Error = "method not allowed"

	// ErrForbidden is the outcome of a request to a target that is not in the
	// allow-list.
	ErrForbidden errors.Error = "target is not allowed"

	// ErrUpstreamConnect is returned when the upstream connection could not be
	// established.
	ErrUpstreamConnect errors.Error = "connecting to upstream"

	// ErrResponseWrite is returned when the status response could not be
	// written to the client.
	ErrResponseWrite errors.Error = "writing response"

	// ErrRelay is returned when the tunnel ends with an I/O error.
	ErrRelay errors.Error = "relaying"

	// ErrIdleTimeout is returned when the tunnel is closed because neither
	// direction made progress within the idle timeout.
	ErrIdleTimeout errors.Error = "idle timeout"
)

// Outcome labels used for logging and metrics.
const (
	outcomeOK               = "ok"
	outcomeHandshake        = "handshake_error"
	outcomeRead             = "read_error"
	outcomeMalformed        = "malformed_request"
	outcomeTooLarge         = "request_too_large"
	outcomeMethodNotAllowed = "method_not_allowed"
	outcomeForbidden        = "forbidden"
	outcomeUpstream         = "upstream_error"
	outcomeWrite            = "write_error"
	outcomeRelay            = "relay_error"
	outcomeIdleTimeout      = "idle_timeout"
	outcomeUnknown          = "unknown"
)

// outcome classifies err into one of the outcome labels.
func outcome(err error) (label string) {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrHandshake):
		return outcomeHandshake
	case errors.Is(err, ErrInvalidUTF8), errors.Is(err, ErrMalformedRequest):
		return outcomeMalformed
	case errors.Is(err, ErrRequestTooLarge):
		return outcomeTooLarge
	case errors.Is(err, ErrRead):
		return outcomeRead
	case errors.Is(err, ErrMethodNotAllowed):
		return outcomeMethodNotAllowed
	case errors.Is(err, ErrForbidden):
		return outcomeForbidden
	case errors.Is(err, ErrUpstreamConnect):
		return outcomeUpstream
	case errors.Is(err, ErrResponseWrite):
		return outcomeWrite
	case errors.Is(err, ErrIdleTimeout):
		return outcomeIdleTimeout
	case errors.Is(err, ErrRelay):
		return outcomeRelay
	default:
		return outcomeUnknown
	}
}

// isPolicyOutcome returns true if err is a policy decision rather than a
// fault.
func isPolicyOutcome(err error) (ok bool) {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrMethodNotAllowed)
}

package tapwire

import (
	"net/http"
	"strings"
)

// Host is the capability surface the embedding pipeline exposes to the
// engine for the message currently in flight. The nethttp and fasthttp
// packages ship bindings; other hosts implement it themselves.
//
// ReadBody is a one-shot operation: where the underlying body is a consumable
// stream, reading it drains the stream and RestoreBody must be called with
// the same bytes before control returns to the pipeline. Hosts whose body is
// a plain buffer may implement RestoreBody as a noop.
type Host interface {
	// Method returns the HTTP method of the transaction's request.
	Method() string

	// URL returns the request URI as seen by the pipeline.
	URL() string

	// ContentType returns the declared content type of the current message.
	ContentType() string

	// Headers returns the current message's headers with lowercased names
	// and comma-joined values. The engine treats the map as its own copy.
	Headers() map[string]string

	// StatusCode returns the response status. Only meaningful during the
	// response phase.
	StatusCode() int

	// RemoteAddr returns the peer address of the client connection,
	// host:port or bare host. May be empty.
	RemoteAddr() string

	ReadBody() ([]byte, error)
	RestoreBody(body []byte)
}

// ErrorReporter is an optional Host capability. Bindings that observe a
// pipeline failure out of band, such as a panicking handler, expose it here
// so the record for the phase carries it.
type ErrorReporter interface {
	PipelineErrors() []ErrorInfo
}

// CanonicalHeaders flattens an http.Header into the lowercased single-value
// form the Host contract requires.
func CanonicalHeaders(h http.Header) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}

// Package nethttp binds the tapwire engine into net/http handler chains.
package nethttp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"

	tapwire "github.com/tapwirehq/tapwire-go/tapwire"
)

// Middleware wraps next with request/response observation. The wrapped
// handler, and the client behind it, see the exact bytes that arrived; a
// panicking handler is observed as a 500 and re-panicked unchanged.
func Middleware(inspector *tapwire.Inspector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if inspector == nil || !inspector.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tx := inspector.HandleRequest(uuid.NewString(), newRequestHost(r))

			capture := newResponseCapture(w)
			var recovered any

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						recovered = rec
						capture.ensureStatus(http.StatusInternalServerError)
					}
				}()
				next.ServeHTTP(capture, r)
			}()

			inspector.HandleResponse(tx, newResponseHost(r, capture, recovered))

			if recovered != nil {
				panic(recovered)
			}
		})
	}
}

// requestHost adapts *http.Request to the engine's host contract. The body
// read is destructive against the request stream, so RestoreBody reinstates
// it for the downstream handler.
type requestHost struct {
	r *http.Request
}

func newRequestHost(r *http.Request) *requestHost {
	return &requestHost{r: r}
}

func (h *requestHost) Method() string      { return h.r.Method }
func (h *requestHost) URL() string         { return h.r.URL.RequestURI() }
func (h *requestHost) ContentType() string { return h.r.Header.Get("Content-Type") }
func (h *requestHost) StatusCode() int     { return 0 }
func (h *requestHost) RemoteAddr() string  { return h.r.RemoteAddr }

func (h *requestHost) Headers() map[string]string {
	headers := tapwire.CanonicalHeaders(h.r.Header)
	headers["x-tapwire-version"] = tapwire.VersionHeaderValue()
	return headers
}

func (h *requestHost) ReadBody() ([]byte, error) {
	if h.r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(h.r.Body)
	h.r.Body.Close()
	if err != nil {
		h.r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, err
	}
	return body, nil
}

func (h *requestHost) RestoreBody(body []byte) {
	h.r.Body = io.NopCloser(bytes.NewReader(body))
}

// responseHost exposes the captured response. The capture tees writes to the
// real ResponseWriter as they happen, so the body here is a snapshot and
// RestoreBody has nothing to do.
type responseHost struct {
	r         *http.Request
	capture   *responseCapture
	recovered any
}

func newResponseHost(r *http.Request, capture *responseCapture, recovered any) *responseHost {
	return &responseHost{r: r, capture: capture, recovered: recovered}
}

func (h *responseHost) Method() string      { return h.r.Method }
func (h *responseHost) URL() string         { return h.r.URL.RequestURI() }
func (h *responseHost) ContentType() string { return h.capture.Header().Get("Content-Type") }
func (h *responseHost) StatusCode() int     { return h.capture.statusCode() }
func (h *responseHost) RemoteAddr() string  { return h.r.RemoteAddr }

func (h *responseHost) Headers() map[string]string {
	return tapwire.CanonicalHeaders(h.capture.Header())
}

func (h *responseHost) ReadBody() ([]byte, error) {
	return append([]byte(nil), h.capture.body.Bytes()...), nil
}

func (h *responseHost) RestoreBody([]byte) {}

// PipelineErrors reports a handler panic on the response record. The status
// the client actually received is untouched.
func (h *responseHost) PipelineErrors() []tapwire.ErrorInfo {
	if h.recovered == nil {
		return nil
	}
	return []tapwire.ErrorInfo{{
		Source:  "response",
		Type:    "Handler Panic",
		Message: fmt.Sprintf("recovered: %v", h.recovered),
	}}
}

// responseCapture records status and body while passing every write through
// to the underlying ResponseWriter.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{ResponseWriter: w}
}

func (rw *responseCapture) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseCapture) Write(b []byte) (int, error) {
	// An implicit 200 is committed to the client on the first write.
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if len(b) > 0 {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

// ensureStatus fills in the telemetry status when the handler never committed
// one. A status already sent to the client is kept as-is so the snapshot
// matches what the client received.
func (rw *responseCapture) ensureStatus(code int) {
	if rw.status == 0 {
		rw.status = code
	}
}

func (rw *responseCapture) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseCapture) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseCapture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (rw *responseCapture) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := rw.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

var (
	_ http.Flusher  = (*responseCapture)(nil)
	_ http.Hijacker = (*responseCapture)(nil)
	_ http.Pusher   = (*responseCapture)(nil)

	_ tapwire.Host          = (*requestHost)(nil)
	_ tapwire.Host          = (*responseHost)(nil)
	_ tapwire.ErrorReporter = (*responseHost)(nil)
)

// Package fasthttp binds the tapwire engine into github.com/valyala/fasthttp
// handlers.
package fasthttp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	tapwire "github.com/tapwirehq/tapwire-go/tapwire"
)

// Middleware wraps a fasthttp handler with tapwire observation.
func Middleware(inspector *tapwire.Inspector, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if inspector == nil || !inspector.Enabled() {
		return next
	}

	return func(ctx *fasthttp.RequestCtx) {
		tx := inspector.HandleRequest(uuid.NewString(), &requestHost{ctx: ctx})

		var recovered any

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					recovered = rec
					ctx.Response.ResetBody()
					ctx.Response.SetStatusCode(fasthttp.StatusInternalServerError)
				}
			}()
			next(ctx)
		}()

		inspector.HandleResponse(tx, &responseHost{ctx: ctx, recovered: recovered})

		if recovered != nil {
			panic(recovered)
		}
	}
}

// fasthttp keeps message bodies in plain buffers, so reads are not
// destructive and RestoreBody has nothing to reinstate on either host.

type requestHost struct {
	ctx *fasthttp.RequestCtx
}

func (h *requestHost) Method() string { return string(h.ctx.Method()) }
func (h *requestHost) URL() string    { return string(h.ctx.URI().RequestURI()) }
func (h *requestHost) ContentType() string {
	return string(h.ctx.Request.Header.ContentType())
}
func (h *requestHost) StatusCode() int    { return 0 }
func (h *requestHost) RemoteAddr() string { return h.ctx.RemoteAddr().String() }

func (h *requestHost) Headers() map[string]string {
	headers := canonicalHeaders(h.ctx.Request.Header.VisitAll)
	headers["x-tapwire-version"] = tapwire.VersionHeaderValue()
	return headers
}

func (h *requestHost) ReadBody() ([]byte, error) {
	return append([]byte(nil), h.ctx.PostBody()...), nil
}

func (h *requestHost) RestoreBody([]byte) {}

type responseHost struct {
	ctx       *fasthttp.RequestCtx
	recovered any
}

func (h *responseHost) Method() string { return string(h.ctx.Method()) }
func (h *responseHost) URL() string    { return string(h.ctx.URI().RequestURI()) }
func (h *responseHost) ContentType() string {
	return string(h.ctx.Response.Header.ContentType())
}
func (h *responseHost) StatusCode() int    { return h.ctx.Response.StatusCode() }
func (h *responseHost) RemoteAddr() string { return h.ctx.RemoteAddr().String() }

func (h *responseHost) Headers() map[string]string {
	return canonicalHeaders(h.ctx.Response.Header.VisitAll)
}

func (h *responseHost) ReadBody() ([]byte, error) {
	return append([]byte(nil), h.ctx.Response.Body()...), nil
}

func (h *responseHost) RestoreBody([]byte) {}

// PipelineErrors reports a handler panic on the response record. The 500 the
// middleware installs is what the client receives, since the response is not
// sent until the handler chain returns.
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

func canonicalHeaders(visit func(func(key, value []byte))) map[string]string {
	headers := make(map[string]string)
	visit(func(k, v []byte) {
		key := strings.ToLower(string(k))
		val := string(v)
		if existing, ok := headers[key]; ok && existing != "" {
			headers[key] = existing + ", " + val
		} else {
			headers[key] = val
		}
	})
	return headers
}

var (
	_ tapwire.Host          = (*requestHost)(nil)
	_ tapwire.Host          = (*responseHost)(nil)
	_ tapwire.ErrorReporter = (*responseHost)(nil)
)

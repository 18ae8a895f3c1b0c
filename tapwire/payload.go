package tapwire

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

const payloadVersion = 0.6

// AssemblyError reports a record that cannot be attributed to a project.
// Unreachable after a successful New, which rejects empty identifiers.
type AssemblyError struct {
	Missing string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("tapwire payload: missing %s", e.Missing)
}

// assemble builds the outbound record for one observed phase. The response
// snapshot may be nil (request phase, or a transaction aborted mid-flight);
// the record is then partial rather than an error.
func (i *Inspector) assemble(tx *Transaction, response *ResponseInfo) (*Payload, error) {
	if i.cc.apiKey == "" {
		return nil, &AssemblyError{Missing: "api key"}
	}
	if i.cc.projectID == "" {
		return nil, &AssemblyError{Missing: "project id"}
	}

	payload := &Payload{
		APIKey:    i.cc.apiKey,
		ProjectID: i.cc.projectID,
		Version:   payloadVersion,
		SDK:       sdkName,
		Data: PayloadData{
			Server:   serverInfo(),
			Language: LanguageInfo{Name: sdkLanguage, Version: runtime.Version()},
		},
	}

	if tx != nil {
		payload.TransactionID = tx.ID
		if tx.request != nil {
			payload.Data.Request = *tx.request
		}
	}
	if response != nil {
		payload.Data.Response = *response
		if response.Code >= 400 {
			payload.Data.Errors = append(payload.Data.Errors, ErrorInfo{
				Source:  "response",
				Type:    "HTTP Error",
				Message: fmt.Sprintf("HTTP status code: %d", response.Code),
			})
		}
		if !response.Masked {
			payload.Data.Errors = append(payload.Data.Errors, unmaskedError("response"))
		}
	}
	if tx != nil && tx.request != nil && !tx.request.Masked {
		payload.Data.Errors = append(payload.Data.Errors, unmaskedError("request"))
	}

	return payload, nil
}

func unmaskedError(source string) ErrorInfo {
	return ErrorInfo{
		Source:  source,
		Type:    "Masking Skipped",
		Message: "body forwarded to telemetry without structural masking",
	}
}

func serverInfo() ServerInfo {
	zone, _ := time.Now().Zone()
	return ServerInfo{
		Timezone: zone,
		OS: OSInfo{
			Name:         runtime.GOOS,
			Architecture: runtime.GOARCH,
		},
	}
}

// buildRequestInfo captures the sanitized request snapshot during the request
// phase. Headers are masked by name with the same pattern as body fields; the
// user agent and client IP are taken from the unmasked header view first.
func (i *Inspector) buildRequestInfo(h Host, body []byte, start time.Time) *RequestInfo {
	headers := h.Headers()
	bodyValue, masked := i.maskBody(body, h.ContentType())

	return &RequestInfo{
		Timestamp: start.UTC().Format(time.RFC3339),
		IP:        clientIP(headers, peerIPFromRemoteAddr(h.RemoteAddr())),
		URL:       h.URL(),
		UserAgent: headers["user-agent"],
		Method:    canonicalMethod(h.Method()),
		Headers:   i.maskHeaders(headers),
		Body:      bodyValue,
		Masked:    masked,
	}
}

// buildResponseInfo captures the sanitized response snapshot. The response
// content type comes from the response headers, independent of the request's.
func (i *Inspector) buildResponseInfo(h Host, body []byte, start time.Time) *ResponseInfo {
	headers := h.Headers()
	bodyValue, masked := i.maskBody(body, headers["content-type"])

	return &ResponseInfo{
		Code:     h.StatusCode(),
		Size:     int64(len(body)),
		LoadTime: float64(time.Since(start).Microseconds()) / 1000.0,
		Headers:  i.maskHeaders(headers),
		Body:     bodyValue,
		Masked:   masked,
	}
}

func canonicalMethod(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(method)
}

package tapwire

// Payload is the self-contained record shipped to the collector, one per
// observed phase. Ownership transfers to the dispatcher on enqueue; the
// engine keeps no reference afterwards.
type Payload struct {
	APIKey    string  `json:"api_key"`
	ProjectID string  `json:"project_id"`
	Version   float64 `json:"version"`
	SDK       string  `json:"sdk"`

	// TransactionID correlates the request-phase and response-phase records
	// of one proxied exchange at the collector.
	TransactionID string `json:"transaction_id,omitempty"`

	Data PayloadData `json:"data"`
}

// PayloadData groups the observation itself.
type PayloadData struct {
	Server   ServerInfo   `json:"server"`
	Language LanguageInfo `json:"language"`
	Request  RequestInfo  `json:"request"`
	Response ResponseInfo `json:"response"`
	Errors   []ErrorInfo  `json:"errors"`
}

// ServerInfo describes the host process emitting the record.
type ServerInfo struct {
	Timezone string `json:"timezone"`
	Protocol string `json:"protocol,omitempty"`
	Software string `json:"software,omitempty"`
	OS       OSInfo `json:"os"`
}

type OSInfo struct {
	Name         string `json:"name"`
	Architecture string `json:"architecture"`
}

// LanguageInfo identifies the SDK runtime.
type LanguageInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RequestInfo is the sanitized request snapshot.
type RequestInfo struct {
	Timestamp string            `json:"timestamp"`
	IP        string            `json:"ip"`
	URL       string            `json:"url"`
	UserAgent string            `json:"user_agent"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      any               `json:"body,omitempty"`

	// Masked is false when the body passed through unparsed and therefore
	// unsanitized (non-JSON content type or malformed JSON).
	Masked bool `json:"body_masked"`
}

// ResponseInfo is the sanitized response snapshot. The zero value stands in
// for the response of a request-phase record or an aborted transaction.
type ResponseInfo struct {
	Code     int               `json:"code"`
	Size     int64             `json:"size"`
	LoadTime float64           `json:"load_time"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     any               `json:"body,omitempty"`
	Masked   bool              `json:"body_masked"`
}

// ErrorInfo records an HTTP error status or a telemetry degradation observed
// while assembling the record.
type ErrorInfo struct {
	Source  string `json:"source"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

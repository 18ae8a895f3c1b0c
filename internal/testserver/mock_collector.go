// Package testserver provides a mock collector endpoint for integration
// tests.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	tapwire "github.com/tapwirehq/tapwire-go/tapwire"
)

// MockCollector emulates the remote collector used by tests. It records every
// decoded payload and can be told which statuses to answer with; the engine
// is expected to ignore them either way.
type MockCollector struct {
	apiKey string

	srv *httptest.Server

	mu        sync.Mutex
	payloads  []tapwire.Payload
	responses []int

	payloadCh chan tapwire.Payload
}

// Start boots a mock collector that requires the given API key header.
func Start(apiKey string) (*MockCollector, error) {
	mc := &MockCollector{
		apiKey:    apiKey,
		payloadCh: make(chan tapwire.Payload, 100),
	}

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen tcp4: %w", err)
	}

	server := httptest.NewUnstartedServer(http.HandlerFunc(mc.handle))
	server.Listener = listener
	server.Start()

	mc.srv = server
	return mc, nil
}

func (m *MockCollector) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	if r.Header.Get("X-Api-Key") != m.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload tapwire.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	status := http.StatusOK
	if len(m.responses) > 0 {
		status = m.responses[0]
		m.responses = m.responses[1:]
	}
	if status >= 200 && status < 300 {
		m.payloads = append(m.payloads, payload)
		select {
		case m.payloadCh <- payload:
		default:
		}
	}
	m.mu.Unlock()

	w.WriteHeader(status)
}

// Endpoint returns the collector URL for the mock server.
func (m *MockCollector) Endpoint() string {
	return m.srv.URL + "/v1/ingest"
}

// SetResponses configures the sequence of HTTP statuses the collector emits.
func (m *MockCollector) SetResponses(statuses []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append([]int(nil), statuses...)
}

// Payloads returns a snapshot of all received payloads.
func (m *MockCollector) Payloads() []tapwire.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tapwire.Payload, len(m.payloads))
	copy(out, m.payloads)
	return out
}

// WaitForPayload blocks until a payload arrives or the timeout elapses.
func (m *MockCollector) WaitForPayload(timeout time.Duration) (tapwire.Payload, error) {
	select {
	case payload := <-m.payloadCh:
		return payload, nil
	case <-time.After(timeout):
		return tapwire.Payload{}, fmt.Errorf("timeout waiting for payload")
	}
}

// Stop shuts down the collector and releases resources.
func (m *MockCollector) Stop() {
	if m == nil || m.srv == nil {
		return
	}
	m.srv.Close()
	close(m.payloadCh)
}

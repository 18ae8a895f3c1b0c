// Package tapwire is an inline HTTP traffic inspector for reverse-proxy
// pipelines. For every proxied transaction it decides eligibility, captures
// the message body without disturbing the stream, redacts sensitive fields in
// a telemetry copy, and ships the sanitized record to a remote collector.
// All of its own failures are contained: the proxied transaction is never
// altered, delayed, or failed by the engine.
package tapwire

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Inspector is the capture-mask-dispatch engine. Its configuration is
// immutable after New; the phase entry points share no mutable state across
// transactions and are safe for concurrent use.
type Inspector struct {
	cc      *compiledConfig
	client  *http.Client
	diag    *diag
	metrics *metrics

	events  chan *Payload
	sem     chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	closeMu sync.RWMutex
	closed  bool
	enabled bool
	rnd     *rand.Rand
	rndMu   sync.Mutex
}

// Transaction correlates the request and response phases of one proxied
// exchange. The host binding obtains it from HandleRequest and hands it back
// to HandleResponse; the filter decision made during the request phase rides
// on it, so the response phase of a skipped transaction is never processed.
type Transaction struct {
	ID string

	decision Decision
	start    time.Time
	request  *RequestInfo
}

// Decision reports the filter outcome recorded for the transaction.
func (tx *Transaction) Decision() Decision {
	if tx == nil {
		return Skip
	}
	return tx.decision
}

// New validates cfg and returns a running Inspector, or a *ConfigError. A
// malformed configuration is fatal at initialization; no transaction is ever
// processed under a partial one.
func New(cfg Config) (*Inspector, error) {
	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}
	if !enabled {
		return newNoopInspector(cfg), nil
	}

	cc, err := compileConfig(cfg)
	if err != nil {
		return nil, err
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	maxConcurrent := cfg.MaxConcurrentDispatches
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentDispatches
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cc.dispatchTimeout}
	}

	inspector := &Inspector{
		cc:      cc,
		client:  client,
		diag:    newDiag(cfg.Logger, cfg.LogLevel),
		metrics: newInspectorMetrics(cfg.Registerer),
		events:  make(chan *Payload, queueSize),
		sem:     make(chan struct{}, maxConcurrent),
		enabled: true,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	inspector.wg.Add(1)
	go inspector.run()

	return inspector, nil
}

// NewNoop returns a disabled Inspector whose entry points are passthroughs.
func NewNoop() *Inspector {
	return newNoopInspector(Config{})
}

func newNoopInspector(cfg Config) *Inspector {
	return &Inspector{
		cc:      &compiledConfig{},
		client:  cfg.HTTPClient,
		diag:    newDiag(cfg.Logger, cfg.LogLevel),
		metrics: newInspectorMetrics(nil),
		enabled: false,
	}
}

// Enabled reports whether the Inspector observes traffic at all.
func (i *Inspector) Enabled() bool {
	if i == nil {
		return false
	}
	return i.enabled
}

// HandleRequest is the request-phase entry point. It filters, captures and
// masks the request, dispatches the request-phase record, and returns the
// transaction handle for the response phase. The message body visible
// downstream is restored byte-for-byte on every path; internal failures are
// logged and swallowed.
func (i *Inspector) HandleRequest(txID string, h Host) *Transaction {
	tx := &Transaction{ID: txID, decision: Skip, start: time.Now()}
	if i == nil || !i.enabled || h == nil {
		return tx
	}
	defer i.contain("request phase")

	decision, reason := i.decide(matchPath(h.URL()), h.ContentType())
	if decision == Skip {
		i.metrics.skipped.WithLabelValues(reason).Inc()
		i.diag.Debugf("tapwire: skipping %s %s (%s)", h.Method(), h.URL(), reason)
		return tx
	}
	tx.decision = Observe
	i.metrics.observed.WithLabelValues("request").Inc()

	body, restore := captureBody(h)
	defer restore()

	tx.request = i.buildRequestInfo(h, body, tx.start)

	payload, err := i.assemble(tx, nil)
	if err != nil {
		i.diag.Errorf("tapwire: assemble request record: %v", err)
		return tx
	}
	i.enqueue(payload)

	return tx
}

// HandleResponse is the response-phase entry point for the transaction
// returned by HandleRequest. Skipped transactions return immediately; a nil
// response host (transaction aborted mid-flight) still dispatches a partial
// record with the request snapshot only.
func (i *Inspector) HandleResponse(tx *Transaction, h Host) {
	if i == nil || !i.enabled || tx == nil || tx.decision != Observe {
		return
	}
	defer i.contain("response phase")

	var response *ResponseInfo
	if h != nil {
		body, restore := captureBody(h)
		defer restore()
		response = i.buildResponseInfo(h, body, tx.start)
	}
	i.metrics.observed.WithLabelValues("response").Inc()

	payload, err := i.assemble(tx, response)
	if err != nil {
		i.diag.Errorf("tapwire: assemble response record: %v", err)
		return
	}
	if reporter, ok := h.(ErrorReporter); ok {
		payload.Data.Errors = append(payload.Data.Errors, reporter.PipelineErrors()...)
	}
	i.enqueue(payload)
}

// contain converts an engine panic into a diagnostic log entry so the host
// pipeline never observes it. Deferred by both phase entry points.
func (i *Inspector) contain(phase string) {
	if rec := recover(); rec != nil {
		i.diag.Errorf("tapwire: recovered in %s: %v", phase, rec)
	}
}

// Shutdown drains the dispatch queue, waiting for in-flight sends up to the
// context deadline.
func (i *Inspector) Shutdown(ctx context.Context) error {
	if i == nil {
		return nil
	}

	i.once.Do(func() {
		// Taking the write lock waits out any enqueue in flight, so the
		// channel is never closed under a sender.
		i.closeMu.Lock()
		i.closed = true
		if i.enabled {
			close(i.events)
		}
		i.closeMu.Unlock()
	})

	if !i.enabled {
		return nil
	}

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (i *Inspector) Close() error {
	return i.Shutdown(context.Background())
}

package tapwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

const (
	maxAttempts = 3
	baseBackoff = 250 * time.Millisecond
	maxBackoff  = 2 * time.Second
)

// enqueue hands a record to the dispatch workers without ever blocking the
// calling transaction. A full queue drops the record and logs; records from
// straggler phase calls arriving after shutdown are dropped silently.
func (i *Inspector) enqueue(p *Payload) {
	i.closeMu.RLock()
	defer i.closeMu.RUnlock()
	if i.closed {
		return
	}
	select {
	case i.events <- p:
	default:
		i.metrics.dispatches.WithLabelValues(dispatchDropped).Inc()
		i.diag.Warnf("tapwire: dispatch queue is full; dropping record")
	}
}

func (i *Inspector) run() {
	defer i.wg.Done()
	for payload := range i.events {
		i.sem <- struct{}{}
		i.wg.Add(1)
		go func(p *Payload) {
			defer i.wg.Done()
			defer func() { <-i.sem }()
			i.send(p)
		}(payload)
	}
}

// send delivers one record to the collector. The collector's answer is
// drained and closed but never interpreted; transient transport errors are
// retried with jittered backoff, and every terminal failure is logged and
// discarded. Nothing here can reach the proxied transaction.
func (i *Inspector) send(p *Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		i.metrics.dispatches.WithLabelValues(dispatchError).Inc()
		i.diag.Errorf("tapwire: encode record: %v", err)
		return
	}

	backoff := baseBackoff

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), i.cc.dispatchTimeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cc.collectorURL, bytes.NewReader(body))
		if err != nil {
			cancel()
			i.metrics.dispatches.WithLabelValues(dispatchError).Inc()
			i.diag.Errorf("tapwire: build dispatch request: %v", err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", i.cc.apiKey)
		req.Header.Set("X-Tapwire-Version", VersionHeaderValue())

		start := time.Now()
		resp, err := i.client.Do(req)
		cancel()

		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			i.metrics.dispatches.WithLabelValues(dispatchOK).Inc()
			i.metrics.dispatchDuration.Observe(time.Since(start).Seconds())
			return
		}

		if !isRetryableError(err) || attempt == maxAttempts-1 {
			i.metrics.dispatches.WithLabelValues(dispatchError).Inc()
			i.diag.Errorf("tapwire: dispatch to %s failed: %v", i.cc.collectorURL, err)
			return
		}

		time.Sleep(i.jitter(backoff))
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (i *Inspector) jitter(base time.Duration) time.Duration {
	if i.rnd == nil {
		return base
	}
	i.rndMu.Lock()
	factor := 0.8 + 0.4*i.rnd.Float64()
	i.rndMu.Unlock()
	return time.Duration(float64(base) * factor)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.IsTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ECONNABORTED),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH),
			errors.Is(opErr.Err, syscall.ENETUNREACH):
			return true
		}

		var nestedDNS *net.DNSError
		if errors.As(opErr.Err, &nestedDNS) {
			return nestedDNS.Temporary() || nestedDNS.IsTimeout
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	return false
}

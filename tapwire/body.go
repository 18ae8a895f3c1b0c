package tapwire

// captureBody borrows the current message body from the host. The returned
// restore func writes the untouched bytes back and must run on every exit
// path; callers defer it immediately. A read failure yields an empty
// placeholder and a noop restore, since there is nothing to put back.
//
// The engine only ever restores the original bytes. Masking happens on a
// parsed copy, so the pipeline downstream observes the message exactly as if
// no interception had occurred.
func captureBody(h Host) (body []byte, restore func()) {
	raw, err := h.ReadBody()
	if err != nil {
		return nil, func() {}
	}
	return raw, func() { h.RestoreBody(raw) }
}

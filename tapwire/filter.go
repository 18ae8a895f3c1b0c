package tapwire

import (
	"mime"
	"net/url"
	"strings"
)

// Decision is the filter outcome for a transaction. It is made once, during
// the request phase, and carried on the Transaction so the response phase of
// a skipped request is never processed.
type Decision int

const (
	// Skip excludes the transaction from observation entirely.
	Skip Decision = iota
	// Observe captures, masks and dispatches both phases.
	Observe
)

const (
	skipReasonBlacklist   = "blacklist"
	skipReasonContentType = "content_type"
)

// decide is pure over (path, contentType) and the immutable configuration.
// Blacklist entries are tested in configured order, first match wins; the
// content-type check compares the bare media type, ignoring parameters and
// case.
func (i *Inspector) decide(path, contentType string) (Decision, string) {
	for _, rx := range i.cc.blacklist {
		if rx.MatchString(path) {
			return Skip, skipReasonBlacklist
		}
	}
	if !i.contentTypeAllowed(contentType) {
		return Skip, skipReasonContentType
	}
	return Observe, ""
}

func (i *Inspector) contentTypeAllowed(contentType string) bool {
	normalized := normalizeContentType(contentType)
	if normalized == "" {
		return false
	}
	_, ok := i.cc.contentTypes[normalized]
	return ok
}

// normalizeContentType strips media type parameters such as charset and
// lowercases the result. Returns "" when no media type can be extracted.
func normalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	if base, _, err := mime.ParseMediaType(contentType); err == nil {
		return base
	}
	// Malformed parameters still leave a usable media type before the ';'.
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// matchPath reduces a request URI to the path component the blacklist is
// matched against.
func matchPath(raw string) string {
	if raw == "" {
		return ""
	}
	path := raw
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "//") {
		if u, err := url.Parse(raw); err == nil && u.EscapedPath() != "" {
			path = u.EscapedPath()
		}
	}
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

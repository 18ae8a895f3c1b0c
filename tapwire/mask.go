package tapwire

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	// maskSentinel replaces every value under a sensitive key. It contains no
	// word characters, so re-masking an already masked payload is a noop.
	maskSentinel = "*****"

	// depthSentinel replaces subtrees nested beyond the configured bound.
	depthSentinel = "[MAX DEPTH]"
)

// maskBody parses raw as JSON and redacts values under sensitive keys.
// Non-JSON content types and unparsable bodies pass through as the raw string
// with masked=false, so the collector still receives the payload but knows it
// was not sanitized structurally. An empty body becomes an empty object.
func (i *Inspector) maskBody(raw []byte, contentType string) (body any, masked bool) {
	if len(raw) == 0 {
		return map[string]any{}, true
	}
	if !isJSONContentType(contentType) {
		return string(raw), false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw), false
	}
	i.metrics.maskedFields.Add(float64(maskValue(i.cc.sensitive, value, i.cc.maxDepth)))
	return value, true
}

type maskFrame struct {
	node  any
	depth int
}

// maskValue walks the parsed value tree iteratively with an explicit work
// stack, replacing values whose parent key matches the sensitive pattern with
// the mask sentinel. Matched values are replaced whole, whatever their type,
// and never descended into. Array elements inherit the rule from their
// parent key; indexes are never matched. Subtrees past maxDepth are truncated
// with the depth sentinel. Returns the number of fields masked.
//
// The walk mutates value in place; callers own the parsed copy, never the
// bytes the pipeline forwards.
func maskValue(sensitive *regexp.Regexp, value any, maxDepth int) int {
	count := 0
	stack := []maskFrame{{node: value, depth: 0}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node := frame.node.(type) {
		case map[string]any:
			for key, child := range node {
				if sensitive.MatchString(key) {
					node[key] = maskSentinel
					count++
					continue
				}
				if !isContainer(child) {
					continue
				}
				if frame.depth+1 >= maxDepth {
					node[key] = depthSentinel
					continue
				}
				stack = append(stack, maskFrame{node: child, depth: frame.depth + 1})
			}
		case []any:
			for idx, child := range node {
				if !isContainer(child) {
					continue
				}
				if frame.depth+1 >= maxDepth {
					node[idx] = depthSentinel
					continue
				}
				stack = append(stack, maskFrame{node: child, depth: frame.depth + 1})
			}
		}
	}
	return count
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// maskHeaders applies the sensitive-key pattern to header names. Values under
// non-matching names pass through untouched.
func (i *Inspector) maskHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if i.cc.sensitive.MatchString(name) {
			out[name] = maskSentinel
			continue
		}
		out[name] = value
	}
	return out
}

func isJSONContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}

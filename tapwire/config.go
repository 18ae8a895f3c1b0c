package tapwire

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxDepth                = 64
	defaultDispatchTimeout         = 10 * time.Second
	defaultMaxConcurrentDispatches = 5
	defaultQueueSize               = 5000
)

// defaultSensitivePattern covers common secret-bearing body field and header
// names. Matching is case-insensitive and by substring, so e.g. "user_password"
// and "Card_Number" are caught. The mask sentinel contains no word characters
// and can never re-match this pattern.
const defaultSensitivePattern = `(?i)(password|pwd|secret|password_confirmation|cc|card_number|ccv|ssn|credit_score|api_key|apikey|authorization|cookie|set-cookie|x-api-key)`

var defaultContentTypes = []string{"application/json"}

// Config holds the static settings for an Inspector. It is read exactly once
// by New; the Inspector keeps its own validated copy and never observes later
// mutations.
type Config struct {
	// CollectorURL is the absolute URL of the remote collector. The scheme
	// must be https, or http when the host is a loopback address (local
	// collectors and tests).
	CollectorURL string

	// APIKey and ProjectID identify the reporting project. Both are required.
	APIKey    string
	ProjectID string

	// RouteBlacklist lists request paths excluded from observation. Entries
	// are regular expressions (a literal path such as "/ping" works as an
	// exact-prefix pattern) and are tested in the configured order, first
	// match wins.
	RouteBlacklist []string

	// SensitiveKeys is an additional case-insensitive pattern over field and
	// header names. It is unioned with the built-in default set; it never
	// replaces it.
	SensitiveKeys string

	// AllowedContentTypes lists the request media types eligible for
	// observation. Parameters (charset etc.) are ignored when comparing.
	// Defaults to application/json.
	AllowedContentTypes []string

	// MaxDepth bounds the masker's traversal of nested payloads. Subtrees
	// below the bound are truncated, not failed. Defaults to 64.
	MaxDepth int

	// DispatchTimeout bounds a single delivery attempt to the collector.
	// Defaults to 10s.
	DispatchTimeout time.Duration

	MaxConcurrentDispatches int
	QueueSize               int

	// Enabled defaults to true. A disabled Inspector is a noop passthrough.
	Enabled *bool

	HTTPClient *http.Client

	// Logger receives diagnostic messages, filtered by LogLevel
	// (debug|info|warn|error|none; default error). Defaults to a discard
	// logger.
	Logger   *log.Logger
	LogLevel string

	// Registerer receives the engine's self-metrics. When nil the metrics
	// are kept on a private registry and effectively unexported.
	Registerer prometheus.Registerer
}

// ConfigError is the only fatal error class: it is returned by New and
// prevents the Inspector from ever processing a transaction.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tapwire config: %s: %s", e.Field, e.Reason)
}

// fileConfig is the serialized form of Config accepted from YAML files and
// from host-supplied JSON blobs.
type fileConfig struct {
	CollectorURL        string   `yaml:"collector_url" json:"collectorUrl"`
	APIKey              string   `yaml:"api_key" json:"apiKey"`
	ProjectID           string   `yaml:"project_id" json:"projectId"`
	RouteBlacklist      []string `yaml:"route_blacklist" json:"routeBlacklist"`
	SensitiveKeys       string   `yaml:"sensitive_keys" json:"sensitiveKeysRegex"`
	AllowedContentTypes []string `yaml:"allowed_content_types" json:"allowedContentTypes"`
	MaxDepth            int      `yaml:"max_depth" json:"maxDepth"`
	DispatchTimeoutMS   int      `yaml:"dispatch_timeout_ms" json:"dispatchTimeoutMs"`
	LogLevel            string   `yaml:"log_level" json:"logLevel"`
}

func (fc fileConfig) toConfig() Config {
	cfg := Config{
		CollectorURL:        fc.CollectorURL,
		APIKey:              fc.APIKey,
		ProjectID:           fc.ProjectID,
		RouteBlacklist:      fc.RouteBlacklist,
		SensitiveKeys:       fc.SensitiveKeys,
		AllowedContentTypes: fc.AllowedContentTypes,
		MaxDepth:            fc.MaxDepth,
		LogLevel:            fc.LogLevel,
	}
	if fc.DispatchTimeoutMS > 0 {
		cfg.DispatchTimeout = time.Duration(fc.DispatchTimeoutMS) * time.Millisecond
	}
	return cfg
}

// LoadFile reads a YAML configuration file. The result still goes through the
// full validation in New.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Field: "file", Reason: err.Error()}
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, &ConfigError{Field: "file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return fc.toConfig(), nil
}

// FromJSON parses the JSON configuration form injected by proxy hosts.
func FromJSON(raw []byte) (Config, error) {
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return Config{}, &ConfigError{Field: "json", Reason: err.Error()}
	}
	return fc.toConfig(), nil
}

// compiledConfig is the immutable runtime view of a validated Config.
type compiledConfig struct {
	collectorURL string
	apiKey       string
	projectID    string

	blacklist    []*regexp.Regexp
	sensitive    *regexp.Regexp
	contentTypes map[string]struct{}

	maxDepth        int
	dispatchTimeout time.Duration
}

func compileConfig(cfg Config) (*compiledConfig, error) {
	if err := validateCollectorURL(cfg.CollectorURL); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "apiKey", Reason: "must not be empty"}
	}
	if cfg.ProjectID == "" {
		return nil, &ConfigError{Field: "projectId", Reason: "must not be empty"}
	}

	pattern := defaultSensitivePattern
	if cfg.SensitiveKeys != "" {
		if _, err := regexp.Compile(cfg.SensitiveKeys); err != nil {
			return nil, &ConfigError{Field: "sensitiveKeys", Reason: err.Error()}
		}
		pattern = fmt.Sprintf("(?i)(?:%s)|(?:%s)", defaultSensitivePattern, cfg.SensitiveKeys)
	}
	sensitive, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ConfigError{Field: "sensitiveKeys", Reason: err.Error()}
	}

	blacklist := make([]*regexp.Regexp, 0, len(cfg.RouteBlacklist))
	for _, entry := range cfg.RouteBlacklist {
		rx, err := regexp.Compile(entry)
		if err != nil {
			return nil, &ConfigError{Field: "routeBlacklist", Reason: fmt.Sprintf("%q: %v", entry, err)}
		}
		blacklist = append(blacklist, rx)
	}

	allowed := cfg.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = defaultContentTypes
	}
	contentTypes := make(map[string]struct{}, len(allowed))
	for _, ct := range allowed {
		normalized := normalizeContentType(ct)
		if normalized == "" {
			return nil, &ConfigError{Field: "allowedContentTypes", Reason: fmt.Sprintf("invalid media type %q", ct)}
		}
		contentTypes[normalized] = struct{}{}
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}

	return &compiledConfig{
		collectorURL:    cfg.CollectorURL,
		apiKey:          cfg.APIKey,
		projectID:       cfg.ProjectID,
		blacklist:       blacklist,
		sensitive:       sensitive,
		contentTypes:    contentTypes,
		maxDepth:        maxDepth,
		dispatchTimeout: timeout,
	}, nil
}

func validateCollectorURL(raw string) error {
	if raw == "" {
		return &ConfigError{Field: "collectorUrl", Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Field: "collectorUrl", Reason: err.Error()}
	}
	if !u.IsAbs() || u.Host == "" {
		return &ConfigError{Field: "collectorUrl", Reason: "must be an absolute URL"}
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(u.Hostname()) {
			return nil
		}
		return &ConfigError{Field: "collectorUrl", Reason: "plain http is only allowed for loopback collectors"}
	default:
		return &ConfigError{Field: "collectorUrl", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

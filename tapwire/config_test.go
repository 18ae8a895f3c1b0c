package tapwire

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validTestConfig() Config {
	return Config{
		CollectorURL: "https://collector.example.com/v1/ingest",
		APIKey:       "tw_test_key",
		ProjectID:    "test-project",
	}
}

func TestCompileConfigAcceptsValidConfig(t *testing.T) {
	cc, err := compileConfig(validTestConfig())
	if err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cc.maxDepth != defaultMaxDepth {
		t.Fatalf("default max depth not applied: %d", cc.maxDepth)
	}
	if cc.dispatchTimeout != defaultDispatchTimeout {
		t.Fatalf("default dispatch timeout not applied: %v", cc.dispatchTimeout)
	}
	if _, ok := cc.contentTypes["application/json"]; !ok {
		t.Fatal("default allowed content types not applied")
	}
}

func TestCompileConfigAllowsLoopbackHTTP(t *testing.T) {
	cases := []string{
		"http://localhost:3002/v1/ingest",
		"http://127.0.0.1:9000/v1/ingest",
		"http://[::1]:3000/v1/ingest",
	}
	for _, endpoint := range cases {
		cfg := validTestConfig()
		cfg.CollectorURL = endpoint
		if _, err := compileConfig(cfg); err != nil {
			t.Fatalf("endpoint %q should be accepted: %v", endpoint, err)
		}
	}
}

func TestCompileConfigRejectsBadCollectorURLs(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"relative":           "/v1/ingest",
		"plain http remote":  "http://collector.example.com/v1/ingest",
		"unsupported scheme": "ftp://collector.example.com/v1/ingest",
	}
	for name, endpoint := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.CollectorURL = endpoint
			_, err := compileConfig(cfg)
			if err == nil {
				t.Fatalf("endpoint %q should be rejected", endpoint)
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) || cerr.Field != "collectorUrl" {
				t.Fatalf("expected collectorUrl ConfigError, got %v", err)
			}
		})
	}
}

func TestCompileConfigRequiresIdentifiers(t *testing.T) {
	cfg := validTestConfig()
	cfg.APIKey = ""
	if _, err := compileConfig(cfg); err == nil {
		t.Fatal("expected apiKey error")
	}

	cfg = validTestConfig()
	cfg.ProjectID = ""
	if _, err := compileConfig(cfg); err == nil {
		t.Fatal("expected projectId error")
	}
}

func TestCompileConfigRejectsInvalidPatterns(t *testing.T) {
	cfg := validTestConfig()
	cfg.SensitiveKeys = "[invalid"
	if _, err := compileConfig(cfg); err == nil {
		t.Fatal("expected sensitiveKeys error")
	}

	cfg = validTestConfig()
	cfg.RouteBlacklist = []string{"^/ok$", "[invalid"}
	if _, err := compileConfig(cfg); err == nil {
		t.Fatal("expected routeBlacklist error")
	}
}

func TestCompileConfigUnionsSensitivePattern(t *testing.T) {
	cfg := validTestConfig()
	cfg.SensitiveKeys = "internal_ref"
	cc, err := compileConfig(cfg)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Both the user addition and the built-in defaults must match.
	for _, key := range []string{"internal_ref", "password", "Card_Number", "CCV"} {
		if !cc.sensitive.MatchString(key) {
			t.Fatalf("pattern should match %q", key)
		}
	}
	if cc.sensitive.MatchString(maskSentinel) {
		t.Fatal("mask sentinel must never match the sensitive pattern")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := validTestConfig()
	cfg.CollectorURL = "not a url at all ://"
	if _, err := New(cfg); err == nil {
		t.Fatal("New must fail on malformed configuration")
	}
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	disabled := false
	inspector, err := New(Config{Enabled: &disabled})
	if err != nil {
		t.Fatalf("disabled inspector should not validate: %v", err)
	}
	if inspector.Enabled() {
		t.Fatal("expected disabled inspector")
	}
}

func TestFromJSONParsesHostConfig(t *testing.T) {
	raw := []byte(`{
		"collectorUrl": "https://collector.example.com/v1/ingest",
		"apiKey": "tw_abc",
		"projectId": "proj-1",
		"routeBlacklist": ["^/health$", "^/metrics$"],
		"sensitiveKeysRegex": "internal_ref",
		"allowedContentTypes": ["application/json", "application/vnd.api+json"],
		"maxDepth": 16,
		"dispatchTimeoutMs": 2500,
		"logLevel": "warn"
	}`)

	cfg, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if cfg.APIKey != "tw_abc" || cfg.ProjectID != "proj-1" {
		t.Fatalf("identifiers not parsed: %+v", cfg)
	}
	if len(cfg.RouteBlacklist) != 2 || cfg.RouteBlacklist[0] != "^/health$" {
		t.Fatalf("blacklist not parsed: %v", cfg.RouteBlacklist)
	}
	if cfg.MaxDepth != 16 {
		t.Fatalf("maxDepth not parsed: %d", cfg.MaxDepth)
	}
	if cfg.DispatchTimeout != 2500*time.Millisecond {
		t.Fatalf("dispatch timeout not parsed: %v", cfg.DispatchTimeout)
	}

	if _, err := compileConfig(cfg); err != nil {
		t.Fatalf("parsed config should validate: %v", err)
	}
}

func TestFromJSONRejectsMalformedInput(t *testing.T) {
	if _, err := FromJSON([]byte(`{"apiKey":`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tapwire.yaml")
	content := `
collector_url: https://collector.example.com/v1/ingest
api_key: tw_abc
project_id: proj-1
route_blacklist:
  - ^/ping$
allowed_content_types:
  - application/json
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.CollectorURL != "https://collector.example.com/v1/ingest" {
		t.Fatalf("collector url not parsed: %q", cfg.CollectorURL)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not parsed: %q", cfg.LogLevel)
	}
	if _, err := compileConfig(cfg); err != nil {
		t.Fatalf("parsed config should validate: %v", err)
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package tapwire

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMaskBodyRedactsSensitiveKeys(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	body, masked := inspector.maskBody([]byte(`{"user":"a","password":"secret123"}`), "application/json")
	if !masked {
		t.Fatal("JSON body should be flagged masked")
	}
	obj := body.(map[string]any)
	if obj["password"] != maskSentinel {
		t.Fatalf("password not masked: %v", obj["password"])
	}
	if obj["user"] != "a" {
		t.Fatalf("non-sensitive value changed: %v", obj["user"])
	}
}

func TestMaskBodyReplacesWholeSubtreeOnParentKeyMatch(t *testing.T) {
	inspector := newTestInspector(t, Config{SensitiveKeys: "card"})

	body, masked := inspector.maskBody([]byte(`{"card":{"number":"4111111111111111","ccv":"123"},"note":"x"}`), "application/json")
	if !masked {
		t.Fatal("expected masked")
	}
	obj := body.(map[string]any)
	if obj["card"] != maskSentinel {
		t.Fatalf("matching parent key must redact the whole subtree, got %v", obj["card"])
	}
	if obj["note"] != "x" {
		t.Fatalf("sibling value changed: %v", obj["note"])
	}
}

func TestMaskBodyTraversesArraysByParentKey(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	raw := `{"members":[{"name":"a","password":"p1"},{"name":"b","password":"p2"}]}`
	body, _ := inspector.maskBody([]byte(raw), "application/json")

	members := body.(map[string]any)["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("array length changed: %d", len(members))
	}
	for idx, elem := range members {
		entry := elem.(map[string]any)
		if entry["password"] != maskSentinel {
			t.Fatalf("element %d not masked: %v", idx, entry["password"])
		}
		if entry["name"] == maskSentinel {
			t.Fatalf("element %d name wrongly masked", idx)
		}
	}
}

func TestMaskBodyPreservesShape(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	raw := []byte(`{"user":"a","password":"x","nested":{"token_count":3,"items":[1,2,3]}}`)
	var before map[string]any
	if err := json.Unmarshal(raw, &before); err != nil {
		t.Fatal(err)
	}

	body, _ := inspector.maskBody(raw, "application/json")
	after := body.(map[string]any)

	if len(after) != len(before) {
		t.Fatalf("top-level key count changed: %d != %d", len(after), len(before))
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			t.Fatalf("key %q disappeared", key)
		}
	}
}

func TestMaskIsIdempotent(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	raw := []byte(`{"user":"a","password":"x","card_number":"4111","data":{"ssn":"123-45-6789"}}`)
	once, _ := inspector.maskBody(raw, "application/json")

	// Re-mask the already-masked tree; nothing may change.
	encoded, err := json.Marshal(once)
	if err != nil {
		t.Fatal(err)
	}
	twice, _ := inspector.maskBody(encoded, "application/json")

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("masking is not idempotent:\nonce:  %#v\ntwice: %#v", once, twice)
	}
}

func TestMaskBodyPassesThroughNonJSONContentType(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	body, masked := inspector.maskBody([]byte("password=secret"), "text/plain")
	if masked {
		t.Fatal("non-JSON content must be flagged unmasked")
	}
	if body != "password=secret" {
		t.Fatalf("non-JSON content must pass through unchanged: %v", body)
	}
}

func TestMaskBodyPassesThroughMalformedJSON(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	raw := `{"password": "secret`
	body, masked := inspector.maskBody([]byte(raw), "application/json")
	if masked {
		t.Fatal("malformed JSON must be flagged unmasked")
	}
	if body != raw {
		t.Fatalf("malformed JSON must pass through unchanged: %v", body)
	}
}

func TestMaskBodyEmptyBodyPlaceholder(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	body, masked := inspector.maskBody(nil, "application/json")
	if !masked {
		t.Fatal("empty body placeholder counts as masked")
	}
	obj, ok := body.(map[string]any)
	if !ok || len(obj) != 0 {
		t.Fatalf("expected empty object placeholder, got %#v", body)
	}
}

func TestMaskBodyTruncatesBeyondMaxDepth(t *testing.T) {
	inspector := newTestInspector(t, Config{MaxDepth: 3})

	raw := []byte(`{"l1":{"l2":{"l3":{"l4":{"l5":"deep"}}},"ok":"v"}}`)
	body, masked := inspector.maskBody(raw, "application/json")
	if !masked {
		t.Fatal("expected masked")
	}

	l1 := body.(map[string]any)["l1"].(map[string]any)
	if l1["ok"] != "v" {
		t.Fatalf("shallow value changed: %v", l1["ok"])
	}
	l2 := l1["l2"].(map[string]any)
	if l2["l3"] != depthSentinel {
		t.Fatalf("subtree past the depth bound should be truncated, got %#v", l2["l3"])
	}
}

func TestMaskValueDeepNestingDoesNotOverflow(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	// Build a tree far deeper than any call stack should be asked to walk.
	root := map[string]any{}
	node := root
	for depth := 0; depth < 100000; depth++ {
		child := map[string]any{}
		node["next"] = child
		node = child
	}
	node["password"] = "x"

	if got := maskValue(inspector.cc.sensitive, root, 1<<30); got != 1 {
		t.Fatalf("expected exactly one masked field, got %d", got)
	}
}

func TestMaskHeadersRedactsByName(t *testing.T) {
	inspector := newTestInspector(t, Config{})

	headers := inspector.maskHeaders(map[string]string{
		"authorization": "Bearer abc",
		"cookie":        "session=1",
		"content-type":  "application/json",
	})

	if headers["authorization"] != maskSentinel || headers["cookie"] != maskSentinel {
		t.Fatalf("credential headers not masked: %v", headers)
	}
	if headers["content-type"] != "application/json" {
		t.Fatalf("benign header changed: %v", headers["content-type"])
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"", InfoLevel, false},
		{"nonsense", InfoLevel, true},
	}

	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestComponentNestsPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Output: &buf})

	engine := l.Component("engine")
	queue := engine.Component("queue")
	if queue.Prefix() != "engine/queue" {
		t.Errorf("Prefix() = %q, want engine/queue", queue.Prefix())
	}

	queue.Info("drained", "ops", 3)
	out := buf.String()
	if !strings.Contains(out, "engine/queue") {
		t.Errorf("component prefix missing from %q", out)
	}
	if !strings.Contains(out, "drained") {
		t.Errorf("message missing from %q", out)
	}
}

func TestComponentInheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "error", Output: &buf})

	l.Component("utxo").Info("should be filtered")

	if buf.Len() != 0 {
		t.Errorf("expected no output at error level, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Format: FormatJSON, Output: &buf})

	l.Component("rpc").With("request_id", "abc").Info("handled")

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	if line["msg"] != "handled" || line["request_id"] != "abc" || line["prefix"] != "rpc" {
		t.Errorf("unexpected fields %v", line)
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"", FormatText, FormatJSON} {
		if !ValidFormat(f) {
			t.Errorf("ValidFormat(%q) = false", f)
		}
	}
	if ValidFormat("xml") {
		t.Error("ValidFormat(xml) = true")
	}
}

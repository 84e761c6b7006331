package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	root := Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	l := WithSession(WithComponent(root, "tutor"), "sess-1")
	l.Debug().Msg("bonjour")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "tutor" || entry["session_id"] != "sess-1" || entry["message"] != "bonjour" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	root := Init(Config{Level: "loud", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Fatalf("GlobalLevel() = %v, want info", got)
	}
	l := WithComponent(root, "x")
	l.Debug().Msg("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug line written at info level")
	}
}

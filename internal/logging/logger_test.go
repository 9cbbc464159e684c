package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nhle/filterctl/internal/model"
)

func TestNew_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filterctl.log")
	logger, closer := New(model.LoggingConfig{Level: "warn", Format: "json", Output: path})

	logger.Info("hidden")
	WithComponent(logger, "rpc").Warn("shown", "request_id", "r1")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), data)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if rec["msg"] != "shown" || rec["component"] != "rpc" || rec["request_id"] != "r1" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestWithAccount(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	WithAccount(WithComponent(logger, "poller"), "a").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "component=poller") || !strings.Contains(out, "account=a") {
		t.Errorf("unexpected output %q", out)
	}
}

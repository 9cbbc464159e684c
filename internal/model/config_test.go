package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RPC.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RPC.RequestTimeout)
	}
	if cfg.RPC.SweepInterval != time.Second || cfg.RPC.DedupRetention != 10*time.Minute {
		t.Errorf("unexpected rpc defaults %+v", cfg.RPC)
	}
	if !cfg.RPC.AutoDelete {
		t.Error("AutoDelete should default to true")
	}
	if cfg.Storage.Path == "" || len(cfg.Accounts) != 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfig_Accounts(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - id: work
    email: alice@example.com
    imap: {host: imap.example.com, tls: true}
    smtp: {host: smtp.example.com}
  - id: home
    email: bob@example.org
    username: bob
    service_address: filters@example.org
    poll_interval: 2m
    imap: {host: 10.0.0.5, port: 1143}
    smtp: {host: mail.example.org, port: 2525, tls: true}
rpc:
  request_timeout: 0s
  auto_delete: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(cfg.Accounts))
	}

	work, ok := cfg.Account("work")
	if !ok {
		t.Fatal("account work not found")
	}
	if work.Username != "alice@example.com" || work.PollInterval != 30*time.Second {
		t.Errorf("work defaults not applied: %+v", work)
	}
	if work.IMAP.Port != 993 || work.SMTP.Port != 587 {
		t.Errorf("work ports = %d/%d", work.IMAP.Port, work.SMTP.Port)
	}

	home, _ := cfg.Account("home")
	if home.Username != "bob" || home.PollInterval != 2*time.Minute || home.IMAP.Port != 1143 {
		t.Errorf("home overrides lost: %+v", home)
	}
	if cfg.RPC.RequestTimeout != 0 || cfg.RPC.AutoDelete {
		t.Errorf("rpc overrides lost: %+v", cfg.RPC)
	}
	if cfg.RPC.ReplyWindow != 60*time.Second {
		t.Errorf("ReplyWindow default lost: %v", cfg.RPC.ReplyWindow)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FILTERCTL_RPC_REQUEST_TIMEOUT", "5s")
	t.Setenv("FILTERCTL_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RPC.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RPC.RequestTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "bad email",
			content: `
accounts:
  - id: a
    email: not-an-address
    imap: {host: imap.example.com}
    smtp: {host: smtp.example.com}
`,
			want: "Email",
		},
		{
			name: "missing host",
			content: `
accounts:
  - id: a
    email: a@example.com
    smtp: {host: smtp.example.com}
`,
			want: "IMAP.Host",
		},
		{
			name: "duplicate id",
			content: `
accounts:
  - id: a
    email: a@example.com
    imap: {host: imap.example.com}
    smtp: {host: smtp.example.com}
  - id: a
    email: b@example.com
    imap: {host: imap.example.com}
    smtp: {host: smtp.example.com}
`,
			want: "duplicate account id",
		},
		{
			name:    "bad log level",
			content: "logging: {level: loud}\n",
			want:    "Level",
		},
		{
			name:    "zero sweep",
			content: "rpc: {sweep_interval: 0s}\n",
			want:    "SweepInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &AppConfig{
		Accounts: []AccountConfig{{
			ID:           "a",
			Email:        "a@example.com",
			Username:     "a@example.com",
			PollInterval: time.Minute,
			IMAP:         ServerConfig{Host: "imap.example.com", Port: 993, TLS: true},
			SMTP:         ServerConfig{Host: "smtp.example.com", Port: 587},
		}},
		RPC: RPCConfig{
			RequestTimeout: 30 * time.Second,
			SweepInterval:  2 * time.Second,
			ReplyWindow:    time.Minute,
			DedupRetention: 5 * time.Minute,
			AutoDelete:     true,
		},
		Storage: StorageConfig{Path: "/tmp/state.db"},
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
	}

	if err := SaveConfig(path, in); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	out, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if out.RPC != in.RPC || out.Storage != in.Storage || out.Logging != in.Logging {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
	if len(out.Accounts) != 1 || out.Accounts[0] != in.Accounts[0] {
		t.Errorf("accounts mismatch: %+v", out.Accounts)
	}
}

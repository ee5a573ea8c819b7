package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkarpov/certmail/internal/quota"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
api:
  listen_addr: ":9080"
  api_key: "test-api-key"
  read_timeout: 10s

mail:
  backend: smtp
  send_timeout: 15s
  smtp:
    addr: "mail.test.com:587"
    username: "sender"
    password: "secret"
    from: "certs@test.com"

quota:
  delay: 250ms
  messages_per_day: 500

storage:
  path: "/tmp/quota.db"

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: true
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.APIKey != "test-api-key" {
		t.Errorf("API.APIKey = %v, want test-api-key", cfg.API.APIKey)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 10s", cfg.API.ReadTimeout)
	}
	if cfg.Mail.Backend != BackendSMTP {
		t.Errorf("Mail.Backend = %v, want smtp", cfg.Mail.Backend)
	}
	if cfg.Mail.SendTimeout != 15*time.Second {
		t.Errorf("Mail.SendTimeout = %v, want 15s", cfg.Mail.SendTimeout)
	}
	if cfg.Mail.SMTP.Addr != "mail.test.com:587" {
		t.Errorf("Mail.SMTP.Addr = %v", cfg.Mail.SMTP.Addr)
	}
	if cfg.Quota.Delay != 250*time.Millisecond {
		t.Errorf("Quota.Delay = %v, want 250ms", cfg.Quota.Delay)
	}
	if cfg.Quota.MessagesPerDay != 500 {
		t.Errorf("Quota.MessagesPerDay = %v, want 500", cfg.Quota.MessagesPerDay)
	}
	if cfg.Storage.Path != "/tmp/quota.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.API.MaxUploadBytes != 10*1024*1024 {
		t.Errorf("API.MaxUploadBytes = %v, want 10MB", cfg.API.MaxUploadBytes)
	}
	if cfg.Mail.Backend != BackendGmail {
		t.Errorf("Mail.Backend = %v, want gmail", cfg.Mail.Backend)
	}
	if cfg.Mail.SendTimeout != 30*time.Second {
		t.Errorf("Mail.SendTimeout = %v, want 30s", cfg.Mail.SendTimeout)
	}
	if cfg.Quota.Delay != quota.DefaultDelay {
		t.Errorf("Quota.Delay = %v, want %v", cfg.Quota.Delay, quota.DefaultDelay)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %v/%v, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", cfg.Metrics.Path)
	}
	if cfg.HasTLS() {
		t.Error("HasTLS() = true with no TLS config")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown backend",
			content: "mail:\n  backend: sendmail\n",
			wantErr: "invalid mail.backend",
		},
		{
			name:    "smtp backend without addr",
			content: "mail:\n  backend: smtp\n  smtp:\n    from: a@b\n",
			wantErr: "mail.smtp.addr is required",
		},
		{
			name:    "smtp backend without from",
			content: "mail:\n  backend: smtp\n  smtp:\n    addr: h:587\n",
			wantErr: "mail.smtp.from is required",
		},
		{
			name:    "bad log level",
			content: "logging:\n  level: verbose\n",
			wantErr: "invalid logging.level",
		},
		{
			name:    "bad log format",
			content: "logging:\n  format: xml\n",
			wantErr: "invalid logging.format",
		},
		{
			name:    "cert file without key file",
			content: "api:\n  tls:\n    cert_file: /tmp/cert.pem\n",
			wantErr: "api.tls.key_file is required",
		},
		{
			name:    "manual certs and acme together",
			content: "api:\n  tls:\n    cert_file: /c\n    key_file: /k\n    acme:\n      enabled: true\n      email: a@b\n      domains: [x.com]\n",
			wantErr: "cannot use both",
		},
		{
			name:    "acme without email",
			content: "api:\n  tls:\n    acme:\n      enabled: true\n      domains: [x.com]\n",
			wantErr: "acme.email is required",
		},
		{
			name:    "acme without domains",
			content: "api:\n  tls:\n    acme:\n      enabled: true\n      email: a@b\n",
			wantErr: "acme.domains must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHasTLS(t *testing.T) {
	cfg := Default()
	cfg.API.TLS.CertFile = "/c"
	cfg.API.TLS.KeyFile = "/k"
	if !cfg.HasTLS() {
		t.Error("HasTLS() = false with manual certs")
	}

	cfg = Default()
	cfg.API.TLS.ACME.Enabled = true
	if !cfg.HasTLS() {
		t.Error("HasTLS() = false with ACME enabled")
	}
}

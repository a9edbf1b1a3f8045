package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LUDEX_SESSION_SECRET", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GOOGLE_SHEETS_ID", "sheet-1")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_KEY", `{"client_email":"svc@example.iam"}`)
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "minio")
	t.Setenv("MINIO_SECRET_KEY", "minio123")
	t.Setenv("MINIO_BUCKET", "ludex")
}

func TestLoadFromEnvOnly(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listenAddr = %q, want default", cfg.ListenAddr)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Fatalf("apiKey = %q", cfg.OpenAI.APIKey)
	}
	if cfg.Queue.Stream != "ludex:process" || cfg.Queue.Concurrency != 2 {
		t.Fatalf("queue defaults = %+v", cfg.Queue)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LUDEX_LISTEN_ADDR", ":9090")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listenAddr: \":8081\"\nlogLevel: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listenAddr = %q, want env override", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("logLevel = %q, want file value", cfg.LogLevel)
	}
}

func TestValidateNamesMissingSetting(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("err = %v, want mention of OPENAI_API_KEY", err)
	}
}

func TestMalformedYAMLRejected(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listenAddr: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

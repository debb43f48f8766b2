package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dynvoke.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, `
http:
  addr: "0.0.0.0:9000"
  path_prefix: /rpc
  read_header_timeout: 3s
  gzip: true
metrics:
  addr: "127.0.0.1:9100"
nats:
  url: nats://127.0.0.1:4222
  queue: workers
rate_limit:
  rps: 5
  burst: 10
cors:
  enabled: true
  allow_origins: ["http://a.test"]
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != "0.0.0.0:9000" || cfg.HTTP.PathPrefix != "/rpc" || !cfg.HTTP.Gzip {
		t.Errorf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.HTTP.ReadHeaderTimeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.HTTP.ReadHeaderTimeout)
	}
	if cfg.HTTP.MaxBodyBytes != 1<<20 {
		t.Errorf("expected unset fields to keep defaults, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.NATS.SubjectPrefix != "dynvoke" || cfg.NATS.Queue != "workers" {
		t.Errorf("unexpected nats config %+v", cfg.NATS)
	}
	if cfg.RateLimit.RPS != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowOrigins, []string{"http://a.test"}) {
		t.Errorf("unexpected origins %v", cfg.CORS.AllowOrigins)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "http:\n  addr: \"0.0.0.0:9000\"\n")
	t.Setenv("DYNVOKE_HTTP_ADDR", "127.0.0.1:7000")
	t.Setenv("DYNVOKE_LOG_LEVEL", "warn")
	t.Setenv("DYNVOKE_RATE_LIMIT_RPS", "2.5")
	t.Setenv("DYNVOKE_RATE_LIMIT_BURST", "4")
	t.Setenv("DYNVOKE_CORS_ALLOW_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:7000" {
		t.Errorf("expected env to win, got %s", cfg.HTTP.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected warn, got %s", cfg.Log.Level)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 4 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if len(cfg.CORS.AllowOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.CORS.AllowOrigins)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "http:\n  port: 1\n", "port"},
		{"bad addr", "http:\n  addr: nowhere\n", "HTTP.Addr"},
		{"bad prefix", "http:\n  path_prefix: rpc\n", "HTTP.PathPrefix"},
		{"bad level", "log:\n  level: loud\n", "Log.Level"},
		{"bad format", "log:\n  format: xml\n", "Log.Format"},
		{"burst required", "rate_limit:\n  rps: 3\n", "RateLimit.Burst"},
		{"bad nats url", "nats:\n  url: \"::\"\n", "NATS.URL"},
		{"bad subject prefix", "nats:\n  subject_prefix: \"a.*\"\n", "NATS.SubjectPrefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != Default().HTTP.Addr {
		t.Errorf("expected default addr, got %s", cfg.HTTP.Addr)
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON output, got %s", out)
	}

	buf.Reset()
	LogConfig{Level: "debug"}.NewLogger(&buf).Debug("dbg")
	if !strings.Contains(buf.String(), "msg=dbg") {
		t.Errorf("expected text output, got %s", buf.String())
	}
}

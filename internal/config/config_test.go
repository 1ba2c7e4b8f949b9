package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    Environment
		wantErr bool
	}{
		{"local", EnvLocal, false},
		{"DEV", EnvDev, false},
		{"development", EnvDev, false},
		{" staging ", EnvStaging, false},
		{"prod", EnvProd, false},
		{"production", EnvProd, false},
		{"qa", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEnvironment(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEnvironment(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEnvironment(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnvironmentHolder(t *testing.T) {
	var h EnvironmentHolder
	if got := h.Get(); got != EnvLocal {
		t.Errorf("unset Get() = %v, want local", got)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, env := range []Environment{EnvDev, EnvStaging, EnvProd} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Set(env); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrEnvironmentAlreadySet) {
				t.Errorf("Set() error = %v", err)
			}
			_ = h.Get()
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("%d Set calls succeeded, want 1", succeeded)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTHSERVER_ISSUER", "https://auth.example.com")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != EnvLocal {
		t.Errorf("Environment = %v, want local", cfg.Environment)
	}
	if cfg.AccessTokenTTL != time.Hour || cfg.SweepInterval != 5*time.Minute {
		t.Errorf("ttl %v sweep %v, want 1h and 5m", cfg.AccessTokenTTL, cfg.SweepInterval)
	}
	if cfg.TrustProxy {
		t.Error("TrustProxy must default to false")
	}
	if cfg.LogClientIPs {
		t.Error("LogClientIPs must default to false")
	}
	if cfg.Database.Addr != "127.0.0.1:3306" || cfg.Log.Format != "text" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("AUTHSERVER_ENV", "staging")
	t.Setenv("AUTHSERVER_ISSUER", "https://auth.example.com")
	t.Setenv("AUTHSERVER_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("AUTHSERVER_RATE_LIMIT_RATE", "3")
	t.Setenv("AUTHSERVER_DATABASE_PASSWORD", "s3cret")
	t.Setenv("AUTHSERVER_METRICS_LOG_CLIENT_IPS", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Errorf("Environment = %v, want staging", cfg.Environment)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", cfg.AccessTokenTTL)
	}
	if cfg.RateLimitRate != 3 {
		t.Errorf("RateLimitRate = %d, want 3", cfg.RateLimitRate)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Database.Password not read from the environment")
	}
	if !cfg.LogClientIPs {
		t.Errorf("LogClientIPs not read from the environment")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authserver.yaml")
	content := "issuer: https://login.example.org\nsweep_interval: 30s\ndatabase:\n  name: oauth\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	v := NewViper()
	used, err := ReadFile(v, path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if used != path {
		t.Errorf("ReadFile() = %q, want %q", used, path)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Issuer != "https://login.example.org" || cfg.SweepInterval != 30*time.Second || cfg.Database.Name != "oauth" {
		t.Errorf("file values not applied: %+v", cfg)
	}

	if _, err := ReadFile(NewViper(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("ReadFile() with an explicit missing file succeeded")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing issuer", map[string]string{}},
		{"relative issuer", map[string]string{"AUTHSERVER_ISSUER": "/auth"}},
		{"http issuer in production", map[string]string{"AUTHSERVER_ISSUER": "http://auth.example.com", "AUTHSERVER_ENV": "prod"}},
		{"unknown environment", map[string]string{"AUTHSERVER_ISSUER": "https://auth.example.com", "AUTHSERVER_ENV": "qa"}},
		{"zero ttl", map[string]string{"AUTHSERVER_ISSUER": "https://auth.example.com", "AUTHSERVER_ACCESS_TOKEN_TTL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(NewViper()); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Addr: "db:3306", User: "auth", Password: "p@ss", Name: "oauth"}

	parsed, err := mysql.ParseDSN(d.DSN())
	if err != nil {
		t.Fatalf("ParseDSN() error = %v", err)
	}
	if parsed.Addr != "db:3306" || parsed.User != "auth" || parsed.Passwd != "p@ss" || parsed.DBName != "oauth" {
		t.Errorf("round-tripped config = %+v", parsed)
	}
	if !parsed.ParseTime {
		t.Error("ParseTime must be enabled")
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("json output = %q", out)
	}

	if _, err := (LogConfig{Level: "loud"}).NewLogger(&buf); err == nil {
		t.Error("invalid level accepted")
	}
	if _, err := (LogConfig{Level: "info", Format: "xml"}).NewLogger(&buf); err == nil {
		t.Error("invalid format accepted")
	}
}

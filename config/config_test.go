package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setTestAuth(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setTestAuth(t)
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StorageDriver != DriverTables || cfg.TasksTable != "Tasks" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.WSPingInterval != 30*time.Second || cfg.SessionSendBuffer != 64 {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.TestJWTSecret != "secret" {
		t.Fatalf("expected test secret, got %q", cfg.TestJWTSecret)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setTestAuth(t)
	t.Setenv("STORAGE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/board.db")
	t.Setenv("PORT", "9000")
	t.Setenv("DEBUG", "true")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SESSION_SEND_BUFFER", "8")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != DriverSQLite || cfg.SQLitePath != "/tmp/board.db" || cfg.Port != "9000" || !cfg.Debug {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.CacheTTL != 90*time.Second || cfg.SessionSendBuffer != 8 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromFile(t *testing.T) {
	setTestAuth(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage_driver: sqlite\nsqlite_path: file.db\nport: \"7000\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SQLitePath != "file.db" || cfg.Port != "7001" {
		t.Fatalf("expected file values with env precedence, got %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]map[string]string{
		"missing conn":     {"AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "s"},
		"missing auth":     {"STORAGE_CONNECTION_STRING": "x"},
		"test no secret":   {"STORAGE_CONNECTION_STRING": "x", "AUTH0_TEST_MODE": "1"},
		"bad local mode":   {"STORAGE_CONNECTION_STRING": "x", "LOCAL_AUTH_MODE": "rs512"},
		"bad duration":     {"STORAGE_CONNECTION_STRING": "x", "AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "s", "JWKS_CACHE_TTL": "soon"},
		"unknown driver":   {"STORAGE_DRIVER": "mongo", "AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "s"},
		"queue on sqlite":  {"STORAGE_DRIVER": "sqlite", "ACTIVITY_QUEUE": "q", "AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "s"},
		"channel no redis": {"STORAGE_CONNECTION_STRING": "x", "BROADCAST_CHANNEL": "c", "AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLocalAuthMode(t *testing.T) {
	t.Setenv("STORAGE_CONNECTION_STRING", "x")
	t.Setenv("LOCAL_AUTH_MODE", "HS256")
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "shared")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TestJWTSecret != "shared" {
		t.Fatalf("expected shared secret, got %q", cfg.TestJWTSecret)
	}
}

func TestIssuerAndJWKSURL(t *testing.T) {
	cfg := &Config{Auth0Domain: "tenant.auth0.com"}
	if cfg.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("unexpected issuer %s", cfg.Issuer())
	}
	if cfg.JWKSURL() != "https://tenant.auth0.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url %s", cfg.JWKSURL())
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	opts, err = RedisOptions("cache.example:6380,password=secret,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse conn string: %v", err)
	}
	if opts.Addr != "cache.example:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
